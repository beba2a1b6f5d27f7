// Package journal keeps a SQLite record of every completed transfer.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// Operation names recorded in the journal.
const (
	OpUpload   = "upload"
	OpTransfer = "transfer-upload"
	OpDownload = "download"
	OpDelete   = "delete"
)

// Entry is one completed transfer.
type Entry struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	User        string    `json:"user,omitempty"`
	Operation   string    `json:"operation"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	ETag        string    `json:"etag,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	LocalPath   string    `json:"local_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Journal appends and queries transfer entries.
type Journal struct {
	db *sql.DB
}

// initSchema applies all SQL files in the embedded migrations directory in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// Open opens (creating if needed) the journal database at dbPath.
func Open(ctx context.Context, dbPath string) (*Journal, error) {
	if dbPath == "" {
		return nil, errors.New("journal path must not be empty")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends e and returns its assigned id. A zero CreatedAt is replaced
// with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := j.db.ExecContext(ctx,
		`INSERT INTO transfers(request_id, user_name, operation, bucket, key, etag, size, content_type, local_path, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.User, e.Operation, e.Bucket, e.Key, e.ETag, e.Size, e.ContentType, e.LocalPath, e.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transfer: %w", err)
	}

	return res.LastInsertId()
}

const selectTransfers = `SELECT id, request_id, user_name, operation, bucket, key, etag, size, content_type, local_path, created_at FROM transfers`

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx, selectTransfers+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	return scanEntries(rows)
}

// ForKey returns every entry recorded for key, oldest first.
func (j *Journal) ForKey(ctx context.Context, key string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, selectTransfers+` WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("query transfers for key: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.User, &e.Operation, &e.Bucket, &e.Key, &e.ETag, &e.Size, &e.ContentType, &e.LocalPath, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

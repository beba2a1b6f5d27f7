package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"filedrop/internal/auth"
	"filedrop/internal/journal"
	"filedrop/internal/keys"
	"filedrop/internal/metrics"
	"filedrop/internal/storage"
)

// errBadRequest marks client input problems detected by the handlers
// themselves, such as a missing required parameter.
var errBadRequest = errors.New("bad request")

// TransferJournal records completed transfers.
type TransferJournal interface {
	Record(ctx context.Context, e journal.Entry) (int64, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	ForKey(ctx context.Context, key string) ([]journal.Entry, error)
}

// Server exposes the file transfer API over a single bucket.
type Server struct {
	Config Config
}

// NewServer validates cfg, fills in defaults and returns a new Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("an object store is required")
	}

	if cfg.Staging == nil {
		cfg.Staging = storage.NewStagingDir(DefaultDownloadDir)
	}

	if cfg.Observer == nil {
		cfg.Observer = metrics.Nop()
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.PublicURLBase == "" {
		cfg.PublicURLBase = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Store.Bucket())
	}
	cfg.PublicURLBase = strings.TrimSuffix(cfg.PublicURLBase, "/")

	if cfg.Transfer.StorageClass == "" {
		cfg.Transfer.StorageClass = DefaultStorageClass
	}

	return &Server{Config: cfg}, nil
}

// now returns the current time from the configured clock in UTC.
func (s *Server) now() time.Time {
	return s.Config.Clock().UTC()
}

// publicURL returns the informational URL of key.
func (s *Server) publicURL(key string) string {
	return s.Config.PublicURLBase + "/" + key
}

// observe reports the outcome of op to the metrics observer.
func (s *Server) observe(op string, start time.Time, bytes int64, err error) {
	s.Config.Observer.RecordOperation(op, time.Since(start), bytes, err)
}

// record appends a journal entry. Journal failures are logged and never fail
// the request that triggered them.
func (s *Server) record(ctx context.Context, e journal.Entry) {
	if s.Config.Journal == nil {
		return
	}

	e.RequestID = RequestIDFromContext(ctx)
	if user, ok := auth.UserFromContext(ctx); ok {
		e.User = user.Name
	}
	e.Bucket = s.Config.Store.Bucket()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	if _, err := s.Config.Journal.Record(ctx, e); err != nil {
		slog.Warn("Failed to record transfer", "operation", e.Operation, "key", e.Key, "error", err)
	}
}

// findByChecksumTag lists the whole bucket and scans it for targetTag,
// skipping folder marker keys.
func (s *Server) findByChecksumTag(ctx context.Context, targetTag string) (string, bool, error) {
	objects, err := s.Config.Store.ListObjects(ctx, "")
	if err != nil {
		return "", false, fmt.Errorf("list objects: %w", err)
	}

	listing := make([]string, 0, len(objects))
	for _, obj := range objects {
		// Folder markers have no file name to stage under.
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		listing = append(listing, obj.Key)
	}

	examined := 0
	fetch := func(ctx context.Context, key string) (string, error) {
		examined++
		return s.Config.Store.ChecksumTag(ctx, key)
	}

	key, found, err := keys.FindByChecksumTag(ctx, listing, targetTag, fetch)
	if err == nil {
		s.Config.Observer.RecordScan(examined, found)
	}

	slog.Debug("Checksum scan finished", "listed", len(listing), "examined", examined, "found", found, "key", key)
	return key, found, err
}

// stage downloads r into the staging directory under the final segment of
// key.
func (s *Server) stage(key string, r io.Reader) (string, int64, error) {
	return s.Config.Staging.Stage(keys.DeriveLocalFileName(key), r)
}

// statusForError maps err onto an HTTP status code.
func statusForError(err error) int {
	var maxBytesErr *http.MaxBytesError
	var fault *storage.StorageFault

	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, keys.ErrDecode),
		errors.Is(err, keys.ErrInvalidFilename),
		errors.Is(err, storage.ErrInvalidLocalName):
		return http.StatusBadRequest
	case errors.Is(err, keys.ErrFetchFault):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrTagMismatch):
		return http.StatusPreconditionFailed
	case errors.As(err, &fault):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeText writes a plain text response.
func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// writeError reports err as plain text, prefixing provider failures with
// "S3 Error:" and everything else with "Error:".
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)

	var fault *storage.StorageFault
	prefix := "Error: "
	if errors.As(err, &fault) {
		prefix = "S3 Error: "
	}

	if status >= http.StatusInternalServerError {
		slog.Error("Operation failed", "operation", op, "request_id", RequestIDFromContext(r.Context()), "status", status, "error", err)
	} else {
		slog.Debug("Operation rejected", "operation", op, "request_id", RequestIDFromContext(r.Context()), "status", status, "error", err)
	}

	writeText(w, status, prefix+err.Error()+"\n")
}

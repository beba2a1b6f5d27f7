package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"filedrop/internal/journal"
	"filedrop/internal/keys"
	"filedrop/internal/storage"
	"filedrop/internal/ui"

	"github.com/gabriel-vasile/mimetype"
)

const (
	multipartMemory    = 32 << 20
	defaultHistorySize = 50
	maxHistorySize     = 1000
)

// detectContentType returns the declared content type, or one sniffed from
// the leading bytes of f when the client declared none. f is rewound
// afterwards.
func detectContentType(declared string, f io.ReadSeeker) (string, error) {
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	return mtype.String(), nil
}

// handleUploadFile stores the multipart field "file" under a date
// partitioned key.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	if s.Config.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.Config.MaxUploadSize)
	}

	result, err := func() (storage.PutResult, error) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				return storage.PutResult{}, err
			}
			return storage.PutResult{}, fmt.Errorf("%w: parse multipart form: %v", errBadRequest, err)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			return storage.PutResult{}, fmt.Errorf("%w: form field \"file\": %v", errBadRequest, err)
		}
		defer file.Close()

		if err := keys.ValidateFilename(header.Filename); err != nil {
			return storage.PutResult{}, err
		}

		contentType, err := detectContentType(header.Header.Get("Content-Type"), file)
		if err != nil {
			return storage.PutResult{}, err
		}

		key := keys.BuildUploadKey(header.Filename, s.now())
		return s.Config.Store.PutObject(ctx, key, file, header.Size, contentType)
	}()

	s.observe(journal.OpUpload, start, result.Size, err)
	if err != nil {
		writeError(w, r, journal.OpUpload, err)
		return
	}

	slog.Info("File uploaded", "key", result.Key, "etag", result.ETag, "size", result.Size, "content_type", result.ContentType)
	s.record(ctx, journal.Entry{
		Operation:   journal.OpUpload,
		Key:         result.Key,
		ETag:        result.ETag,
		Size:        result.Size,
		ContentType: result.ContentType,
	})

	writePutResult(w, r, "File uploaded successfully! \n", result)
}

// handleDownloadFileByETag stages the object whose checksum tag equals
// eTagKey. With a key the provider checks the tag; without one the bucket is
// scanned for the first object carrying the tag.
func (s *Server) handleDownloadFileByETag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var key, localPath string
	var size int64

	err := func() error {
		tag := r.FormValue("eTagKey")
		if tag == "" {
			return fmt.Errorf("%w: eTagKey is required", errBadRequest)
		}

		if raw := r.FormValue("key"); raw != "" {
			decoded, err := keys.DecodeClientIdentifier(raw)
			if err != nil {
				return err
			}
			key = decoded
		} else {
			found, ok, err := s.findByChecksumTag(ctx, tag)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no object with checksum tag %s: %w", tag, storage.ErrObjectNotFound)
			}
			key = found
		}

		body, err := s.Config.Store.GetObjectIfMatch(ctx, key, tag)
		if err != nil {
			return err
		}
		defer body.Close()

		localPath, size, err = s.stage(key, body)
		return err
	}()

	s.observe(journal.OpDownload, start, size, err)
	if err != nil {
		writeError(w, r, journal.OpDownload, err)
		return
	}

	slog.Info("File downloaded", "key", key, "path", localPath, "size", size)
	s.record(ctx, journal.Entry{
		Operation: journal.OpDownload,
		Key:       key,
		Size:      size,
		LocalPath: localPath,
	})

	writeText(w, http.StatusOK, "File downloaded successfully! \n")
}

// handleTransferUpload uploads the configured local file through the
// multipart transfer manager.
func (s *Server) handleTransferUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	transfer := s.Config.Transfer

	result, err := func() (storage.PutResult, error) {
		if transfer.FilePath == "" {
			return storage.PutResult{}, errors.New("no transfer file is configured")
		}

		key := transfer.Key
		if raw := r.FormValue("key"); raw != "" {
			decoded, err := keys.DecodeClientIdentifier(raw)
			if err != nil {
				return storage.PutResult{}, err
			}
			key = decoded
		}
		if key == "" {
			key = filepath.Base(transfer.FilePath)
		}

		return s.Config.Store.UploadFile(ctx, key, transfer.FilePath, storage.TransferOptions{
			StorageClass: transfer.StorageClass,
			PartSize:     transfer.PartSize,
		})
	}()

	s.observe(journal.OpTransfer, start, result.Size, err)
	if err != nil {
		writeError(w, r, journal.OpTransfer, err)
		return
	}

	slog.Info("File transferred", "key", result.Key, "etag", result.ETag, "size", result.Size, "storage_class", result.StorageClass)
	s.record(ctx, journal.Entry{
		Operation:   journal.OpTransfer,
		Key:         result.Key,
		ETag:        result.ETag,
		Size:        result.Size,
		ContentType: result.ContentType,
		LocalPath:   transfer.FilePath,
	})

	writePutResult(w, r, "File uploaded successfully! \n", result)
}

// handleDownloadFile scans the bucket for the object carrying eTag (or the
// configured target tag) and stages it.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var key, localPath string
	var size int64

	err := func() error {
		tag := r.FormValue("eTag")
		if tag == "" {
			tag = s.Config.DownloadTargetTag
		}
		if tag == "" {
			return fmt.Errorf("%w: eTag is required when no target tag is configured", errBadRequest)
		}

		found, ok, err := s.findByChecksumTag(ctx, tag)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no object with checksum tag %s: %w", tag, storage.ErrObjectNotFound)
		}
		key = found

		body, err := s.Config.Store.GetObject(ctx, key)
		if err != nil {
			return err
		}
		defer body.Close()

		localPath, size, err = s.stage(key, body)
		return err
	}()

	s.observe(journal.OpDownload, start, size, err)
	if err != nil {
		writeError(w, r, journal.OpDownload, err)
		return
	}

	slog.Info("Found matching file", "key", key, "path", localPath, "size", size)
	s.record(ctx, journal.Entry{
		Operation: journal.OpDownload,
		Key:       key,
		Size:      size,
		LocalPath: localPath,
	})

	writeText(w, http.StatusOK, fmt.Sprintf("File downloaded successfully! \nKey: %s \n", key))
}

// handleDeleteFile removes the object named by the percent-encoded fileKey.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	fileKey := r.FormValue("fileKey")

	var key string
	err := func() error {
		if fileKey == "" {
			return fmt.Errorf("%w: fileKey is required", errBadRequest)
		}

		decoded, err := keys.DecodeClientIdentifier(fileKey)
		if err != nil {
			return err
		}
		key = decoded

		return s.Config.Store.DeleteObject(ctx, key)
	}()

	s.observe(journal.OpDelete, start, 0, err)
	if err != nil {
		writeError(w, r, journal.OpDelete, err)
		return
	}

	slog.Info("File deleted", "key", key)
	s.record(ctx, journal.Entry{
		Operation: journal.OpDelete,
		Key:       key,
	})

	writeText(w, http.StatusOK, fmt.Sprintf("File deleted successfully! \nURL: %s \n", s.publicURL(fileKey)))
}

// recentTransfers reads the journal according to the query parameters:
// "key" selects every entry of one percent-encoded key, oldest first;
// otherwise the newest "limit" entries are returned. A server without a
// journal reports no transfers.
func (s *Server) recentTransfers(r *http.Request) ([]journal.Entry, error) {
	query := r.URL.Query()

	limit := defaultHistorySize
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw)
		}
		limit = min(n, maxHistorySize)
	}

	var key string
	if raw := query.Get("key"); raw != "" {
		decoded, err := keys.DecodeClientIdentifier(raw)
		if err != nil {
			return nil, err
		}
		key = decoded
	}

	if s.Config.Journal == nil {
		return []journal.Entry{}, nil
	}

	if key != "" {
		return s.Config.Journal.ForKey(r.Context(), key)
	}
	return s.Config.Journal.Recent(r.Context(), limit)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.recentTransfers(r)
	if err != nil {
		writeError(w, r, "history", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		slog.Error("Failed to encode history", "error", err)
	}
}

func (s *Server) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	entries, err := s.recentTransfers(r)
	if err != nil {
		writeError(w, r, "history", err)
		return
	}

	transfers := make([]ui.Transfer, 0, len(entries))
	for _, e := range entries {
		transfers = append(transfers, ui.Transfer{
			Operation: e.Operation,
			Key:       e.Key,
			Size:      e.Size,
			User:      e.User,
			When:      e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.HistoryPage(transfers).Render(r.Context(), w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render history page: %v", err), http.StatusInternalServerError)
	}
}

// handleIndex renders every object in the bucket.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	objects, err := s.Config.Store.ListObjects(ctx, "")
	if err != nil {
		writeError(w, r, "list", err)
		return
	}

	uiObjects := make([]ui.Object, 0, len(objects))
	for _, obj := range objects {
		lastModified := ""
		if !obj.LastModified.IsZero() {
			lastModified = obj.LastModified.UTC().Format(time.RFC3339)
		}
		uiObjects = append(uiObjects, ui.Object{
			Key:          obj.Key,
			ETag:         obj.ETag,
			Size:         obj.Size,
			LastModified: lastModified,
			URL:          s.publicURL(obj.Key),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.ObjectsPage(s.Config.Store.Bucket(), uiObjects).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render objects page: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok\n")
}

// writePutResult writes message followed by the indented JSON form of
// result.
func writePutResult(w http.ResponseWriter, r *http.Request, message string, result storage.PutResult) {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		writeError(w, r, "encode", err)
		return
	}
	writeText(w, http.StatusOK, message+string(payload))
}

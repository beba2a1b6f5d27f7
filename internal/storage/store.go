package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrObjectNotFound matches a StorageFault caused by a missing key or bucket.
	ErrObjectNotFound = errors.New("object not found")

	// ErrTagMismatch matches a StorageFault caused by a failed If-Match
	// precondition.
	ErrTagMismatch = errors.New("checksum tag does not match")
)

// ObjectStore is the set of object storage operations the API relies on. All
// keys are relative to a single bucket fixed at construction.
type ObjectStore interface {
	// Bucket returns the name of the bucket the store operates on.
	Bucket() string

	// PutObject stores size bytes read from r under key.
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutResult, error)

	// UploadFile uploads the local file at filePath under key using the
	// provider's multipart transfer machinery.
	UploadFile(ctx context.Context, key string, filePath string, opts TransferOptions) (PutResult, error)

	// GetObject opens the payload stored under key.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// GetObjectIfMatch opens the payload stored under key only if its
	// checksum tag equals tag.
	GetObjectIfMatch(ctx context.Context, key string, tag string) (io.ReadCloser, error)

	// ListObjects returns every object whose key starts with prefix, in the
	// order the provider lists them.
	ListObjects(ctx context.Context, prefix string) ([]ObjectSummary, error)

	// ChecksumTag fetches the quoted checksum tag (ETag) of key.
	ChecksumTag(ctx context.Context, key string) (string, error)

	// DeleteObject removes key.
	DeleteObject(ctx context.Context, key string) error
}

// ObjectSummary is a single entry of an object listing.
type ObjectSummary struct {
	Key          string    `json:"key"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// PutResult describes a completed upload as reported by the provider.
type PutResult struct {
	Bucket         string    `json:"bucket"`
	Key            string    `json:"key"`
	ETag           string    `json:"etag"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"content_type,omitempty"`
	StorageClass   string    `json:"storage_class,omitempty"`
	VersionID      string    `json:"version_id,omitempty"`
	LastModified   time.Time `json:"last_modified,omitzero"`
	Location       string    `json:"location,omitempty"`
	ChecksumCRC32  string    `json:"checksum_crc32,omitempty"`
	ChecksumCRC32C string    `json:"checksum_crc32c,omitempty"`
	ChecksumSHA256 string    `json:"checksum_sha256,omitempty"`
}

// TransferOptions tunes a transfer manager upload.
type TransferOptions struct {
	ContentType  string
	StorageClass string
	PartSize     uint64
}

// StorageFault wraps an error returned by the storage provider.
type StorageFault struct {
	Op         string
	Key        string
	Code       string
	StatusCode int
	Err        error
}

func (e *StorageFault) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Key, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// Is reports whether the fault falls into one of the well known classes.
func (e *StorageFault) Is(target error) bool {
	switch target {
	case ErrObjectNotFound:
		return e.Code == "NoSuchKey" || e.Code == "NoSuchBucket"
	case ErrTagMismatch:
		return e.Code == "PreconditionFailed"
	}
	return false
}

// QuoteTag returns tag in its quoted wire form.
func QuoteTag(tag string) string {
	if tag == "" {
		return ""
	}
	return `"` + unquoteTag(tag) + `"`
}

func unquoteTag(tag string) string {
	if len(tag) >= 2 && tag[0] == '"' && tag[len(tag)-1] == '"' {
		return tag[1 : len(tag)-1]
	}
	return tag
}

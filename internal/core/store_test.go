package core_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"filedrop/internal/storage"
)

type memObject struct {
	data         []byte
	etag         string
	contentType  string
	storageClass string
	partSize     uint64
}

// memStore is an in-memory storage.ObjectStore.
type memStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]memObject

	tagCalls  []string
	tagErrs   map[string]error
	listErr   error
	deleteErr error
}

func newMemStore(bucket string) *memStore {
	return &memStore{
		bucket:  bucket,
		objects: map[string]memObject{},
		tagErrs: map[string]error{},
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// seed stores data under key and returns its quoted checksum tag.
func (m *memStore) seed(key string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj := memObject{data: data, etag: etagOf(data), contentType: "application/octet-stream"}
	m.objects[key] = obj
	return obj.etag
}

func (m *memStore) object(key string) (memObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *memStore) checksumCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tagCalls...)
}

func (m *memStore) failTag(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tagErrs[key] = err
}

func notFound(op string, key string) error {
	return &storage.StorageFault{Op: op, Key: key, Code: "NoSuchKey", StatusCode: http.StatusNotFound, Err: io.EOF}
}

func (m *memStore) Bucket() string {
	return m.bucket
}

func (m *memStore) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (storage.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.PutResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj := memObject{data: data, etag: etagOf(data), contentType: contentType}
	m.objects[key] = obj

	return storage.PutResult{
		Bucket:       m.bucket,
		Key:          key,
		ETag:         obj.etag,
		Size:         int64(len(data)),
		ContentType:  contentType,
		LastModified: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (m *memStore) UploadFile(ctx context.Context, key string, filePath string, opts storage.TransferOptions) (storage.PutResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return storage.PutResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj := memObject{
		data:         data,
		etag:         etagOf(data),
		contentType:  opts.ContentType,
		storageClass: opts.StorageClass,
		partSize:     opts.PartSize,
	}
	m.objects[key] = obj

	return storage.PutResult{
		Bucket:       m.bucket,
		Key:          key,
		ETag:         obj.etag,
		Size:         int64(len(data)),
		StorageClass: opts.StorageClass,
	}, nil
}

func (m *memStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, notFound("GetObject", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *memStore) GetObjectIfMatch(ctx context.Context, key string, tag string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, notFound("GetObject", key)
	}
	if storage.QuoteTag(tag) != obj.etag {
		return nil, &storage.StorageFault{
			Op:         "GetObject",
			Key:        key,
			Code:       "PreconditionFailed",
			StatusCode: http.StatusPreconditionFailed,
			Err:        io.EOF,
		}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *memStore) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]storage.ObjectSummary, 0, len(keys))
	for _, k := range keys {
		obj := m.objects[k]
		out = append(out, storage.ObjectSummary{
			Key:          k,
			ETag:         obj.etag,
			Size:         int64(len(obj.data)),
			LastModified: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return out, nil
}

func (m *memStore) ChecksumTag(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tagCalls = append(m.tagCalls, key)
	if err, ok := m.tagErrs[key]; ok {
		return "", err
	}

	obj, ok := m.objects[key]
	if !ok {
		return "", notFound("StatObject", key)
	}
	return obj.etag, nil
}

func (m *memStore) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

var _ storage.ObjectStore = (*memStore)(nil)

// Package s3test provides an in-memory S3 endpoint for exercising
// storage.MinioStore in tests.
package s3test

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"filedrop/internal/storage"

	"github.com/stretchr/testify/require"
)

const s3XMLNamespace = "http://s3.amazonaws.com/doc/2006-03-01/"

// ListBucketResultV2 represents the XML response for the S3 ListObjectsV2
// API.
type ListBucketResultV2 struct {
	XMLName     xml.Name        `xml:"ListBucketResult"`
	XMLNS       string          `xml:"xmlns,attr"`
	Name        string          `xml:"Name"`
	Prefix      string          `xml:"Prefix"`
	KeyCount    int             `xml:"KeyCount"`
	MaxKeys     int             `xml:"MaxKeys"`
	IsTruncated bool            `xml:"IsTruncated"`
	Contents    []ObjectSummary `xml:"Contents"`
}

// ObjectSummary is a single entry in a ListBucketResult.
type ObjectSummary struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type S3Error struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource"`
}

// Object is a stored object. ETag is kept without quotes.
type Object struct {
	Data         []byte
	ETag         string
	ContentType  string
	StorageClass string
	ModifiedAt   time.Time
}

// Server is a tiny in-memory S3 endpoint covering the calls MinioStore makes.
type Server struct {
	mu      sync.Mutex
	buckets map[string]map[string]Object

	// headStatus forces HEAD requests for a key to fail with the given status.
	headStatus map[string]int
	headCalls  []string
}

func NewServer() *Server {
	return &Server{
		buckets:    map[string]map[string]Object{},
		headStatus: map[string]int{},
	}
}

// Seed stores data under bucket/key and returns its unquoted ETag.
func (f *Server) Seed(bucket string, key string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string]Object{}
	}

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	f.buckets[bucket][key] = Object{
		Data:        data,
		ETag:        etag,
		ContentType: "application/octet-stream",
		ModifiedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	return etag
}

func (f *Server) Object(bucket string, key string) (Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	return obj, ok
}

// HeadRequests returns the keys of every object HEAD request, in order.
func (f *Server) HeadRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.headCalls...)
}

func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

// FailHead makes every HEAD request for key answer with status.
func (f *Server) FailHead(key string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headStatus[key] = status
}

// DropBucket removes bucket and everything in it.
func (f *Server) DropBucket(bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets, bucket)
}

// HasBucket reports whether bucket exists.
func (f *Server) HasBucket(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok
}

func (f *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clean := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(clean, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	objects, bucketExists := f.buckets[bucket]

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !bucketExists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			if !bucketExists {
				f.buckets[bucket] = map[string]Object{}
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if !bucketExists {
				writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
				return
			}
			f.listObjects(w, r, bucket, objects)
		default:
			writeS3Error(w, "NotImplemented", "not implemented", r.URL.Path, http.StatusNotImplemented)
		}
		return
	}

	if !bucketExists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := readPayload(r)
		if err != nil {
			writeS3Error(w, "InvalidRequest", err.Error(), r.URL.Path, http.StatusBadRequest)
			return
		}
		sum := md5.Sum(data)
		obj := Object{
			Data:         data,
			ETag:         hex.EncodeToString(sum[:]),
			ContentType:  r.Header.Get("Content-Type"),
			StorageClass: r.Header.Get("X-Amz-Storage-Class"),
			ModifiedAt:   time.Now().UTC(),
		}
		objects[key] = obj
		w.Header().Set("ETag", `"`+obj.ETag+`"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodHead:
		f.headCalls = append(f.headCalls, key)
		if status, ok := f.headStatus[key]; ok {
			w.WriteHeader(status)
			return
		}
		obj, ok := objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// HEAD responses carry no body; the client derives the error code
		// from the status.
		if !matchesTag(r, obj) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		writeObjectHeaders(w, obj)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		obj, ok := objects[key]
		if !ok {
			writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
			return
		}
		if !matchesTag(r, obj) {
			writeS3Error(w, "PreconditionFailed", "At least one of the pre-conditions you specified did not hold", r.URL.Path, http.StatusPreconditionFailed)
			return
		}
		writeObjectHeaders(w, obj)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.Data)

	case http.MethodDelete:
		delete(objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeS3Error(w, "NotImplemented", "not implemented", r.URL.Path, http.StatusNotImplemented)
	}
}

// matchesTag reports whether the If-Match precondition of r, if any, holds
// for obj.
func matchesTag(r *http.Request, obj Object) bool {
	match := r.Header.Get("If-Match")
	return match == "" || strings.Trim(match, `"`) == obj.ETag
}

func writeObjectHeaders(w http.ResponseWriter, obj Object) {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Last-Modified", obj.ModifiedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	w.Header().Set("Accept-Ranges", "bytes")
}

func (f *Server) listObjects(w http.ResponseWriter, r *http.Request, bucket string, objects map[string]Object) {
	prefix := r.URL.Query().Get("prefix")

	keys := make([]string, 0, len(objects))
	for k := range objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	resp := ListBucketResultV2{
		XMLNS:    s3XMLNamespace,
		Name:     bucket,
		Prefix:   prefix,
		KeyCount: len(keys),
		MaxKeys:  1000,
	}
	for _, k := range keys {
		obj := objects[k]
		resp.Contents = append(resp.Contents, ObjectSummary{
			Key:          k,
			LastModified: obj.ModifiedAt.UTC().Format(time.RFC3339),
			ETag:         `"` + obj.ETag + `"`,
			Size:         int64(len(obj.Data)),
			StorageClass: "STANDARD",
		})
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(resp)
}

// readPayload returns the object bytes of a PUT, undoing the aws-chunked
// framing minio-go uses for streaming signatures over plain HTTP.
func readPayload(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}

	br := bufio.NewReader(r.Body)
	var out []byte
	for {
		// Each chunk begins with: <size-hex>[;extensions]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chunk size %q: %w", line, err)
		}
		if size == 0 {
			return out, nil
		}

		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, fmt.Errorf("read chunk body: %w", err)
		}
		out = append(out, chunk...)

		if _, err := br.Discard(2); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read chunk terminator: %w", err)
		}
	}
}

// NewStore starts a fake S3 endpoint holding bucket and returns a MinioStore
// pointed at it. The endpoint is shut down when the test ends.
func NewStore(t testing.TB, bucket string) (*storage.MinioStore, *Server) {
	t.Helper()

	fake := NewServer()
	fake.buckets[bucket] = map[string]Object{}

	httpSrv := httptest.NewServer(fake)
	t.Cleanup(httpSrv.Close)

	u, err := url.Parse(httpSrv.URL)
	require.NoError(t, err, "parse test server URL")

	store, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  u.Host,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
		Bucket:    bucket,
	})
	require.NoError(t, err, "NewMinioStore error")

	return store, fake
}

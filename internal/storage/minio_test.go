package storage_test

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"filedrop/internal/storage"
	"filedrop/internal/storage/s3test"

	"github.com/stretchr/testify/require"
)

const testBucket = "test-bucket"

func TestMinioStorePutObject(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)
	body := []byte("hello world")

	res, err := store.PutObject(t.Context(), "01/05/2024/report.txt", bytes.NewReader(body), int64(len(body)), "text/plain")
	require.NoError(t, err, "PutObject error")
	require.Equal(t, testBucket, res.Bucket)
	require.Equal(t, "01/05/2024/report.txt", res.Key)
	require.Equal(t, "text/plain", res.ContentType)

	obj, ok := fake.Object(testBucket, "01/05/2024/report.txt")
	require.True(t, ok, "object should be stored")
	require.Equal(t, body, obj.Data, "payload mismatch")
	require.Equal(t, storage.QuoteTag(obj.ETag), res.ETag, "etag should be quoted")
}

func TestMinioStoreUploadFile(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)

	filePath := filepath.Join(t.TempDir(), "Image1.png")
	payload := bytes.Repeat([]byte("png"), 1024)
	require.NoError(t, os.WriteFile(filePath, payload, 0o644))

	res, err := store.UploadFile(t.Context(), "Image1.png", filePath, storage.TransferOptions{
		StorageClass: "STANDARD_IA",
		PartSize:     5 * 1024 * 1024,
	})
	require.NoError(t, err, "UploadFile error")
	require.Equal(t, "STANDARD_IA", res.StorageClass)

	obj, ok := fake.Object(testBucket, "Image1.png")
	require.True(t, ok, "object should be stored")
	require.Equal(t, payload, obj.Data)
	require.Equal(t, "STANDARD_IA", obj.StorageClass)
}

func TestMinioStoreGetObject(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)
	fake.Seed(testBucket, "a/b.txt", []byte("contents"))

	rc, err := store.GetObject(t.Context(), "a/b.txt")
	require.NoError(t, err, "GetObject error")
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "contents", string(got))
}

func TestMinioStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	store, _ := s3test.NewStore(t, testBucket)

	_, err := store.GetObject(t.Context(), "missing.txt")
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	var fault *storage.StorageFault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, "NoSuchKey", fault.Code)
	require.Equal(t, http.StatusNotFound, fault.StatusCode)
}

func TestMinioStoreGetObjectIfMatch(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)
	etag := fake.Seed(testBucket, "img.png", []byte("image bytes"))

	// Quoted and bare tags are both accepted.
	for _, tag := range []string{etag, storage.QuoteTag(etag)} {
		rc, err := store.GetObjectIfMatch(t.Context(), "img.png", tag)
		require.NoErrorf(t, err, "GetObjectIfMatch(%q) error", tag)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		require.Equal(t, "image bytes", string(got))
	}

	_, err := store.GetObjectIfMatch(t.Context(), "img.png", `"0000"`)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrTagMismatch)
	require.NotErrorIs(t, err, storage.ErrObjectNotFound)

	var fault *storage.StorageFault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, http.StatusPreconditionFailed, fault.StatusCode)
	require.Contains(t, fake.HeadRequests(), "img.png", "the precondition is checked on the first round trip")
}

func TestMinioStoreListObjects(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)
	etagA := fake.Seed(testBucket, "01/05/2024/a.txt", []byte("a"))
	fake.Seed(testBucket, "01/05/2024/b.txt", []byte("bb"))
	fake.Seed(testBucket, "other/c.txt", []byte("ccc"))

	all, err := store.ListObjects(t.Context(), "")
	require.NoError(t, err, "ListObjects error")
	require.Len(t, all, 3)
	require.Equal(t, "01/05/2024/a.txt", all[0].Key)
	require.Equal(t, storage.QuoteTag(etagA), all[0].ETag)
	require.Equal(t, int64(1), all[0].Size)

	scoped, err := store.ListObjects(t.Context(), "01/05/2024/")
	require.NoError(t, err)
	require.Len(t, scoped, 2)
}

func TestMinioStoreChecksumTag(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)
	etag := fake.Seed(testBucket, "x.bin", []byte{1, 2, 3})

	tag, err := store.ChecksumTag(t.Context(), "x.bin")
	require.NoError(t, err)
	require.Equal(t, `"`+etag+`"`, tag)
	require.Equal(t, []string{"x.bin"}, fake.HeadRequests(), "one metadata round trip per call")

	_, err = store.ChecksumTag(t.Context(), "nope.bin")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	fake.FailHead("denied.bin", http.StatusForbidden)

	_, err = store.ChecksumTag(t.Context(), "denied.bin")
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrObjectNotFound, "access errors must not look like absence")

	var fault *storage.StorageFault
	require.ErrorAs(t, err, &fault)
	require.Equal(t, "AccessDenied", fault.Code)
}

func TestMinioStoreDeleteObject(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)
	fake.Seed(testBucket, "01/05/2024/report.pdf", []byte("pdf"))

	require.NoError(t, store.DeleteObject(t.Context(), "01/05/2024/report.pdf"))

	_, ok := fake.Object(testBucket, "01/05/2024/report.pdf")
	require.False(t, ok, "object should be removed")
}

func TestMinioStoreEnsureBucket(t *testing.T) {
	t.Parallel()

	store, fake := s3test.NewStore(t, testBucket)

	fake.DropBucket(testBucket)

	require.NoError(t, store.EnsureBucket(t.Context(), "us-east-1"))

	exists := fake.HasBucket(testBucket)
	require.True(t, exists, "bucket should be created")

	// A second call is a no-op.
	require.NoError(t, store.EnsureBucket(t.Context(), "us-east-1"))
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := storage.NewMinioStore(storage.MinioConfig{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

func TestQuoteTag(t *testing.T) {
	t.Parallel()

	require.Equal(t, `"abc"`, storage.QuoteTag("abc"))
	require.Equal(t, `"abc"`, storage.QuoteTag(`"abc"`))
	require.Equal(t, "", storage.QuoteTag(""))
}

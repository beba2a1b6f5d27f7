package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

const (
	ObjectName    = "example.txt"
	ObjectContent = "Hello from the filedrop example!\n"
)

// Client talks to a running filedrop server.
type Client struct {
	BaseURL  string
	User     string
	Password string
	HTTP     *http.Client
}

func (c *Client) do(ctx context.Context, method string, path string, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(payload)))
	}
	return string(payload), nil
}

func (c *Client) postForm(ctx context.Context, operation string, values url.Values) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/UploadFile/"+operation, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
}

// UploadResult is the part of an upload response the example relies on.
type UploadResult struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
}

// UploadFile uploads content as filename and returns the stored key and tag.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte) (UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := part.Write(content); err != nil {
		return UploadResult{}, err
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, err
	}

	body, err := c.do(ctx, http.MethodPost, "/api/UploadFile/UploadFile", mw.FormDataContentType(), &buf)
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to upload %q: %w", filename, err)
	}

	var result UploadResult
	_, payload, _ := strings.Cut(body, "\n")
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return UploadResult{}, fmt.Errorf("failed to decode upload response: %w", err)
	}

	slog.Info("Uploaded file", "key", result.Key, "etag", result.ETag)
	return result, nil
}

// ListBucketObjects lists all objects in the bucket directly through the S3
// endpoint filedrop writes to.
func ListBucketObjects(ctx context.Context, client *minio.Client, bucketName string) error {
	slog.Info("Objects in bucket", "bucket", bucketName)
	for objectInfo := range client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if objectInfo.Err != nil {
			return fmt.Errorf("failed to list objects in bucket %q: %w", bucketName, objectInfo.Err)
		}
		slog.Info("Object in bucket", "key", objectInfo.Key, "size", objectInfo.Size, "etag", objectInfo.ETag)
	}
	return nil
}

func Run(ctx context.Context, c *Client, s3 *minio.Client, bucket string) error {
	// 1. Upload an example.txt file.
	uploaded, err := c.UploadFile(ctx, ObjectName, []byte(ObjectContent))
	if err != nil {
		return err
	}

	// 2. List the contents of the bucket behind the API.
	if s3 != nil {
		if err := ListBucketObjects(ctx, s3, bucket); err != nil {
			return fmt.Errorf("failed to list bucket objects: %w", err)
		}
	}

	// 3. Download it by key and checksum tag.
	if _, err := c.postForm(ctx, "DownloadFileByETag", url.Values{
		"eTagKey": {uploaded.ETag},
		"key":     {url.QueryEscape(uploaded.Key)},
	}); err != nil {
		return fmt.Errorf("failed to download by tag: %w", err)
	}
	slog.Info("Downloaded file by key and tag", "key", uploaded.Key)

	// 4. Find it again by scanning the bucket for its tag.
	msg, err := c.postForm(ctx, "DownloadFile", url.Values{"eTag": {uploaded.ETag}})
	if err != nil {
		return fmt.Errorf("failed to download by scan: %w", err)
	}
	slog.Info("Downloaded file by scan", "response", strings.TrimSpace(msg))

	// 5. Delete it.
	msg, err = c.postForm(ctx, "DeleteFileAsync", url.Values{"fileKey": {url.QueryEscape(uploaded.Key)}})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	slog.Info("Deleted file", "response", strings.TrimSpace(msg))

	// 6. Show what the server recorded for the example file.
	history, err := c.do(ctx, http.MethodGet, "/api/UploadFile/History?key="+url.QueryEscape(url.QueryEscape(uploaded.Key)), "", nil)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	fmt.Println(history)

	return nil
}

func main() {
	c := &Client{
		BaseURL:  strings.TrimSuffix(getenv("FILEDROP_URL", "http://localhost:8080"), "/"),
		User:     getenv("API_USER", ""),
		Password: getenv("API_PASSWORD", ""),
		HTTP:     &http.Client{Timeout: time.Minute},
	}

	var s3 *minio.Client
	bucket := getenv("S3_BUCKET", "")
	if bucket != "" {
		client, err := minio.New(getenv("S3_ENDPOINT", "localhost:9000"), &minio.Options{
			Creds:  credentials.NewStaticV4(getenv("S3_ACCESS_KEY", "minioadmin"), getenv("S3_SECRET_KEY", "minioadmin"), ""),
			Secure: getenv("S3_USE_SSL", "false") == "true",
		})
		if err != nil {
			slog.Error("failed to create MinIO client", "err", err)
			os.Exit(1)
		}
		s3 = client
	}

	if err := Run(context.Background(), c, s3, bucket); err != nil {
		slog.Error("error running example", "err", err)
		os.Exit(1)
	}
}

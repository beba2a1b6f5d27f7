package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"filedrop/internal/auth"
	"filedrop/internal/core"
	"filedrop/internal/journal"
	"filedrop/internal/metrics"
	"filedrop/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key string, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getenvUint(key string, fallback uint64) uint64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getenvInt(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func Run(ctx context.Context) error {

	// A missing .env is fine; the environment and flags still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	listen := flag.String("listen", getenv("FILEDROP_LISTEN", ":8080"), "HTTP listen address")
	logLevel := flag.String("log-level", getenv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	endpoint := flag.String("s3-endpoint", getenv("S3_ENDPOINT", "localhost:9000"), "S3 endpoint host[:port]")
	accessKey := flag.String("s3-access-key", getenv("S3_ACCESS_KEY", "minioadmin"), "S3 access key")
	secretKey := flag.String("s3-secret-key", getenv("S3_SECRET_KEY", "minioadmin"), "S3 secret key")
	bucket := flag.String("s3-bucket", getenv("S3_BUCKET", ""), "bucket holding uploaded files")
	region := flag.String("s3-region", getenv("S3_REGION", "us-east-1"), "bucket region")
	useSSL := flag.Bool("s3-use-ssl", getenvBool("S3_USE_SSL", false), "use HTTPS to reach the S3 endpoint")
	createBucket := flag.Bool("s3-create-bucket", getenvBool("S3_CREATE_BUCKET", false), "create the bucket on startup if missing")

	publicURL := flag.String("public-url", getenv("PUBLIC_URL_BASE", ""), "base URL reported for stored objects (default https://<bucket>.s3.amazonaws.com)")
	downloadDir := flag.String("download-dir", getenv("DOWNLOAD_DIR", core.DefaultDownloadDir), "directory downloaded files are staged in")
	targetTag := flag.String("download-target-etag", getenv("DOWNLOAD_TARGET_ETAG", ""), "checksum tag DownloadFile looks for when none is given")

	transferFile := flag.String("transfer-file", getenv("TRANSFER_FILE_PATH", ""), "local file uploaded by the transfer manager endpoint")
	transferKey := flag.String("transfer-key", getenv("TRANSFER_KEY", ""), "key the transfer file is stored under (default: its file name)")
	transferClass := flag.String("transfer-storage-class", getenv("TRANSFER_STORAGE_CLASS", core.DefaultStorageClass), "storage class of transfer uploads")
	transferPartSize := flag.Uint64("transfer-part-size", getenvUint("TRANSFER_PART_SIZE", 0), "multipart part size in bytes (0 lets the client choose)")

	maxUpload := flag.Int64("max-upload-size", getenvInt("MAX_UPLOAD_SIZE", 0), "maximum UploadFile request size in bytes (0 is unlimited)")
	journalPath := flag.String("journal", getenv("JOURNAL_PATH", ""), "SQLite transfer journal path (empty disables the journal)")
	apiUser := flag.String("api-user", getenv("API_USER", ""), "username required for API access (empty disables authentication)")
	apiPassword := flag.String("api-password", getenv("API_PASSWORD", ""), "password required for API access")
	apiUsers := flag.String("api-users", getenv("API_USERS", ""), "additional comma separated user:password pairs accepted for API access")

	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	store, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  *endpoint,
		AccessKey: *accessKey,
		SecretKey: *secretKey,
		Region:    *region,
		Bucket:    *bucket,
		UseSSL:    *useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	if *createBucket {
		if err := store.EnsureBucket(ctx, *region); err != nil {
			return fmt.Errorf("failed to ensure bucket: %w", err)
		}
	}

	absDownloadDir, err := filepath.Abs(*downloadDir)
	if err != nil {
		return fmt.Errorf("failed to resolve download directory: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observer, err := metrics.NewPrometheusObserver("filedrop", registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	opts := []core.ConfigOption{
		core.WithStore(store),
		core.WithStagingDir(absDownloadDir),
		core.WithMetrics(observer, registry),
		core.WithPublicURLBase(*publicURL),
		core.WithDownloadTargetTag(*targetTag),
		core.WithMaxUploadSize(*maxUpload),
		core.WithTransfer(core.TransferConfig{
			FilePath:     *transferFile,
			Key:          *transferKey,
			StorageClass: *transferClass,
			PartSize:     *transferPartSize,
		}),
	}

	if *journalPath != "" {
		j, err := journal.Open(ctx, *journalPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()

		opts = append(opts, core.WithJournal(j))
	}

	var engines []auth.AuthEngine
	if *apiUser != "" {
		engines = append(engines, auth.NewBasicAuthEngine(*apiUser, *apiPassword))
	}
	if *apiUsers != "" {
		extra, err := auth.ParseBasicCredentials(*apiUsers)
		if err != nil {
			return fmt.Errorf("invalid -api-users: %w", err)
		}
		engines = append(engines, extra)
	}

	if len(engines) > 0 {
		opts = append(opts, core.WithAuthEngine(auth.NewCompoundAuthEngine(engines...)))
	} else {
		slog.Warn("API authentication is disabled")
	}

	server, err := core.NewServer(core.NewConfig(opts...))
	if err != nil {
		return fmt.Errorf("failed to create filedrop server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Filedrop HTTP server", "listen", *listen, "endpoint", *endpoint, "bucket", store.Bucket())
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Filedrop Started", "download_dir", absDownloadDir, "journal", *journalPath)
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Filedrop exited with error", "error", err)
		os.Exit(1)
	}
}

package core

import (
	"time"

	"filedrop/internal/auth"
	"filedrop/internal/metrics"
	"filedrop/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultStorageClass = "STANDARD_IA"
	DefaultDownloadDir  = "downloads"
)

// TransferConfig describes the local file uploaded by the transfer manager
// endpoint.
type TransferConfig struct {
	FilePath     string
	Key          string
	StorageClass string
	PartSize     uint64
}

type Config struct {
	Store             storage.ObjectStore
	Staging           *storage.StagingDir
	Journal           TransferJournal
	Observer          metrics.Observer
	Gatherer          prometheus.Gatherer
	Authenticator     auth.AuthEngine
	Clock             func() time.Time
	PublicURLBase     string
	DownloadTargetTag string
	Transfer          TransferConfig
	MaxUploadSize     int64
}

type ConfigOption func(*Config)

func WithStore(store storage.ObjectStore) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func WithStagingDir(dir string) ConfigOption {
	return func(cfg *Config) {
		cfg.Staging = storage.NewStagingDir(dir)
	}
}

func WithJournal(j TransferJournal) ConfigOption {
	return func(cfg *Config) {
		cfg.Journal = j
	}
}

// WithMetrics sets the observer fed by every operation and the gatherer
// exposed on /metrics.
func WithMetrics(observer metrics.Observer, gatherer prometheus.Gatherer) ConfigOption {
	return func(cfg *Config) {
		cfg.Observer = observer
		cfg.Gatherer = gatherer
	}
}

func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

func WithClock(clock func() time.Time) ConfigOption {
	return func(cfg *Config) {
		cfg.Clock = clock
	}
}

func WithPublicURLBase(base string) ConfigOption {
	return func(cfg *Config) {
		cfg.PublicURLBase = base
	}
}

func WithDownloadTargetTag(tag string) ConfigOption {
	return func(cfg *Config) {
		cfg.DownloadTargetTag = tag
	}
}

func WithTransfer(transfer TransferConfig) ConfigOption {
	return func(cfg *Config) {
		cfg.Transfer = transfer
	}
}

// WithMaxUploadSize caps the request body accepted by UploadFile. Zero means
// unlimited.
func WithMaxUploadSize(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadSize = n
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers defaults, an optional .env file, an optional YAML file and
//   MJOLNIR_ environment variables, then validates the result.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"context"
	"runtime"
	"time"
)

// Supported catalog drivers.
const (
	CatalogMemory = "memory"
	CatalogSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StorageRoot is the directory holding one sub-directory per throw.
	// It is also served read-only under MediaPrefix.
	StorageRoot string `koanf:"storage_root"`

	// PlaceholderImage is copied as every frame of a dummy throw.
	PlaceholderImage string `koanf:"placeholder_image"`

	// MediaPrefix is the URL path the storage root is mounted at.
	MediaPrefix string `koanf:"media_prefix"`

	// CatalogDriver selects the catalog backend: memory or sqlite.
	CatalogDriver string `koanf:"catalog_driver"`

	// CatalogDSN is the sqlite data source, e.g. "file:/data/catalog.db".
	CatalogDSN string `koanf:"catalog_dsn"`

	// QueueSize bounds the in-memory ingest queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of publish workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many throw ids the ingest path remembers.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxListLimit caps GET /api/throws?limit.
	MaxListLimit int `koanf:"max_list_limit"`

	// MaxUploadBytes caps the body of POST /api/throws.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// RedocBundle is an optional path to redoc.standalone.js. When set,
	// /api-docs serves it instead of loading ReDoc from its CDN.
	RedocBundle string `koanf:"redoc_bundle"`

	// MetricsEnabled turns Prometheus recording on or off.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNamespace and MetricsSubsystem prefix every metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`

	// MetricsRefreshInterval is how often polled gauges (queue, workers,
	// stream clients, runtime) are refreshed.
	MetricsRefreshInterval time.Duration `koanf:"metrics_refresh_interval"`

	// MetricsBuckets overrides the latency histogram buckets, in milliseconds.
	MetricsBuckets []float64 `koanf:"metrics_buckets"`

	// MetricsLabels are constant labels added to every metric.
	MetricsLabels map[string]string `koanf:"metrics_labels"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		StorageRoot:      "/data",
		PlaceholderImage: "assets/placeholder.jpg",
		MediaPrefix:      "/media",
		CatalogDriver:    CatalogMemory,
		QueueSize:        1_024,
		WorkerCount:      runtime.NumCPU(),
		DedupeSize:       10_000,
		MaxListLimit:     100,
		MaxUploadBytes:   32 << 20,

		MetricsEnabled:         true,
		MetricsNamespace:       "mjolnir",
		MetricsSubsystem:       "throws",
		MetricsRefreshInterval: 10 * time.Second,
	}
}

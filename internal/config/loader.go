package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that steer loading itself.
const (
	envPrefix     = "MJOLNIR_"
	envConfigFile = "MJOLNIR_CONFIG"
	envDotenvFile = "MJOLNIR_DOTENV"
	defaultDotenv = ".env"
)

// Load builds a Config by layering defaults, optional files, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. .env file (MJOLNIR_DOTENV, default ".env") if it exists
//  3. YAML file if MJOLNIR_CONFIG is set
//  4. env (prefix MJOLNIR_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	dotenv, err := readDotenv()
	if err != nil {
		return nil, err
	}
	for key, val := range dotenv {
		if !strings.HasPrefix(key, envPrefix) || key == envConfigFile || key == envDotenvFile {
			continue
		}
		if err := k.Set(envKey(key), val); err != nil {
			return nil, fmt.Errorf("%w: dotenv %s: %w", ErrLoadConfig, key, err)
		}
	}

	path := os.Getenv(envConfigFile)
	if path == "" {
		path = dotenv[envConfigFile]
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: file %s: %w", ErrLoadConfig, path, err)
		}
	}

	// MJOLNIR_STORAGE_ROOT -> storage_root; underscores are kept to match
	// the flat koanf tags.
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(s)
	return strings.TrimPrefix(s, strings.ToLower(envPrefix))
}

// readDotenv returns the variables of the .env file. A missing default file
// is not an error; a missing explicitly named file is.
func readDotenv() (map[string]string, error) {
	path, explicit := os.LookupEnv(envDotenvFile)
	if !explicit || path == "" {
		path = defaultDotenv
		explicit = false
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: dotenv %s: %w", ErrLoadConfig, path, err)
	}
	return vars, nil
}

// Validate checks field values and that the configured files exist.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StorageRoot == "":
		return fmt.Errorf("%w: storage_root must not be empty", ErrInvalidConfig)
	case !strings.HasPrefix(c.MediaPrefix, "/") || strings.Trim(c.MediaPrefix, "/") == "":
		return fmt.Errorf("%w: media_prefix %q must be an absolute non-root path", ErrInvalidConfig, c.MediaPrefix)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.MaxListLimit <= 0:
		return fmt.Errorf("%w: max_list_limit must be positive", ErrInvalidConfig)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("%w: max_upload_bytes must be positive", ErrInvalidConfig)
	case c.MetricsRefreshInterval <= 0:
		return fmt.Errorf("%w: metrics_refresh_interval must be positive", ErrInvalidConfig)
	case c.MetricsNamespace == "":
		return fmt.Errorf("%w: metrics_namespace must not be empty", ErrInvalidConfig)
	}
	for i := 1; i < len(c.MetricsBuckets); i++ {
		if c.MetricsBuckets[i] <= c.MetricsBuckets[i-1] {
			return fmt.Errorf("%w: metrics_buckets must be strictly increasing", ErrInvalidConfig)
		}
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}

	switch c.CatalogDriver {
	case CatalogMemory:
	case CatalogSQLite:
		if c.CatalogDSN == "" {
			return fmt.Errorf("%w: catalog_dsn is required for the sqlite catalog", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown catalog_driver %q", ErrInvalidConfig, c.CatalogDriver)
	}

	if c.RedocBundle != "" {
		if err := regularFile("redoc_bundle", c.RedocBundle); err != nil {
			return err
		}
	}
	return regularFile("placeholder_image", c.PlaceholderImage)
}

// regularFile reports an ErrInvalidConfig unless path names a regular file.
func regularFile(key, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrInvalidConfig, key, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s %s is not a regular file", ErrInvalidConfig, key, path)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Log       LogConfig        `toml:"log"`
	HTTP      HTTPConfig       `toml:"http"`
	Store     StoreConfig      `toml:"store"`
	Fetch     FetchConfig      `toml:"fetch"`
	Storage   StorageConfig    `toml:"storage"`
	Dispatch  DispatchConfig   `toml:"dispatch"`
	Rewriters []RewriterConfig `toml:"rewriter"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

type HTTPConfig struct {
	Port int `toml:"port"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Driver      string `toml:"driver"` // sqlite or postgres
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type FetchConfig struct {
	Timeout   time.Duration `toml:"timeout"`
	MaxBytes  int64         `toml:"max_bytes"`
	UserAgent string        `toml:"user_agent"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Backend string        `toml:"backend"` // fs or s3
	Timeout time.Duration `toml:"timeout"`

	Dir           string `toml:"dir"`
	PublicBaseURL string `toml:"public_base_url"`

	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	CDNDomain string `toml:"cdn_domain"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// DispatchConfig selects how work items reach the per-image workers.
type DispatchConfig struct {
	Mode           string `toml:"mode"` // pool or asynq
	Workers        int    `toml:"workers"`
	QueueDepth     int    `toml:"queue_depth"`
	RejectWhenFull bool   `toml:"reject_when_full"`

	// Retries and RetryBackoff apply to the in-process pool; asynq uses
	// MaxRetry.
	Retries      int           `toml:"retries"`
	RetryBackoff time.Duration `toml:"retry_backoff"`

	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	Queue         string        `toml:"queue"`
	MaxRetry      int           `toml:"max_retry"`
	TaskTimeout   time.Duration `toml:"task_timeout"`
}

// RewriterConfig defines an additional URL rewriter.
type RewriterConfig struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
	Replace string `toml:"replace"`
}

// DefaultConfigPath returns the config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "imgingest", "config.toml")
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "imgingest", "jobs.db")
}

// DefaultStorageDir returns the default directory for the filesystem store.
func DefaultStorageDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "imgingest", "objects")
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{Port: 8080},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: DefaultDBPath(),
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			MaxBytes:  5 * 1024 * 1024,
			UserAgent: "imgingest/1.0",
		},
		Storage: StorageConfig{
			Backend:       "fs",
			Timeout:       60 * time.Second,
			Dir:           DefaultStorageDir(),
			PublicBaseURL: "http://localhost:8080/objects",
		},
		Dispatch: DispatchConfig{
			Mode:         "pool",
			Workers:      20,
			QueueDepth:   500,
			Retries:      3,
			RetryBackoff: time.Second,
			RedisAddr:    "127.0.0.1:6379",
			Queue:        "images",
			MaxRetry:     3,
			TaskTimeout:  5 * time.Minute,
		},
	}
}

// Load builds Config from defaults, the TOML file at path and environment
// overrides. An empty path falls back to DefaultConfigPath, which may be
// absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Storage.Dir = ExpandPath(cfg.Storage.Dir)
	cfg.Store.SQLitePath = ExpandPath(cfg.Store.SQLitePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.PostgresDSN == "" {
		return errors.New("store.postgres_dsn is required for the postgres driver")
	}
	switch c.Storage.Backend {
	case "fs", "s3":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required for the s3 backend")
	}
	switch c.Dispatch.Mode {
	case "pool", "asynq":
	default:
		return fmt.Errorf("unknown dispatch mode %q", c.Dispatch.Mode)
	}
	if c.Fetch.MaxBytes <= 0 {
		return errors.New("fetch.max_bytes must be positive")
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueDepth <= 0 {
		return errors.New("dispatch.workers and dispatch.queue_depth must be positive")
	}
	if c.Dispatch.Retries < 0 {
		return errors.New("dispatch.retries must not be negative")
	}
	return nil
}

// Env overrides
func applyEnv(cfg *Config) {
	if port := os.Getenv("IMGINGEST_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if level := os.Getenv("IMGINGEST_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if db := os.Getenv("IMGINGEST_DB"); db != "" {
		cfg.Store.SQLitePath = db
	}
	if dsn := os.Getenv("IMGINGEST_POSTGRES_DSN"); dsn != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.PostgresDSN = dsn
	}
	if max := os.Getenv("IMGINGEST_MAX_BYTES"); max != "" {
		if n, err := strconv.ParseInt(max, 10, 64); err == nil {
			cfg.Fetch.MaxBytes = n
		}
	}
	if dir := os.Getenv("IMGINGEST_STORAGE_DIR"); dir != "" {
		cfg.Storage.Dir = dir
	}
	if bucket := os.Getenv("IMGINGEST_S3_BUCKET"); bucket != "" {
		cfg.Storage.Backend = "s3"
		cfg.Storage.Bucket = bucket
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" && cfg.Storage.AccessKey == "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" && cfg.Storage.SecretKey == "" {
		cfg.Storage.SecretKey = v
	}
	if addr := os.Getenv("IMGINGEST_REDIS_ADDR"); addr != "" {
		cfg.Dispatch.RedisAddr = addr
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Package config loads table-sync settings from .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/withObsrvr/obsrvr-table-sync/internal/registry"
)

// ErrMissing marks required settings that are not set.
var ErrMissing = errors.New("missing required configuration")

type Config struct {
	Env        string
	Source     SourceConfig
	Dest       DestConfig
	TablesFile string
	Sync       SyncConfig
	Alert      AlertConfig
	Catalog    CatalogConfig
	Archive    ArchiveConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

type SourceConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type DestConfig struct {
	Driver          string
	DSN             string
	MotherDuckToken string
}

type SyncConfig struct {
	ReadRetries  int
	VerifyCounts bool
}

type AlertConfig struct {
	WebhookURL string
	BackupDir  string
}

type CatalogConfig struct {
	DSN string
}

type ArchiveConfig struct {
	URL                 string
	Prefix              string
	ManifestCompression string
}

type MetricsConfig struct {
	PushURL string
	Job     string
}

type LogConfig struct {
	Format string
	Level  string
}

// Load reads .env files from the working directory and the process
// environment. Environment variables take precedence over files.
func Load() (Config, error) {
	return LoadFrom(".", os.LookupEnv)
}

// LoadFrom is Load with an explicit .env directory and environment lookup.
func LoadFrom(dir string, lookupEnv func(string) (string, bool)) (Config, error) {
	env := "development"
	if v, ok := lookupEnv("TABLE_SYNC_ENV"); ok && v != "" {
		env = v
	}

	files, err := readEnvFiles(dir, env)
	if err != nil {
		return Config{}, err
	}
	e := environment{lookupEnv: lookupEnv, files: files}

	driver := strings.ToLower(e.get("SOURCE_DRIVER", "mysql"))
	defaultPort := "3306"
	if driver == "postgres" {
		defaultPort = "5432"
	}

	cfg := Config{
		Env: env,
		Source: SourceConfig{
			Driver:   driver,
			Host:     e.first("SOURCE_HOST", "ENDPOINT"),
			User:     e.get("SOURCE_USER", "analytics_ro"),
			Password: e.first("SOURCE_PASSWORD", "PASSWORD"),
			Database: e.get("SOURCE_DATABASE", "btcdb"),
		},
		Dest: DestConfig{
			Driver:          strings.ToLower(e.get("DEST_DRIVER", "duckdb")),
			DSN:             e.get("DEST_DSN", "md:btc_analytics"),
			MotherDuckToken: e.get("MOTHERDUCK_TOKEN", ""),
		},
		TablesFile: e.get("TABLES_FILE", ""),
		Alert: AlertConfig{
			WebhookURL: e.get("ALERT_WEBHOOK_URL", ""),
			BackupDir:  e.get("ALERT_BACKUP_DIR", "./alerts"),
		},
		Catalog: CatalogConfig{
			DSN: e.get("CATALOG_DSN", ""),
		},
		Archive: ArchiveConfig{
			URL:                 e.get("ARCHIVE_URL", ""),
			Prefix:              e.get("ARCHIVE_PREFIX", "table-sync/"),
			ManifestCompression: strings.ToLower(e.get("ARCHIVE_MANIFEST_COMPRESSION", "zstd")),
		},
		Metrics: MetricsConfig{
			PushURL: e.get("METRICS_PUSH_URL", ""),
			Job:     e.get("METRICS_JOB", "table_sync"),
		},
		Log: LogConfig{
			Format: e.get("LOG_FORMAT", "text"),
			Level:  e.get("LOG_LEVEL", "info"),
		},
	}

	if cfg.Source.Port, err = strconv.Atoi(e.get("SOURCE_PORT", defaultPort)); err != nil {
		return Config{}, fmt.Errorf("SOURCE_PORT: %w", err)
	}
	if cfg.Sync.ReadRetries, err = strconv.Atoi(e.get("SYNC_READ_RETRIES", "0")); err != nil {
		return Config{}, fmt.Errorf("SYNC_READ_RETRIES: %w", err)
	}
	if cfg.Sync.VerifyCounts, err = strconv.ParseBool(e.get("SYNC_VERIFY_COUNTS", "false")); err != nil {
		return Config{}, fmt.Errorf("SYNC_VERIFY_COUNTS: %w", err)
	}

	return cfg, nil
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.Source.Host == "" {
		missing = append(missing, "SOURCE_HOST")
	}
	if c.Source.Password == "" {
		missing = append(missing, "SOURCE_PASSWORD")
	}
	if c.Dest.Driver == "duckdb" && strings.HasPrefix(c.Dest.DSN, "md:") && c.Dest.MotherDuckToken == "" {
		missing = append(missing, "MOTHERDUCK_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	switch c.Source.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unknown SOURCE_DRIVER %q", c.Source.Driver)
	}
	switch c.Dest.Driver {
	case "duckdb", "sqlite":
	default:
		return fmt.Errorf("unknown DEST_DRIVER %q", c.Dest.Driver)
	}
	switch c.Archive.ManifestCompression {
	case "zstd", "none":
	default:
		return fmt.Errorf("unknown ARCHIVE_MANIFEST_COMPRESSION %q", c.Archive.ManifestCompression)
	}
	if c.Sync.ReadRetries < 0 {
		return fmt.Errorf("SYNC_READ_RETRIES must not be negative")
	}
	return nil
}

// Registry returns the table registry from TablesFile, or the built-in one.
func (c Config) Registry() (*registry.Registry, error) {
	if c.TablesFile == "" {
		return registry.Default(), nil
	}
	return registry.LoadFile(c.TablesFile)
}

// readEnvFiles reads .env.<env>.local, .env.local, .env.<env> and .env in
// that order of precedence. Missing files are skipped.
func readEnvFiles(dir, env string) ([]map[string]string, error) {
	names := []string{".env." + env + ".local"}
	if env != "test" {
		names = append(names, ".env.local")
	}
	names = append(names, ".env."+env, ".env")

	var files []map[string]string
	for _, name := range names {
		path := filepath.Join(dir, name)
		vals, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, vals)
	}
	return files, nil
}

type environment struct {
	lookupEnv func(string) (string, bool)
	files     []map[string]string
}

func (e environment) lookup(key string) string {
	if v, ok := e.lookupEnv(key); ok && v != "" {
		return v
	}
	for _, f := range e.files {
		if v := f[key]; v != "" {
			return v
		}
	}
	return ""
}

func (e environment) get(key, def string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return def
}

// first returns the first key that is set.
func (e environment) first(keys ...string) string {
	for _, k := range keys {
		if v := e.lookup(k); v != "" {
			return v
		}
	}
	return ""
}

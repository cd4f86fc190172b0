// Package config loads service configuration from config.yaml and REPORTS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/rentalreports/internal/db"
	"github.com/rpattn/rentalreports/internal/engine"
	"github.com/rpattn/rentalreports/internal/repository"
)

// Data source drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverDuckDB   = "duckdb"
	DriverFiles    = "files"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Server   ServerConfig   `mapstructure:"server"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// Schema qualifies physical table names, e.g. "public".
	Schema string `mapstructure:"schema"`
	// Path is the SQLite or DuckDB database file.
	Path string `mapstructure:"path"`
	// Dir holds <table>.csv or <table>.xlsx files for the files driver.
	Dir string `mapstructure:"dir"`
}

type EngineConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      string        `mapstructure:"backoff"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type CatalogConfig struct {
	// Path is an optional YAML file of extra report definitions.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	pg := db.DefaultConfig()
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", pg.Host)
	v.SetDefault("database.port", pg.Port)
	v.SetDefault("database.user", pg.User)
	v.SetDefault("database.password", pg.Password)
	v.SetDefault("database.dbname", pg.DBName)
	v.SetDefault("database.sslmode", pg.SSLMode)
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.path", "")
	v.SetDefault("database.dir", "data")

	retry := repository.DefaultRetryPolicy()
	v.SetDefault("engine.max_concurrency", engine.DefaultConfig().MaxConcurrency)
	v.SetDefault("engine.run_timeout", "0s")
	v.SetDefault("engine.retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("engine.retry.backoff", string(retry.Backoff))
	v.SetDefault("engine.retry.initial_delay", retry.InitialDelay.String())
	v.SetDefault("engine.retry.max_delay", retry.MaxDelay.String())

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("catalog.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config.yaml from configPath (a directory or a file path). A
// missing file is not an error: defaults and environment variables apply.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if ext := filepath.Ext(configPath); ext == ".yaml" || ext == ".yml" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath == "" {
			configPath = "."
		}
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("REPORTS") // REPORTS_DATABASE_HOST, REPORTS_ENGINE_RUN_TIMEOUT, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type check.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverFiles, DriverDuckDB:
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Engine.MaxConcurrency < 0 {
		return fmt.Errorf("engine.max_concurrency must not be negative")
	}
	if _, err := repository.ParseBackoffType(c.Engine.Retry.Backoff); err != nil {
		return err
	}
	return nil
}

// Postgres returns the pgx pool configuration.
func (d DatabaseConfig) Postgres() db.Config {
	return db.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
	}
}

// PhysicalSchema is the schema qualifier for table names; only Postgres uses one.
func (d DatabaseConfig) PhysicalSchema() string {
	if d.Driver == DriverPostgres {
		return d.Schema
	}
	return ""
}

// Runtime returns the engine configuration.
func (e EngineConfig) Runtime() engine.Config {
	return engine.Config{MaxConcurrency: e.MaxConcurrency, RunTimeout: e.RunTimeout}
}

// RetryPolicy returns the table load retry policy.
func (e EngineConfig) RetryPolicy() (repository.RetryPolicy, error) {
	backoff, err := repository.ParseBackoffType(e.Retry.Backoff)
	if err != nil {
		return repository.RetryPolicy{}, err
	}
	return repository.RetryPolicy{
		MaxAttempts:  e.Retry.MaxAttempts,
		Backoff:      backoff,
		InitialDelay: e.Retry.InitialDelay,
		MaxDelay:     e.Retry.MaxDelay,
	}, nil
}

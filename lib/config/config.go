// Package config loads the rxpool service configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/pharmaops/rxpool/lib/cachepool"
	"github.com/pharmaops/rxpool/lib/dbpool"
	apperrors "github.com/pharmaops/rxpool/lib/errors"
	"github.com/pharmaops/rxpool/lib/pool"
	"github.com/pharmaops/rxpool/lib/resilience"
	"github.com/pharmaops/rxpool/lib/validation"
)

// Default configuration values
const (
	DefaultServiceName     = "rxpool"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultStatusListen    = "127.0.0.1:9400"
	DefaultDatabaseURI     = "mongodb://127.0.0.1:27017"
	DefaultCacheAddr       = "127.0.0.1:6379"
	DefaultLogLevel        = "info"
)

// Duration is a time.Duration written as a string ("30s", "5m") in TOML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds all configuration for an rxpool service.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Status   StatusConfig   `toml:"status"`
	Log      LogConfig      `toml:"log"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
}

// ServiceConfig contains process-wide settings.
type ServiceConfig struct {
	// Name identifies this instance in logs
	Name string `toml:"name"`
	// ShutdownTimeout bounds closing the pools on exit
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// StatusConfig contains the HTTP status listener settings.
type StatusConfig struct {
	// Enabled controls whether /metrics, /stats and /healthz are served
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the status server to
	Listen string `toml:"listen"`
}

// LogConfig contains logging settings for the command.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level"`
	// JSON switches the command's log output to JSON
	JSON bool `toml:"json"`
}

// PoolSection is the pool configuration shared by the database and cache sections.
type PoolSection struct {
	MaxConnections int      `toml:"max_connections"`
	MinConnections int      `toml:"min_connections"`
	AcquireTimeout Duration `toml:"acquire_timeout"`
	IdleTimeout    Duration `toml:"idle_timeout"`
	// ReapInterval of "0s" disables background reaping
	ReapInterval Duration `toml:"reap_interval"`
	// CreateRate limits connection attempts per second; 0 is unlimited
	CreateRate  float64        `toml:"create_rate"`
	CreateBurst int            `toml:"create_burst"`
	Breaker     BreakerSection `toml:"breaker"`
	Health      HealthSection  `toml:"health"`
}

// BreakerSection configures the circuit breaker guarding connection creation.
type BreakerSection struct {
	Enabled          bool     `toml:"enabled"`
	FailureThreshold int      `toml:"failure_threshold"`
	OpenTimeout      Duration `toml:"open_timeout"`
}

// HealthSection configures the backend health check that drives the breaker.
type HealthSection struct {
	// Interval between checks; "0s" disables checking
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
}

// HealthConfig converts the section to a resilience.HealthConfig.
func (h HealthSection) HealthConfig() resilience.HealthConfig {
	return resilience.HealthConfig{
		CheckInterval: h.Interval.Std(),
		CheckTimeout:  h.Timeout.Std(),
	}
}

// DatabaseConfig contains the document-database pool settings.
type DatabaseConfig struct {
	Enabled        bool        `toml:"enabled"`
	URI            string      `toml:"uri"`
	AppName        string      `toml:"app_name"`
	ConnectTimeout Duration    `toml:"connect_timeout"`
	Pool           PoolSection `toml:"pool"`
}

// CacheConfig contains the cache pool settings.
type CacheConfig struct {
	Enabled      bool        `toml:"enabled"`
	Addr         string      `toml:"addr"`
	Username     string      `toml:"username,omitempty"`
	Password     string      `toml:"password,omitempty"`
	DB           int         `toml:"db"`
	DialTimeout  Duration    `toml:"dial_timeout"`
	ReadTimeout  Duration    `toml:"read_timeout"`
	WriteTimeout Duration    `toml:"write_timeout"`
	Pool         PoolSection `toml:"pool"`
}

// poolSection converts a pool.Config into its file form.
func poolSection(cfg pool.Config) PoolSection {
	breaker := resilience.DefaultBreakerConfig()
	health := resilience.DefaultHealthConfig()
	return PoolSection{
		MaxConnections: cfg.MaxConnections,
		MinConnections: cfg.MinConnections,
		AcquireTimeout: Duration(cfg.AcquireTimeout),
		IdleTimeout:    Duration(cfg.IdleTimeout),
		ReapInterval:   Duration(cfg.ReapInterval),
		CreateRate:     cfg.CreateRate,
		CreateBurst:    cfg.CreateBurst,
		Breaker: BreakerSection{
			Enabled:          true,
			FailureThreshold: breaker.FailureThreshold,
			OpenTimeout:      Duration(breaker.OpenTimeout),
		},
		Health: HealthSection{
			Interval: Duration(health.CheckInterval),
			Timeout:  Duration(health.CheckTimeout),
		},
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	db := dbpool.DefaultOptions()
	cache := cachepool.DefaultOptions()

	return &Config{
		Service: ServiceConfig{
			Name:            DefaultServiceName,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Status: StatusConfig{
			Enabled: true,
			Listen:  DefaultStatusListen,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		Database: DatabaseConfig{
			Enabled:        true,
			URI:            DefaultDatabaseURI,
			AppName:        db.AppName,
			ConnectTimeout: Duration(db.ConnectTimeout),
			Pool:           poolSection(dbpool.DefaultConfig()),
		},
		Cache: CacheConfig{
			Enabled:      true,
			Addr:         DefaultCacheAddr,
			DialTimeout:  Duration(cache.DialTimeout),
			ReadTimeout:  Duration(cache.ReadTimeout),
			WriteTimeout: Duration(cache.WriteTimeout),
			Pool:         poolSection(cachepool.DefaultConfig()),
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors. Every problem found is
// reported, not only the first.
func (c *Config) Validate() error {
	var errs validation.Errors

	errs.Add(validation.Name("service.name", c.Service.Name))
	errs.Add(validation.NonNegativeDuration("service.shutdown_timeout", c.Service.ShutdownTimeout.Std()))
	if c.Status.Enabled {
		errs.Add(validation.HostPort("status.listen", c.Status.Listen))
	}
	errs.Add(validation.OneOf("log.level", c.Log.Level, "debug", "info", "warn", "error"))

	if c.Database.Enabled {
		errs.Add(validation.DatabaseURI("database.uri", c.Database.URI))
		errs.Add(validation.NonNegativeDuration("database.connect_timeout", c.Database.ConnectTimeout.Std()))
		errs.Add(c.Database.Pool.validate("database"))
	}
	if c.Cache.Enabled {
		errs.Add(validation.HostPort("cache.addr", c.Cache.Addr))
		errs.Add(validation.NonNegative("cache.db", c.Cache.DB))
		errs.Add(c.Cache.Pool.validate("cache"))
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, errs)
	}
	return nil
}

// validate reports the first problem in a pool section.
func (s PoolSection) validate(name string) error {
	prefix := name + ".pool."
	return validation.All(
		func() error { return validation.Positive(prefix+"max_connections", s.MaxConnections) },
		func() error {
			return validation.IntRange(prefix+"min_connections", s.MinConnections, 0, s.MaxConnections)
		},
		func() error { return validation.NonNegativeDuration(prefix+"acquire_timeout", s.AcquireTimeout.Std()) },
		func() error { return validation.NonNegativeDuration(prefix+"idle_timeout", s.IdleTimeout.Std()) },
		func() error { return validation.NonNegativeDuration(prefix+"reap_interval", s.ReapInterval.Std()) },
		func() error {
			if s.CreateRate < 0 {
				return validation.NewResult(prefix+"create_rate", "must be non-negative", validation.ErrOutOfRange)
			}
			return nil
		},
		func() error { return validation.NonNegative(prefix+"create_burst", s.CreateBurst) },
		func() error {
			return validation.NonNegative(prefix+"breaker.failure_threshold", s.Breaker.FailureThreshold)
		},
		func() error { return validation.NonNegativeDuration(prefix+"health.interval", s.Health.Interval.Std()) },
		func() error { return validation.NonNegativeDuration(prefix+"health.timeout", s.Health.Timeout.Std()) },
		func() error {
			if err := s.config(name).Validate(); err != nil {
				return fmt.Errorf("%s.pool: %w", name, err)
			}
			return nil
		},
	)
}

// config converts the section without creating a breaker.
func (s PoolSection) config(name string) pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Name = name
	cfg.MaxConnections = s.MaxConnections
	cfg.MinConnections = s.MinConnections
	cfg.AcquireTimeout = s.AcquireTimeout.Std()
	cfg.IdleTimeout = s.IdleTimeout.Std()
	cfg.ReapInterval = s.ReapInterval.Std()
	cfg.CreateRate = s.CreateRate
	cfg.CreateBurst = s.CreateBurst
	return cfg
}

// PoolConfig converts the section to a pool.Config named name. When the
// breaker is enabled a new breaker named "<name>-create" is attached.
func (s PoolSection) PoolConfig(name string) pool.Config {
	cfg := s.config(name)
	if s.Breaker.Enabled {
		cfg.Breaker = resilience.NewBreaker(name+"-create", resilience.BreakerConfig{
			FailureThreshold: s.Breaker.FailureThreshold,
			OpenTimeout:      s.Breaker.OpenTimeout.Std(),
		})
	}
	return cfg
}

// Options returns the database client options.
func (d DatabaseConfig) Options() dbpool.Options {
	return dbpool.Options{
		URI:            d.URI,
		AppName:        d.AppName,
		ConnectTimeout: d.ConnectTimeout.Std(),
		IdleTimeout:    d.Pool.IdleTimeout.Std(),
	}
}

// Options returns the cache client options.
func (c CacheConfig) Options() cachepool.Options {
	return cachepool.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout.Std(),
		ReadTimeout:  c.ReadTimeout.Std(),
		WriteTimeout: c.WriteTimeout.Std(),
		IdleTimeout:  c.Pool.IdleTimeout.Std(),
	}
}

// Package config loads phonedesk settings from phonedesk.yaml and
// PHONEDESK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/database"
	"github.com/goatkit/phonedesk/internal/logging"
	"github.com/goatkit/phonedesk/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. PHONEDESK_HTTP_ADDR.
const EnvPrefix = "PHONEDESK"

// Config is the full application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       logging.Config  `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Events    EventsConfig    `mapstructure:"events"`
	Directory DirectoryConfig `mapstructure:"directory"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Timezone string `mapstructure:"timezone"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the store. Driver "memory" keeps everything in process.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// InMemory reports whether no SQL database is configured.
func (d DatabaseConfig) InMemory() bool {
	return d.Driver == "" || strings.EqualFold(d.Driver, "memory")
}

// Pool converts the settings for database.Open.
func (d DatabaseConfig) Pool() database.Config {
	return database.Config{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
		ConnectRetries:  d.ConnectRetries,
		RetryBackoff:    d.RetryBackoff,
	}
}

// RedisConfig enables the shared key locker and event fan-out.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	LockPrefix  string        `mapstructure:"lock_prefix"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockMaxWait time.Duration `mapstructure:"lock_max_wait"`
}

type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// SchedulerConfig lists cron jobs. An empty Jobs list runs the built-in set.
type SchedulerConfig struct {
	Enabled bool                   `mapstructure:"enabled"`
	Jobs    []*models.ScheduledJob `mapstructure:"jobs"`
}

type EventsConfig struct {
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// DirectoryConfig picks where employees, departments and users come from:
// "yaml" reads SeedFile, "sql" reads the configured database.
type DirectoryConfig struct {
	Source   string `mapstructure:"source"`
	SeedFile string `mapstructure:"seed_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "phonedesk")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.timezone", "UTC")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.retry_backoff", 2*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_prefix", "phonedesk:lock:")
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("redis.lock_max_wait", 10*time.Second)

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "phonedesk")
	v.SetDefault("auth.jwt.ttl", 12*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.jobs", []any{})

	v.SetDefault("events.channel_prefix", "phonedesk:events:")
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.queue_size", 256)
	v.SetDefault("events.max_attempts", 3)
	v.SetDefault("events.retry_backoff", 500*time.Millisecond)

	v.SetDefault("directory.source", "yaml")
	v.SetDefault("directory.seed_file", "directory.yaml")
}

// New returns a viper instance with defaults and env overrides configured.
// path may name a config file; when empty, phonedesk.yaml is searched for in
// the working directory, ./config and /etc/phonedesk.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("phonedesk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/phonedesk")
	}
	return v
}

// Load reads configuration. A missing phonedesk.yaml is not an error when no
// explicit path was given; defaults and environment still apply.
func Load(path string) (*Config, *viper.Viper, error) {
	v := New(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals and validates the current viper state.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if !c.Database.InMemory() {
		if _, err := database.NormalizeDriver(c.Database.Driver); err != nil {
			errs = append(errs, err)
		}
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for SQL drivers"))
		}
	}
	switch c.Directory.Source {
	case "yaml":
		if c.Directory.SeedFile == "" {
			errs = append(errs, errors.New("directory.seed_file is required for the yaml source"))
		}
	case "sql":
		if c.Database.InMemory() {
			errs = append(errs, errors.New("directory.source sql needs a SQL database driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.source %q must be yaml or sql", c.Directory.Source))
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("app.timezone: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Scheduler.Jobs))
	for i, job := range c.Scheduler.Jobs {
		if job == nil || job.Slug == "" || job.Handler == "" || job.Schedule == "" {
			errs = append(errs, fmt.Errorf("scheduler.jobs[%d]: slug, handler and schedule are required", i))
			continue
		}
		if seen[job.Slug] {
			errs = append(errs, fmt.Errorf("scheduler.jobs[%d]: duplicate slug %q", i, job.Slug))
		}
		seen[job.Slug] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Watch re-decodes the file whenever it changes and hands valid results to
// onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *zap.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

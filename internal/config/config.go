package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Retention RetentionConfig `mapstructure:"retention"`
	Export    ExportConfig    `mapstructure:"export"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the driver-specific connection string.
func (c DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.Name,
		}
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
		return u.String()
	}

	// _txlock=immediate takes the write lock at BEGIN so concurrent transactions
	// queue on busy_timeout instead of failing with SQLITE_BUSY on upgrade.
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"
}

type WorkerConfig struct {
	// Concurrency is the per-job parallelism; 0 uses every CPU.
	Concurrency int           `mapstructure:"concurrency"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"`

	// ResumeOnStart restarts jobs left pending or running by a previous process.
	ResumeOnStart bool `mapstructure:"resume_on_start"`
}

type ProgressConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

type ExportConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for deployment overrides
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.path", "DATABASE_PATH")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.name", "DATABASE_NAME")
	v.BindEnv("worker.concurrency", "SWEEP_CONCURRENCY")
	v.BindEnv("export.endpoint", "S3_ENDPOINT")
	v.BindEnv("export.access_key", "S3_ACCESS_KEY")
	v.BindEnv("export.secret_key", "S3_SECRET_KEY")
	v.BindEnv("export.bucket", "S3_BUCKET")
	v.BindEnv("export.region", "S3_REGION")
	v.BindEnv("export.public_url", "S3_PUBLIC_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/sweeps.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sweepd")
	v.SetDefault("database.name", "sweepd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("worker.concurrency", 0)
	v.SetDefault("worker.item_timeout", 0)
	v.SetDefault("worker.resume_on_start", false)
	v.SetDefault("progress.interval", 500*time.Millisecond)
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.interval", 24*time.Hour)
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.type", "s3")
	v.SetDefault("export.region", "us-east-1")
	v.SetDefault("export.use_ssl", true)
	v.SetDefault("export.bucket", "sweep-results")
	v.SetDefault("export.prefix", "exports")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Worker.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must not be negative: %d", c.Worker.Concurrency))
	}
	if c.Worker.ItemTimeout < 0 {
		errs = append(errs, errors.New("worker.item_timeout must not be negative"))
	}
	if c.Progress.Interval <= 0 {
		errs = append(errs, errors.New("progress.interval must be positive"))
	}
	if c.Retention.Enabled {
		if c.Retention.Days <= 0 {
			errs = append(errs, fmt.Errorf("retention.days must be positive: %d", c.Retention.Days))
		}
		if c.Retention.Interval <= 0 {
			errs = append(errs, errors.New("retention.interval must be positive"))
		}
	}
	if c.Export.Enabled && c.Export.Bucket == "" {
		errs = append(errs, errors.New("export.bucket is required when export is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

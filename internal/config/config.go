// Package config loads rank-tracker configuration from a YAML file, .env files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

const (
	defaultServerPort      = 8060
	defaultServerTimeout   = 30 * time.Second
	defaultDatabasePort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultRedisAddress    = "localhost:6379"
	defaultRedisStream     = "rank-tracker:job-events"
)

// ConfigPathEnv names the environment variable holding the config file path.
const ConfigPathEnv = "CONFIG_PATH"

// Config is the full service configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Serp       SerpConfig       `mapstructure:"serp"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Redis      RedisConfig      `mapstructure:"redis"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig identifies the running service.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DispatcherConfig bounds each dispatcher pass.
type DispatcherConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Workers     int           `mapstructure:"workers"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
}

// PlannerConfig controls the periodic planner.
type PlannerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	SerpPriority   int           `mapstructure:"serp_priority"`
	ReportPriority int           `mapstructure:"report_priority"`
}

// SerpConfig configures the SERP API and competitor discovery.
type SerpConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	APIKey                string        `mapstructure:"api_key"`
	Country               string        `mapstructure:"country"`
	Language              string        `mapstructure:"language"`
	Device                string        `mapstructure:"device"`
	NumResults            int           `mapstructure:"num_results"`
	CompetitorCandidates  int           `mapstructure:"competitor_candidates"`
	AutoCreateCompetitors int           `mapstructure:"auto_create_competitors"`
	Timeout               time.Duration `mapstructure:"timeout"`
	RequestsPerSecond     float64       `mapstructure:"requests_per_second"`
	Burst                 int           `mapstructure:"burst"`
}

// MinIOConfig configures raw payload archiving.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// RedisConfig configures job event publishing.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

// OpenAIConfig configures report generation. An empty APIKey selects the template generator.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. path may be empty, in which case CONFIG_PATH or ./config.yml
// is used when present. Environment variables override file values, with "." in keys
// replaced by "_" (e.g. DATABASE_HOST).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString(ConfigPathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rank-tracker")
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.idle_timeout", 2*defaultServerTimeout)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", defaultDatabasePort)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", defaultConnMaxLifetime)

	v.SetDefault("dispatcher.batch_size", 5)
	v.SetDefault("dispatcher.workers", 1)
	v.SetDefault("dispatcher.job_timeout", 5*time.Minute)
	v.SetDefault("dispatcher.max_attempts", 3)
	v.SetDefault("dispatcher.interval", 30*time.Second)

	v.SetDefault("planner.interval", time.Hour)
	v.SetDefault("planner.serp_priority", 3)
	v.SetDefault("planner.report_priority", 2)

	v.SetDefault("serp.base_url", "https://serpapi.com/search.json")
	v.SetDefault("serp.api_key", "")
	v.SetDefault("serp.country", "us")
	v.SetDefault("serp.language", "en")
	v.SetDefault("serp.device", "desktop")
	v.SetDefault("serp.num_results", 10)
	v.SetDefault("serp.competitor_candidates", 10)
	v.SetDefault("serp.auto_create_competitors", 3)
	v.SetDefault("serp.timeout", defaultServerTimeout)
	v.SetDefault("serp.requests_per_second", 1.0)
	v.SetDefault("serp.burst", 1)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "rank-tracker-archive")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", defaultRedisAddress)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", defaultRedisStream)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks required settings and bounds.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be positive")
	}
	if c.Dispatcher.BatchSize <= 0 {
		return errors.New("dispatcher.batch_size must be positive")
	}
	if c.Dispatcher.Workers <= 0 {
		return errors.New("dispatcher.workers must be positive")
	}
	if c.Dispatcher.JobTimeout <= 0 {
		return errors.New("dispatcher.job_timeout must be positive")
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		return errors.New("dispatcher.max_attempts must be positive")
	}
	if !logger.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	if c.MinIO.Enabled && c.MinIO.Endpoint == "" {
		return errors.New("minio.endpoint is required when minio is enabled")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address is required when redis is enabled")
	}
	return nil
}

// IsDevelopment reports whether the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Debug || c.App.Environment == "development"
}

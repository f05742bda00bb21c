package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Storage, session and media drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBaaS     = "baas"
	DriverRedis    = "redis"
	DriverInline   = "inline"
	DriverS3       = "s3"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Session       SessionConfig       `mapstructure:"session"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Media         MediaConfig         `mapstructure:"media"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Events        EventsConfig        `mapstructure:"events"`
	Worker        WorkerConfig        `mapstructure:"worker"`

	Secrets Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BaaSTimeout     time.Duration `mapstructure:"baas_timeout"`
}

type SessionConfig struct {
	Store      string        `mapstructure:"store"`
	TTL        time.Duration `mapstructure:"ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	Hasher     string        `mapstructure:"hasher"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type AudioConfig struct {
	MaxPayloadBytes int64 `mapstructure:"max_payload_bytes"`
	SampleRate      int   `mapstructure:"sample_rate"`
}

type TranscriptionConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryWait       time.Duration `mapstructure:"retry_wait"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type MediaConfig struct {
	Driver    string `mapstructure:"driver"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	LoginPerMinute    float64 `mapstructure:"login_per_minute"`
	LoginBurst        int     `mapstructure:"login_burst"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type WorkerConfig struct {
	SessionCleanupInterval time.Duration `mapstructure:"session_cleanup_interval"`
}

// Secrets come from the environment only
type Secrets struct {
	DatabaseURL             string `envconfig:"DATABASE_URL"`
	SessionSecret           string `envconfig:"SESSION_SECRET"`
	TranscriptionWebhookURL string `envconfig:"TRANSCRIPTION_WEBHOOK_URL"`
	BaaSURL                 string `envconfig:"BAAS_URL"`
	BaaSKey                 string `envconfig:"BAAS_KEY"`
	RedisURL                string `envconfig:"REDIS_URL"`
	S3AccessKeyID           string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey       string `envconfig:"S3_SECRET_ACCESS_KEY"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 180*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 50<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.migrate_on_start", true)
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("storage.baas_timeout", 10*time.Second)

	v.SetDefault("session.store", DriverMemory)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cookie_name", "consult.sid")
	v.SetDefault("session.hasher", "scrypt")
	v.SetDefault("session.bcrypt_cost", 12)

	v.SetDefault("audio.max_payload_bytes", 45<<20)
	v.SetDefault("audio.sample_rate", 16000)

	v.SetDefault("transcription.timeout", 120*time.Second)
	v.SetDefault("transcription.retry_count", 0)
	v.SetDefault("transcription.retry_wait", 2*time.Second)
	v.SetDefault("transcription.breaker_failures", 5)
	v.SetDefault("transcription.breaker_timeout", 30*time.Second)

	v.SetDefault("media.driver", DriverInline)
	v.SetDefault("media.bucket", "")
	v.SetDefault("media.region", "us-east-1")
	v.SetDefault("media.endpoint", "")
	v.SetDefault("media.public_url", "")
	v.SetDefault("media.prefix", "consultations")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.login_per_minute", 10)
	v.SetDefault("rate_limit.login_burst", 5)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.channel", "consultations.status")

	v.SetDefault("worker.session_cleanup_interval", time.Hour)
}

// LoadConfig reads config.yml from path (or ".", "./config"), applies CONSULT_* overrides
// and loads secrets from the environment. A missing config file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CONSULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &config.Secrets); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return &config, nil
}

// ValidateAPI checks everything the API server needs for the selected drivers
func (c *Config) ValidateAPI() error {
	var missing []string
	if c.Secrets.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.Secrets.TranscriptionWebhookURL == "" {
		missing = append(missing, "TRANSCRIPTION_WEBHOOK_URL")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Secrets.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverBaaS:
		if c.Secrets.BaaSURL == "" {
			missing = append(missing, "BAAS_URL")
		}
		if c.Secrets.BaaSKey == "" {
			missing = append(missing, "BAAS_KEY")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Session.Store {
	case DriverMemory:
	case DriverPostgres:
		if c.Secrets.DatabaseURL == "" && c.Storage.Driver != DriverPostgres {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverRedis:
		if c.Secrets.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	switch c.Media.Driver {
	case DriverInline:
	case DriverS3:
		if c.Media.Bucket == "" {
			return errors.New("media.bucket is required for the s3 media driver")
		}
		if c.Secrets.S3AccessKeyID == "" {
			missing = append(missing, "S3_ACCESS_KEY_ID")
		}
		if c.Secrets.S3SecretAccessKey == "" {
			missing = append(missing, "S3_SECRET_ACCESS_KEY")
		}
	default:
		return fmt.Errorf("unknown media driver %q", c.Media.Driver)
	}

	if c.Events.Enabled && c.Secrets.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	return missingErr(missing)
}

// ValidateWorker checks what the background worker needs
func (c *Config) ValidateWorker() error {
	var missing []string
	if c.Secrets.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Events.Enabled && c.Secrets.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	return missingErr(missing)
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(missing))
	uniq := missing[:0]
	for _, m := range missing {
		if !seen[m] {
			seen[m] = true
			uniq = append(uniq, m)
		}
	}
	return fmt.Errorf("missing required environment variables: %s", strings.Join(uniq, ", "))
}

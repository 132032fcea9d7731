package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for a voxrelay process.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Bot         BotConfig
	Auth        AuthConfig
	Public      PublicConfig
	Media       MediaConfig
	Credentials CredentialsConfig
	Notify      NotifyConfig
	Storage     StorageConfig
	Tracing     TracingConfig
	Metrics     MetricsConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"voxrelay"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Port         int           `env:"PORT" envDefault:"5000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

// Addr returns the listen address for the file server.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", h.Port)
}

type BotConfig struct {
	Token       string `env:"BOT_API_KEY"`
	PollTimeout int    `env:"BOT_POLL_TIMEOUT" envDefault:"60"`
	Debug       bool   `env:"BOT_DEBUG" envDefault:"false"`
}

type AuthConfig struct {
	Secret string `env:"AUTH_PASSWORD"`
}

type PublicConfig struct {
	Domain string `env:"PUBLIC_DOMAIN"`
	Scheme string `env:"PUBLIC_SCHEME" envDefault:"https"`
}

type MediaConfig struct {
	OutputDir    string `env:"MEDIA_OUTPUT_DIR" envDefault:"public/audio"`
	FFmpegPath   string `env:"MEDIA_FFMPEG_PATH" envDefault:"ffmpeg"`
	Bitrate      string `env:"MEDIA_BITRATE" envDefault:"128k"`
	KeepRaw      bool   `env:"MEDIA_KEEP_RAW" envDefault:"true"`
	MaxSizeBytes int64  `env:"MEDIA_MAX_SIZE_BYTES" envDefault:"20971520"`
}

type CredentialsConfig struct {
	Backend     string `env:"CREDENTIALS_BACKEND" envDefault:"file"`
	FilePath    string `env:"CREDENTIALS_FILE" envDefault:"data/authorized_users.txt"`
	DatabaseURL string `env:"DATABASE_URL"`
}

type NotifyConfig struct {
	Provider         string        `env:"NOTIFY_PROVIDER" envDefault:"mqtt"`
	Host             string        `env:"BROKER_HOST"`
	Port             int           `env:"BROKER_PORT" envDefault:"8883"`
	Username         string        `env:"BROKER_USERNAME"`
	Password         string        `env:"BROKER_PASSWORD"`
	TLS              bool          `env:"BROKER_TLS" envDefault:"true"`
	ClientID         string        `env:"BROKER_CLIENT_ID" envDefault:"voxrelay"`
	CommandsTopic    string        `env:"BROKER_COMMANDS_TOPIC" envDefault:"commands"`
	Timeout          time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	SASLMechanism    string        `env:"KAFKA_SASL_MECHANISM" envDefault:"plain"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"none"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"voxrelay-audio"`
	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"true"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=voxrelay"`
}

type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Addr    string `env:"METRICS_ADDR" envDefault:":9102"`
}

// Serving reports whether the metrics endpoint should be started.
func (m MetricsConfig) Serving() bool {
	return m.Enabled && strings.TrimSpace(m.Addr) != ""
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateServe reports every value the serve command cannot run without.
func (c *Config) ValidateServe() error {
	var errs []error
	if strings.TrimSpace(c.Bot.Token) == "" {
		errs = append(errs, errors.New("BOT_API_KEY is required"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("AUTH_PASSWORD is required"))
	}
	if strings.TrimSpace(c.Public.Domain) == "" {
		errs = append(errs, errors.New("PUBLIC_DOMAIN is required"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.HTTP.Port))
	}
	if p := strings.ToLower(c.Notify.Provider); p != "none" && p != "" && strings.TrimSpace(c.Notify.Host) == "" {
		errs = append(errs, fmt.Errorf("BROKER_HOST is required for notify provider %q", c.Notify.Provider))
	}
	if err := c.ValidateCredentials(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateCredentials checks the credential store settings shared by every command.
func (c *Config) ValidateCredentials() error {
	switch strings.ToLower(c.Credentials.Backend) {
	case "file":
		if strings.TrimSpace(c.Credentials.FilePath) == "" {
			return errors.New("CREDENTIALS_FILE is required for the file backend")
		}
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Credentials.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", c.Credentials.Backend)
		}
	default:
		return fmt.Errorf("unsupported CREDENTIALS_BACKEND: %s", c.Credentials.Backend)
	}
	return nil
}

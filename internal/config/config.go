// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	BaseURL         string
	FrontendURL     string
	ShutdownTimeout time.Duration

	Log     LogConfig
	Storage StorageConfig
	Email   EmailConfig
	Redis   RedisConfig
	GeoIPDB string
	Metrics bool
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	MaxUploadBytes int64
}

type EmailConfig struct {
	BaseURL         string
	Username        string
	Password        string
	OTPTemplateID   int
	WelcomeTemplate int
	ResetTemplateID int
}

// RedisConfig is optional. An empty URL sends mail inline instead of through the queue.
type RedisConfig struct {
	URL string
}

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
)

// Load reads .env (when present) into the process environment, then
// resolves every setting through viper with defaults applied.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// a missing file is not an error; the environment may be set directly
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:            v.GetString("PORT"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		TokenTTL:        v.GetDuration("TOKEN_TTL"),
		BaseURL:         v.GetString("BASE_URL"),
		FrontendURL:     v.GetString("FRONTEND_URL"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Storage: StorageConfig{
			Endpoint:       v.GetString("S3_ENDPOINT"),
			PublicEndpoint: v.GetString("S3_PUBLIC_ENDPOINT"),
			Bucket:         v.GetString("S3_BUCKET"),
			AccessKey:      v.GetString("S3_ACCESS_KEY"),
			SecretKey:      v.GetString("S3_SECRET_KEY"),
			Region:         v.GetString("S3_REGION"),
			MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
		},
		Email: EmailConfig{
			BaseURL:         v.GetString("LISTMONK_URL"),
			Username:        v.GetString("LISTMONK_USER"),
			Password:        v.GetString("LISTMONK_PASSWORD"),
			OTPTemplateID:   v.GetInt("LISTMONK_OTP_TEMPLATE_ID"),
			WelcomeTemplate: v.GetInt("LISTMONK_WELCOME_TEMPLATE_ID"),
			ResetTemplateID: v.GetInt("LISTMONK_RESET_TEMPLATE_ID"),
		},
		Redis:   RedisConfig{URL: v.GetString("REDIS_URL")},
		GeoIPDB: v.GetString("GEOIP_DB_PATH"),
		Metrics: v.GetBool("METRICS_ENABLED"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("TOKEN_TTL", 7*24*time.Hour)
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("S3_ENDPOINT", "http://localhost:9000")
	v.SetDefault("S3_BUCKET", "streamify")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("MAX_UPLOAD_BYTES", 500*1024*1024)

	v.SetDefault("LISTMONK_USER", "admin")
	v.SetDefault("METRICS_ENABLED", true)
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "CHATKEEPER_"

type envConfig struct {
	DatabaseDSN            string        `env:"DATABASE_DSN"`
	S3RootUser             string        `env:"S3_ROOT_USER"`
	S3RootPassword         string        `env:"S3_ROOT_PASSWORD"`
	S3Bucket               string        `env:"S3_BUCKET"`
	S3Region               string        `env:"S3_REGION"`
	S3BaseEndpoint         string        `env:"S3_BASE_ENDPOINT"`
	BlobBackend            string        `env:"BLOB_BACKEND"`
	PresignTTL             time.Duration `env:"PRESIGN_TTL"`
	DefaultModel           string        `env:"DEFAULT_MODEL"`
	MaterializeConcurrency int           `env:"MATERIALIZE_CONCURRENCY"`
	LockBackend            string        `env:"LOCK_BACKEND"`
	RedisAddr              string        `env:"REDIS_ADDR"`
	OpenAIAPIKey           string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL          string        `env:"OPENAI_BASE_URL"`
	GeminiAPIKey           string        `env:"GEMINI_API_KEY"`
	YandexOAuthToken       string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID         string        `env:"YANDEX_FOLDER_ID"`
	LogFormat              string        `env:"LOG_FORMAT"`
	LogLevel               string        `env:"LOG_LEVEL"`
}

// parseEnv overlays CHATKEEPER_* variables onto config. environ replaces the
// process environment when non-nil.
func parseEnv(config *Config, environ map[string]string) error {
	var e envConfig
	if err := env.Parse(&e, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	fc := FileConfig{
		DatabaseDSN:            e.DatabaseDSN,
		S3RootUser:             e.S3RootUser,
		S3RootPassword:         e.S3RootPassword,
		S3Bucket:               e.S3Bucket,
		S3Region:               e.S3Region,
		S3BaseEndpoint:         e.S3BaseEndpoint,
		BlobBackend:            e.BlobBackend,
		DefaultModel:           e.DefaultModel,
		MaterializeConcurrency: e.MaterializeConcurrency,
		LockBackend:            e.LockBackend,
		RedisAddr:              e.RedisAddr,
		OpenAIAPIKey:           e.OpenAIAPIKey,
		OpenAIBaseURL:          e.OpenAIBaseURL,
		GeminiAPIKey:           e.GeminiAPIKey,
		YandexOAuthToken:       e.YandexOAuthToken,
		YandexFolderID:         e.YandexFolderID,
		LogFormat:              e.LogFormat,
		LogLevel:               e.LogLevel,
	}
	fc.PresignTTL.Duration = e.PresignTTL
	fc.apply(config)
	return nil
}

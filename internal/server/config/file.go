package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of a configuration file. Durations use
// timex.Duration so they can be written as "144h" or as nanoseconds.
// Only fields present with non-zero values override the current Config.
type FileConfig struct {
	DatabaseDSN            string         `json:"database_dsn" yaml:"database_dsn"`
	S3RootUser             string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword         string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket               string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region               string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint         string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	BlobBackend            string         `json:"blob_backend" yaml:"blob_backend"`
	PresignTTL             timex.Duration `json:"presign_ttl" yaml:"presign_ttl"`
	DefaultModel           string         `json:"default_model" yaml:"default_model"`
	MaterializeConcurrency int            `json:"materialize_concurrency" yaml:"materialize_concurrency"`
	LockBackend            string         `json:"lock_backend" yaml:"lock_backend"`
	RedisAddr              string         `json:"redis_addr" yaml:"redis_addr"`
	OpenAIAPIKey           string         `json:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL          string         `json:"openai_base_url" yaml:"openai_base_url"`
	GeminiAPIKey           string         `json:"gemini_api_key" yaml:"gemini_api_key"`
	YandexOAuthToken       string         `json:"yandex_oauth_token" yaml:"yandex_oauth_token"`
	YandexFolderID         string         `json:"yandex_folder_id" yaml:"yandex_folder_id"`
	LogFormat              string         `json:"log_format" yaml:"log_format"`
	LogLevel               string         `json:"log_level" yaml:"log_level"`
}

// parseFile overlays the file at path onto config. ".yaml" and ".yml" files
// are read as YAML, anything else as JSON.
func parseFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.BlobBackend, c.BlobBackend)
	if c.PresignTTL.Duration != 0 {
		config.PresignTTL = c.PresignTTL.Duration
	}
	setString(&config.DefaultModel, c.DefaultModel)
	if c.MaterializeConcurrency != 0 {
		config.MaterializeConcurrency = c.MaterializeConcurrency
	}
	setString(&config.LockBackend, c.LockBackend)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.OpenAIAPIKey, c.OpenAIAPIKey)
	setString(&config.OpenAIBaseURL, c.OpenAIBaseURL)
	setString(&config.GeminiAPIKey, c.GeminiAPIKey)
	setString(&config.YandexOAuthToken, c.YandexOAuthToken)
	setString(&config.YandexFolderID, c.YandexFolderID)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

package config

import (
	"github.com/spf13/pflag"
)

// Flags binds configuration flags to a flag set. Only flags the user actually
// set override lower layers.
type Flags struct {
	fs         *pflag.FlagSet
	values     Config
	configFile string
}

// RegisterFlags defines the configuration flags on fs (typically the
// persistent flag set of the root command).
//
// Short forms:
//
//	-c  configuration file (JSON, or YAML by extension)
//	-d  PostgreSQL DSN
//	-u  S3 root user
//	-p  S3 root password
//	-b  S3 bucket
//	-g  S3 region
//	-e  S3 base endpoint
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	f.values.LoadDefaults()
	v := &f.values

	fs.StringVarP(&f.configFile, "config", "c", "", "path to a JSON or YAML config file")
	fs.StringVarP(&v.DatabaseDSN, "database-dsn", "d", v.DatabaseDSN, "database DSN")
	fs.StringVarP(&v.S3RootUser, "s3-user", "u", v.S3RootUser, "S3 root user")
	fs.StringVarP(&v.S3RootPassword, "s3-password", "p", v.S3RootPassword, "S3 root password")
	fs.StringVarP(&v.S3Bucket, "s3-bucket", "b", v.S3Bucket, "S3 bucket")
	fs.StringVarP(&v.S3Region, "s3-region", "g", v.S3Region, "S3 region")
	fs.StringVarP(&v.S3BaseEndpoint, "s3-endpoint", "e", v.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&v.BlobBackend, "blob-backend", v.BlobBackend, "blob backend: s3 or memory")
	fs.DurationVar(&v.PresignTTL, "presign-ttl", v.PresignTTL, "presigned URL lifetime")
	fs.StringVar(&v.DefaultModel, "default-model", v.DefaultModel, "model used when none is given")
	fs.IntVar(&v.MaterializeConcurrency, "materialize-concurrency", v.MaterializeConcurrency, "parallel blob fetches when listing")
	fs.StringVar(&v.LockBackend, "lock-backend", v.LockBackend, "append lock: local, redis or none")
	fs.StringVar(&v.RedisAddr, "redis-addr", v.RedisAddr, "redis address for the redis lock backend")
	fs.StringVar(&v.OpenAIAPIKey, "openai-api-key", v.OpenAIAPIKey, "OpenAI API key")
	fs.StringVar(&v.OpenAIBaseURL, "openai-base-url", v.OpenAIBaseURL, "OpenAI-compatible base URL")
	fs.StringVar(&v.GeminiAPIKey, "gemini-api-key", v.GeminiAPIKey, "Gemini API key")
	fs.StringVar(&v.YandexOAuthToken, "yandex-oauth-token", v.YandexOAuthToken, "Yandex OAuth token")
	fs.StringVar(&v.YandexFolderID, "yandex-folder-id", v.YandexFolderID, "Yandex Cloud folder id")
	fs.StringVar(&v.LogFormat, "log-format", v.LogFormat, "log format: json, text, console or zerolog")
	fs.StringVar(&v.LogLevel, "log-level", v.LogLevel, "log level: debug, info, warn or error")

	return f
}

// apply copies the explicitly set flags onto config.
func (f *Flags) apply(config *Config) {
	v := &f.values
	setters := map[string]func(){
		"database-dsn":            func() { config.DatabaseDSN = v.DatabaseDSN },
		"s3-user":                 func() { config.S3RootUser = v.S3RootUser },
		"s3-password":             func() { config.S3RootPassword = v.S3RootPassword },
		"s3-bucket":               func() { config.S3Bucket = v.S3Bucket },
		"s3-region":               func() { config.S3Region = v.S3Region },
		"s3-endpoint":             func() { config.S3BaseEndpoint = v.S3BaseEndpoint },
		"blob-backend":            func() { config.BlobBackend = v.BlobBackend },
		"presign-ttl":             func() { config.PresignTTL = v.PresignTTL },
		"default-model":           func() { config.DefaultModel = v.DefaultModel },
		"materialize-concurrency": func() { config.MaterializeConcurrency = v.MaterializeConcurrency },
		"lock-backend":            func() { config.LockBackend = v.LockBackend },
		"redis-addr":              func() { config.RedisAddr = v.RedisAddr },
		"openai-api-key":          func() { config.OpenAIAPIKey = v.OpenAIAPIKey },
		"openai-base-url":         func() { config.OpenAIBaseURL = v.OpenAIBaseURL },
		"gemini-api-key":          func() { config.GeminiAPIKey = v.GeminiAPIKey },
		"yandex-oauth-token":      func() { config.YandexOAuthToken = v.YandexOAuthToken },
		"yandex-folder-id":        func() { config.YandexFolderID = v.YandexFolderID },
		"log-format":              func() { config.LogFormat = v.LogFormat },
		"log-level":               func() { config.LogLevel = v.LogLevel },
	}

	f.fs.Visit(func(fl *pflag.Flag) {
		if set, ok := setters[fl.Name]; ok {
			set()
		}
	})
}

// Load builds a Config from defaults, the config file named by -c, the
// environment (nil means the process environment) and the parsed flags, then
// validates it.
func (f *Flags) Load(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if f.configFile != "" {
		if err := parseFile(cfg, f.configFile); err != nil {
			return nil, err
		}
	}
	if err := parseEnv(cfg, environ); err != nil {
		return nil, err
	}
	f.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

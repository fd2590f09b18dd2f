package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "ZKVAULT"

	// StorageBackendLocal selects the filesystem chunk store.
	StorageBackendLocal = "local"
	// StorageBackendS3 selects the S3-compatible chunk store.
	StorageBackendS3 = "s3"

	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "zkvault.db"
	defaultLogLevel         = "info"
	defaultAccessTTLMinutes = 15
	defaultRefreshTTLHours  = 30 * 24
	defaultStorageBackend   = StorageBackendLocal
	defaultStoragePath      = "data/chunks"
	defaultMaxChunkBytes    = 10 << 20
	defaultS3Region         = "us-east-1"
	defaultS3Bucket         = "zkvault"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	StorageBackend string
	StoragePath    string
	MaxChunkBytes  int64

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.access_ttl_minutes", defaultAccessTTLMinutes)
	configViper.SetDefault("auth.refresh_ttl_hours", defaultRefreshTTLHours)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.path", defaultStoragePath)
	configViper.SetDefault("storage.max_chunk_bytes", defaultMaxChunkBytes)
	configViper.SetDefault("s3.region", defaultS3Region)
	configViper.SetDefault("s3.bucket", defaultS3Bucket)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		AccessTTL:      time.Duration(configViper.GetInt("auth.access_ttl_minutes")) * time.Minute,
		RefreshTTL:     time.Duration(configViper.GetInt("auth.refresh_ttl_hours")) * time.Hour,
		StorageBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		StoragePath:    configViper.GetString("storage.path"),
		MaxChunkBytes:  configViper.GetInt64("storage.max_chunk_bytes"),
		S3Endpoint:     configViper.GetString("s3.endpoint"),
		S3Region:       configViper.GetString("s3.region"),
		S3Bucket:       configViper.GetString("s3.bucket"),
		S3AccessKey:    configViper.GetString("s3.access_key"),
		S3SecretKey:    configViper.GetString("s3.secret_key"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MaxChunkBytes <= 0 {
		return fmt.Errorf("storage.max_chunk_bytes must be positive")
	}

	switch c.StorageBackend {
	case StorageBackendLocal:
		if strings.TrimSpace(c.StoragePath) == "" {
			return fmt.Errorf("storage.path is required for the local backend")
		}
	case StorageBackendS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			return fmt.Errorf("s3.bucket is required for the s3 backend")
		}
		if strings.TrimSpace(c.S3AccessKey) == "" || strings.TrimSpace(c.S3SecretKey) == "" {
			return fmt.Errorf("s3.access_key and s3.secret_key are required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageBackendLocal, StorageBackendS3, c.StorageBackend)
	}

	return nil
}

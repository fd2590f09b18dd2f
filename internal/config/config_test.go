package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %q", cfg.HTTPAddress)
	}
	if cfg.StorageBackend != StorageBackendLocal {
		t.Fatalf("expected local backend by default, got %q", cfg.StorageBackend)
	}
	if cfg.MaxChunkBytes != 10<<20 {
		t.Fatalf("unexpected max chunk bytes: %d", cfg.MaxChunkBytes)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTTL)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for missing signing secret")
	}
}

func TestLoadRejectsUnknownStorageBackend(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("storage.backend", "tape")

	_, err := Load(configViper)
	if err == nil || !strings.Contains(err.Error(), "storage.backend") {
		t.Fatalf("expected storage backend error, got %v", err)
	}
}

func TestLoadS3BackendRequiresCredentials(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("storage.backend", "s3")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for missing s3 credentials")
	}

	configViper.Set("s3.access_key", "minioadmin")
	configViper.Set("s3.secret_key", "minioadmin")
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.S3Bucket != "zkvault" {
		t.Fatalf("unexpected default bucket: %q", cfg.S3Bucket)
	}
}

func TestLoadNormalizesBackendCase(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("storage.backend", " Local ")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.StorageBackend != StorageBackendLocal {
		t.Fatalf("expected normalized backend, got %q", cfg.StorageBackend)
	}
}

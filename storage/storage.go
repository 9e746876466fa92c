package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage is the blob store for petition attachments. Keys are opaque to
// callers; the repository persists them alongside attachment rows.
type Storage interface {
	// Upload stores a blob and returns its storage key
	Upload(ctx context.Context, attachmentID uuid.UUID, filename string, data io.Reader) (string, error)

	// Download retrieves a blob by storage key
	Download(ctx context.Context, storageKey string) (io.ReadCloser, error)

	// Delete removes a blob by storage key
	Delete(ctx context.Context, storageKey string) error
}

// BackendType represents the storage backend type
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendS3    BackendType = "s3"
)

// BackendConfig holds configuration for storage
type BackendConfig struct {
	Type         BackendType
	LocalPath    string // For local storage
	S3Bucket     string // For S3 storage
	S3Region     string // For S3 storage
	AWSAccessKey string
	AWSSecretKey string
}

// New creates a storage instance based on configuration
func New(cfg BackendConfig) (Storage, error) {
	switch cfg.Type {
	case BackendLocal:
		return NewLocalStorage(cfg.LocalPath)
	case BackendS3:
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// NewFromEnv creates a storage instance from environment variables
func NewFromEnv() (Storage, error) {
	backend := os.Getenv("STORAGE_TYPE")
	if backend == "" {
		backend = "local" // Default to local for development
	}

	cfg := BackendConfig{Type: BackendType(backend)}
	switch cfg.Type {
	case BackendLocal:
		cfg.LocalPath = os.Getenv("STORAGE_LOCAL_PATH")
		if cfg.LocalPath == "" {
			cfg.LocalPath = "./storage/files"
		}

	case BackendS3:
		cfg.S3Bucket = os.Getenv("AWS_S3_BUCKET")
		cfg.S3Region = os.Getenv("AWS_REGION")
		cfg.AWSAccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		cfg.AWSSecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		if cfg.S3Region == "" {
			cfg.S3Region = "us-east-1"
		}
		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET environment variable is required for S3 storage")
		}
	}

	return New(cfg)
}

// generateStorageKey generates a unique storage key for an attachment. The
// attachment id guarantees uniqueness; the sanitized original name keeps
// keys human-readable.
func generateStorageKey(attachmentID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filepath.Base(filename), ext)
	baseName = strings.ReplaceAll(baseName, " ", "_")
	baseName = strings.ReplaceAll(baseName, "/", "_")
	baseName = strings.ReplaceAll(baseName, "\\", "_")

	return fmt.Sprintf("peticiones/%s_%s%s", attachmentID.String(), baseName, ext)
}

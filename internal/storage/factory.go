package storage

import (
	"strings"

	appconfig "github.com/timmy/sweepd/internal/config"
)

// NewStorage creates an ObjectStorage from the export configuration.
// Parameters:
//   - cfg: export configuration including endpoint, credentials and bucket.
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg appconfig.ExportConfig) (ObjectStorage, error) {
	return NewS3Storage(S3ConfigFrom(cfg))
}

// S3ConfigFrom maps export settings to an S3Config, detecting the storage
// flavour from the endpoint when the type is unset.
func S3ConfigFrom(cfg appconfig.ExportConfig) *S3Config {
	storeType := StorageType(cfg.Type)
	if storeType == "" || storeType == StorageTypeS3 && cfg.Endpoint != "" {
		storeType = detectStorageType(cfg.Endpoint)
	}
	return &S3Config{
		Type:      storeType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
		Prefix:    cfg.Prefix,
	}
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "", strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	default:
		return StorageTypeS3Compatible
	}
}

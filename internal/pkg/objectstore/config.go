package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/GenFox/internal/pkg/env"
)

// Config holds object storage configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	PublicBaseURL   string // Optional CDN or bucket website in front of the objects
	KeyPrefix       string
	Enabled         bool
	FetchTimeout    time.Duration
	MaxObjectBytes  int64
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		PublicBaseURL:   env.GetEnv("S3_PUBLIC_BASE_URL", ""),
		KeyPrefix:       env.GetEnv("S3_KEY_PREFIX", "generations"),
		Enabled:         env.GetEnv("S3_STORAGE_ENABLED", "false") == "true",
		FetchTimeout:    env.GetEnvSeconds("S3_FETCH_TIMEOUT_SECONDS", 60*time.Second),
		MaxObjectBytes:  int64(env.GetEnvInt("S3_MAX_OBJECT_MB", 50)) << 20,
	}

	// Validate required fields if storage is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 storage is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 storage is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 storage is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if outputs are copied to object storage
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey generates the object key of one job output.
// Format: <prefix>/YYYY/MM/<job id>/<index><ext>
func (c *Config) ObjectKey(jobID string, index int, ext string, at time.Time) string {
	key := fmt.Sprintf("%04d/%02d/%s/%d%s", at.Year(), int(at.Month()), jobID, index, ext)
	prefix := strings.Trim(c.KeyPrefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// PublicURL returns the URL clients use to fetch an object.
func (c *Config) PublicURL(objectKey string) string {
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/") + "/" + objectKey
	}
	if c.EndpointURL != "" {
		// Path-style, as configured on the client for S3-compatible services.
		return strings.TrimRight(c.EndpointURL, "/") + "/" + c.BucketName + "/" + objectKey
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.BucketName, c.Region, objectKey)
}

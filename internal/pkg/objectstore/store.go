// Package objectstore copies provider outputs into the S3 bucket the API serves from.
package objectstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

var (
	ErrUnsupportedSource = errors.New("unsupported output source")
	ErrTooLarge          = errors.New("output exceeds size limit")
)

// Uploader is the part of the S3 client used to write objects.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store copies outputs into object storage. A disabled store passes sources through.
type Store struct {
	cfg      *Config
	uploader Uploader
	http     *http.Client
	now      func() time.Time
}

// New builds a store from configuration. When storage is disabled the
// provider URLs are kept as they are.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if !cfg.IsEnabled() {
		log.Warn("[ObjectStore] S3 storage disabled, provider URLs are served directly")
		return &Store{cfg: cfg, now: time.Now}, nil
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[ObjectStore] Storing outputs in bucket %s", cfg.BucketName)
	return NewWithUploader(cfg, client, &http.Client{Timeout: cfg.FetchTimeout}), nil
}

// NewWithUploader builds an enabled store on an existing uploader.
func NewWithUploader(cfg *Config, uploader Uploader, httpClient *http.Client) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Store{cfg: cfg, uploader: uploader, http: httpClient, now: time.Now}
}

// Enabled reports whether outputs are copied.
func (s *Store) Enabled() bool {
	return s.uploader != nil
}

// Store copies one output and returns the URL to serve.
func (s *Store) Store(ctx context.Context, jobID string, index int, source string) (string, error) {
	if !s.Enabled() {
		return source, nil
	}

	body, contentType, err := s.fetch(ctx, source)
	if err != nil {
		return "", err
	}

	key := s.cfg.ObjectKey(jobID, index, extensionFor(contentType, source), s.now().UTC())
	_, err = s.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"job-id":        jobID,
			"upload-source": "genfox-worker",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Infof("[ObjectStore] Stored output %d of job %s as s3://%s/%s (%d bytes)", index, jobID, s.cfg.BucketName, key, len(body))
	return s.cfg.PublicURL(key), nil
}

// fetch resolves an output reference to its bytes and content type.
func (s *Store) fetch(ctx context.Context, source string) ([]byte, string, error) {
	if strings.HasPrefix(source, "data:") {
		return decodeDataURL(source, s.maxBytes())
	}
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("%w: %.64s", ErrUnsupportedSource, source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", u.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("download %s: status %d", u.Host, resp.StatusCode)
	}

	limit := s.maxBytes()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", u.Host, err)
	}
	if int64(len(body)) > limit {
		return nil, "", ErrTooLarge
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = getContentType(path.Ext(u.Path))
	}
	return body, contentType, nil
}

func (s *Store) maxBytes() int64 {
	if s.cfg.MaxObjectBytes > 0 {
		return s.cfg.MaxObjectBytes
	}
	return 50 << 20
}

// decodeDataURL handles data:<type>;base64,<payload>.
func decodeDataURL(source string, limit int64) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(source, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("%w: data URL must be base64", ErrUnsupportedSource)
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > limit+2 {
		return nil, "", ErrTooLarge
	}
	body, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URL: %w", err)
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}

func extensionFor(contentType, source string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/avif":
		return ".avif"
	case "video/mp4":
		return ".mp4"
	}
	if !strings.HasPrefix(source, "data:") {
		if u, err := url.Parse(source); err == nil {
			if ext := path.Ext(u.Path); ext != "" && len(ext) <= 6 {
				return strings.ToLower(ext)
			}
		}
	}
	return ".bin"
}

// getContentType returns the MIME type based on file extension
func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".avif":
		return "image/avif"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

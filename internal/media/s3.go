package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Opts holds configuration options for S3-compatible storage.
type S3Opts struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	PublicURL string
}

// S3Option defines a configuration option for S3 storage creation.
type S3Option func(*S3Opts)

// WithS3Endpoint sets a custom endpoint for S3-compatible providers.
func WithS3Endpoint(endpoint string) S3Option {
	return func(o *S3Opts) { o.Endpoint = endpoint }
}

// WithS3Region sets the bucket region.
func WithS3Region(region string) S3Option {
	return func(o *S3Opts) { o.Region = region }
}

// WithS3Bucket sets the bucket name.
func WithS3Bucket(bucket string) S3Option {
	return func(o *S3Opts) { o.Bucket = bucket }
}

// WithS3Credentials sets static access credentials.
func WithS3Credentials(accessKey, secretKey string) S3Option {
	return func(o *S3Opts) {
		o.AccessKey = accessKey
		o.SecretKey = secretKey
	}
}

// WithS3PathStyle forces path-style URLs, required by MinIO and some
// S3-compatible providers.
func WithS3PathStyle(pathStyle bool) S3Option {
	return func(o *S3Opts) { o.PathStyle = pathStyle }
}

// WithS3PublicURL sets the base URL used to build object URLs returned to the
// gateway, for buckets served through a CDN or proxy.
func WithS3PublicURL(url string) S3Option {
	return func(o *S3Opts) { o.PublicURL = url }
}

// S3Storage stores simulation images in an S3-compatible bucket.
type S3Storage struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

var _ Storage = (*S3Storage)(nil)

// NewS3Storage creates S3-backed storage. Bucket, region, and credentials are
// required.
func NewS3Storage(opts ...S3Option) (*S3Storage, error) {
	var cfg S3Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not set")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region not set")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials not set")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	// Buckets with dots break virtual-host TLS; force path style for them.
	pathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" {
		if cfg.Endpoint != "" {
			publicURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	slog.Debug("media.NewS3Storage: configured", "bucket", cfg.Bucket, "region", cfg.Region, "pathStyle", pathStyle)
	return &S3Storage{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// Upload stores data under key and returns its public URL.
func (s *S3Storage) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if strings.HasPrefix(contentType, "image/") {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		slog.Error("media.S3Storage.Upload failed", "error", err, "key", key, "bucket", s.bucket)
		return "", fmt.Errorf("s3 upload of %s failed: %w", key, err)
	}
	url := fmt.Sprintf("%s/%s", s.publicURL, key)
	slog.Debug("media.S3Storage.Upload succeeded", "key", key, "bytes", len(data), "url", url)
	return url, nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"stevedore/pkg/logging"
)

// S3Config holds configuration for the permanent media store
type S3Config struct {
	Bucket        string // S3 bucket name
	Prefix        string // Key prefix for all uploads
	Region        string // AWS region (default: us-east-1)
	Endpoint      string // Custom endpoint for S3-compatible storage (MinIO, etc.)
	AccessKey     string // AWS access key (optional, uses IAM roles if empty)
	SecretKey     string // AWS secret key (optional, uses IAM roles if empty)
	PublicBaseURL string // Base URL media is served from (CDN or bucket website)
}

// S3Client uploads media bytes to permanent storage and builds public URLs
type S3Client struct {
	client     *s3.Client
	config     S3Config
	publicHost string
	logger     logging.Logger
}

// NewS3Client creates a permanent media store client
func NewS3Client(cfg S3Config, logger logging.Logger) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")

	publicURL, err := url.Parse(cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid public base URL: %w", err)
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	// Use explicit credentials if provided, otherwise use default credential chain (IAM roles)
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO and most S3-compatible storage
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	logger.WithFields(logging.Fields{
		"bucket":     cfg.Bucket,
		"prefix":     cfg.Prefix,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"public_url": cfg.PublicBaseURL,
	}).Info("Media store client initialized")

	return &S3Client{
		client:     client,
		config:     cfg,
		publicHost: publicURL.Host,
		logger:     logger,
	}, nil
}

// fullKey returns the full S3 key including prefix
func (c *S3Client) fullKey(key string) string {
	if c.config.Prefix == "" {
		return strings.TrimPrefix(key, "/")
	}
	return strings.TrimSuffix(c.config.Prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Upload writes the object and returns its public URL
func (c *S3Client) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	fullKey := c.fullKey(key)

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         aws.String(fullKey),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", fullKey, err)
	}

	publicURL := c.PublicURL(key)

	c.logger.WithFields(logging.Fields{
		"bucket": c.config.Bucket,
		"key":    fullKey,
		"url":    publicURL,
	}).Debug("Uploaded media object")

	return publicURL, nil
}

// PublicURL builds the public URL an uploaded key is served from
func (c *S3Client) PublicURL(key string) string {
	return c.config.PublicBaseURL + "/" + c.fullKey(key)
}

// Host returns the host media is served from. The migrator uses it to detect
// URLs that are already permanent.
func (c *S3Client) Host() string {
	return c.publicHost
}

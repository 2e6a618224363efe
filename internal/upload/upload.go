// Package upload copies finished recordings to S3-compatible storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned by Upload when bucket or credentials are missing.
var ErrNotConfigured = errors.New("upload is not configured")

// DefaultTimeout bounds a single upload.
const DefaultTimeout = 5 * time.Minute

// Config describes the upload target.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
	Logger          zerolog.Logger
}

// IsConfigured reports whether bucket and credentials are set.
func (c *Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Uploader puts recordings into a bucket.
type Uploader struct {
	cfg    Config
	client *s3.Client
	log    zerolog.Logger
}

// New creates an Uploader. It does not contact the endpoint.
func New(cfg Config) (*Uploader, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Uploader{
		cfg:    cfg,
		client: createS3Client(&cfg),
		log:    cfg.Logger.With().Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

func createS3Client(cfg *Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	// Custom endpoints (MinIO, R2, B2) want path-style addressing.
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Key returns the object key for a local file.
func (u *Uploader) Key(localPath string) string {
	return path.Join(u.cfg.Prefix, filepath.Base(localPath))
}

// Upload puts the file at localPath into the bucket and returns its key.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open recording for upload: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			u.log.Warn().Err(err).Msg("Failed to close file after upload")
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat recording: %w", err)
	}

	key := u.Key(localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/wav"),
	})
	if err != nil {
		u.log.Error().Err(err).Str("key", key).Msg("Upload failed")
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	u.log.Info().Str("key", key).Int64("bytes", info.Size()).Msg("Upload completed")
	return key, nil
}

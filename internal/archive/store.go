// Package archive uploads backup artifacts to an S3-compatible store and
// hands out time-limited download URLs for them.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/polarfoxDev/wharf/internal/config"
)

// Object locates one uploaded artifact
type Object struct {
	Key      string `json:"key"`
	Bucket   string `json:"bucket"`
	Location string `json:"location"` // retrievable URL, valid for the configured expiry
}

// Store is the archive store as seen by the orchestrator
type Store interface {
	Upload(ctx context.Context, r io.Reader, size int64, name string) (Object, error)
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ErrDisabled is returned by every call when no bucket is configured
var ErrDisabled = errors.New("archive store not configured")

// S3Store implements Store on top of aws-sdk-go-v2
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
	now     func() time.Time
}

// New builds the store from config. An explicit endpoint (MinIO, Ceph RGW,
// Hetzner...) uses static credentials; otherwise the default AWS chain.
func New(ctx context.Context, cfg config.ArchiveConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrDisabled
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.New(s3.Options{
			BaseEndpoint:               aws.String(cfg.Endpoint),
			Region:                     cfg.Region,
			Credentials:                credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			UsePathStyle:               cfg.UsePathStyle,
			RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		})
	} else {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	expiry := cfg.URLExpiry.Duration
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		expiry:  expiry,
		now:     time.Now,
	}, nil
}

// key renders <prefix>/<yyyy>/<mm>/<dd>/<random>-<name>
func (s *S3Store) key(name string) string {
	day := s.now().UTC().Format("2006/01/02")
	k := path.Join(day, uuid.NewString()[:8]+"-"+path.Base(name))
	if s.prefix != "" {
		k = s.prefix + "/" + k
	}
	return k
}

// Upload stores r under a fresh key. Pass an *os.File when possible: the
// SDK needs a seekable body to sign plain-HTTP requests.
func (s *S3Store) Upload(ctx context.Context, r io.Reader, size int64, name string) (Object, error) {
	key := s.key(name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	switch path.Ext(name) {
	case ".zip":
		input.ContentType = aws.String("application/zip")
	case ".sql":
		input.ContentType = aws.String("application/sql")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Object{}, fmt.Errorf("upload %s to %s: %w", name, s.bucket, err)
	}
	loc, err := s.URL(ctx, key)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, Bucket: s.bucket, Location: loc}, nil
}

// URL presigns a GET for key, valid for the configured expiry
func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Bucket returns the configured bucket name
func (s *S3Store) Bucket() string { return s.bucket }

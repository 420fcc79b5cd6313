package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by the store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config holds the bucket layout of an S3 store.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key; a trailing slash is added if missing.
	Prefix string
	// TempDir receives downloaded objects. Empty uses os.TempDir.
	TempDir string
}

// S3 serves keys from an S3-compatible bucket. Objects are downloaded to
// scratch files because the netCDF reader needs random access.
type S3 struct {
	client  S3API
	bucket  string
	prefix  string
	tempDir string
}

// NewS3 creates an S3 store with a pre-configured client.
func NewS3(client S3API, cfg S3Config) (*S3, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: cfg.Bucket, prefix: prefix, tempDir: cfg.TempDir}, nil
}

// Exists issues a HeadObject for key.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head object: %w", err)
	}
	return true, nil
}

// Fetch downloads key to a scratch file; release removes it.
func (s *S3) Fetch(ctx context.Context, key string) (string, func(), error) {
	full, err := s.fullKey(key)
	if err != nil {
		return "", nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return "", nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return "", nil, fmt.Errorf("s3: get object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	tmp, err := os.CreateTemp(s.tempDir, "climatedata-s3-*"+path.Ext(full))
	if err != nil {
		return "", nil, err
	}
	release := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, out.Body); err != nil {
		_ = tmp.Close()
		release()
		return "", nil, fmt.Errorf("s3: download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		release()
		return "", nil, err
	}
	return tmp.Name(), release, nil
}

func (s *S3) fullKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", ErrInvalidKey
	}
	return s.prefix + cleaned, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// ClientConfig holds the settings used to build an S3 client.
type ClientConfig struct {
	Region string
	// Endpoint targets S3-compatible services such as MinIO.
	Endpoint     string
	UsePathStyle bool
	// Static credentials; the default chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient creates an S3 client for cfg.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

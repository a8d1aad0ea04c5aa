package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/rs/zerolog"
)

// Uploads at or above the threshold go through the multipart uploader
const (
	multipartThreshold   = 32 * 1024 * 1024
	multipartPartSize    = 8 * 1024 * 1024
	multipartConcurrency = 3
)

// S3Config holds S3 backend configuration
type S3Config struct {
	Bucket    string
	Prefix    string // key prefix prepended to every path
	Region    string
	Endpoint  string // custom endpoint for MinIO, e.g. "localhost:9000"
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool // path-style addressing, required for MinIO

	// MultipartThreshold in bytes; zero means 32MB
	MultipartThreshold int64
}

// S3Backend stores objects in an S3 or MinIO bucket
type S3Backend struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	threshold int64
	logger    zerolog.Logger
}

// NewS3Backend connects to the bucket named in cfg. A bucket that cannot be
// reached is logged, not fatal: reports are only written at the end of a run.
func NewS3Backend(cfg *S3Config, logger zerolog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	log := logger.With().Str("component", "s3-storage").Str("bucket", cfg.Bucket).Logger()

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if creds := staticCredentials(cfg); creds != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
		log.Info().Msg("Using static S3 credentials")
	} else {
		log.Info().Msg("Using default AWS credential chain")
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep := endpointURL(cfg.Endpoint, cfg.UseSSL); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	b := &S3Backend{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = multipartPartSize
			u.Concurrency = multipartConcurrency
		}),
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		threshold: cfg.MultipartThreshold,
		logger:    log,
	}
	if b.threshold <= 0 {
		b.threshold = multipartThreshold
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		log.Warn().Err(err).Msg("Could not verify report bucket")
	} else {
		log.Info().Str("endpoint", endpointURL(cfg.Endpoint, cfg.UseSSL)).Msg("Connected to report bucket")
	}
	return b, nil
}

// staticCredentials returns a provider for configured keys, falling back to
// the AWS_ environment variables, or nil to use the default chain.
func staticCredentials(cfg *S3Config) aws.CredentialsProvider {
	access, secret := cfg.AccessKey, cfg.SecretKey
	if access == "" {
		access = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if secret == "" {
		secret = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if access == "" || secret == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(access, secret, "")
}

// endpointURL adds a scheme to a bare host:port endpoint
func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// key prefixes path with the configured key prefix
func (b *S3Backend) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if b.prefix == "" {
		return path
	}
	return b.prefix + "/" + path
}

// Write uploads data, using multipart upload for large objects
func (b *S3Backend) Write(ctx context.Context, path string, data []byte) error {
	start := time.Now()
	key := b.key(path)
	contentType := contentTypeFor(path)

	var err error
	if int64(len(data)) >= b.threshold {
		_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
	} else {
		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
		})
	}
	if err != nil {
		metrics.Get().IncStorageErrors()
		b.logger.Error().Err(err).Str("key", key).Int("size", len(data)).Msg("Failed to write to S3")
		return fmt.Errorf("failed to write to S3: %w", err)
	}

	metrics.Get().IncStorageWrites()
	metrics.Get().IncStorageWriteBytes(int64(len(data)))
	b.logger.Debug().
		Str("key", key).
		Int("size", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Wrote object to S3")
	return nil
}

// Read downloads the object at path
func (b *S3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("object not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	metrics.Get().IncStorageReads()
	return data, nil
}

// Exists checks if an object exists at path
func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// Delete removes the object at path
func (b *S3Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns object paths under prefix, relative to the backend's key prefix
func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var results []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if b.prefix != "" {
				key = strings.TrimPrefix(key, b.prefix+"/")
			}
			results = append(results, key)
		}
	}
	return results, nil
}

// Location returns the s3:// URL for path
func (b *S3Backend) Location(path string) string {
	return "s3://" + b.bucket + "/" + b.key(path)
}

// Close is a no-op; the S3 client holds no persistent resources
func (b *S3Backend) Close() error {
	return nil
}

// Type returns the storage type identifier
func (b *S3Backend) Type() string {
	return "s3"
}

// isNotFoundError checks if an error indicates the object doesn't exist
func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	// HeadObject on some S3-compatible stores returns a bare 404
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "StatusCode: 404")
}

// contentTypeFor picks the object content type so browsers render reports inline
func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".msgpack"):
		return "application/msgpack"
	}
	return "application/octet-stream"
}

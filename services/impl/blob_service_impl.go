package impl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	appconfig "github.com/doc-catalog/config"
	"github.com/doc-catalog/services"
)

// S3Client abstracts the AWS S3 SDK client so tests can inject a mock.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type blobServiceImpl struct {
	client    S3Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
	log       *logrus.Entry
}

// NewS3Client builds an S3 client from config. Path-style addressing is
// required for MinIO.
func NewS3Client(ctx context.Context, cfg *appconfig.BlobConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	})
	return client, nil
}

// NewBlobService creates a BlobService over the given S3 client. It verifies
// the bucket is reachable and creates it when missing.
func NewBlobService(ctx context.Context, client *s3.Client, bucket string, log *logrus.Entry) (services.BlobService, error) {
	svc := &blobServiceImpl{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		log:       log,
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, fmt.Errorf("bucket %s is not accessible: %w", bucket, err)
		}
		log.WithField("bucket", bucket).Info("created blob bucket")
	}
	return svc, nil
}

// NewBlobServiceWithClient wires a preconstructed client without the bucket
// probe. Used by tests with a mock S3Client.
func NewBlobServiceWithClient(client S3Client, bucket string, log *logrus.Entry) services.BlobService {
	return &blobServiceImpl{client: client, bucket: bucket, log: log}
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: blob key must not be empty", services.ErrValidation)
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: blob key contains traversal sequences", services.ErrValidation)
	}
	return nil
}

func (s *blobServiceImpl) Put(ctx context.Context, key string, body io.Reader, sizeBytes int64, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if sizeBytes > 0 {
		input.ContentLength = aws.Int64(sizeBytes)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	// The uploader chunks large bodies into multipart uploads. Mock-backed
	// instances fall back to a single PutObject.
	if s.uploader != nil {
		if _, err := s.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("%w: failed to store blob %s: %v", services.ErrStorage, key, err)
		}
		return nil
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to store blob %s: %v", services.ErrStorage, key, err)
	}
	return nil
}

func (s *blobServiceImpl) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: blob %s", services.ErrBlobMissing, key)
		}
		return nil, fmt.Errorf("%w: failed to read blob %s: %v", services.ErrStorage, key, err)
	}
	return result.Body, nil
}

func (s *blobServiceImpl) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to head blob %s: %v", services.ErrStorage, key, err)
	}
	return true, nil
}

func (s *blobServiceImpl) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("%w: failed to delete blob %s: %v", services.ErrStorage, key, err)
	}
	return nil
}

func (s *blobServiceImpl) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if s.presigner == nil {
		return "", services.ErrPresignUnsupported
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: failed to presign blob %s: %v", services.ErrStorage, key, err)
	}
	return req.URL, nil
}

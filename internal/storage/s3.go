package storage

import (
	"context"
	"io"
	"strings"

	"meeting-intelligence/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3Storage struct {
	client *s3.S3
	bucket string
	cfg    config.S3Config
}

func NewS3Storage(cfg *config.Config) (*S3Storage, error) {
	s3Config := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.Storage.S3.AccessKey, cfg.Storage.S3.SecretKey, ""),
		Endpoint:         aws.String(cfg.Storage.S3.Endpoint),
		Region:           aws.String(cfg.Storage.S3.Region),
		DisableSSL:       aws.Bool(!cfg.Storage.S3.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
	}

	sess, err := session.NewSession(s3Config)
	if err != nil {
		return nil, err
	}

	return &S3Storage{
		client: s3.New(sess),
		bucket: cfg.Storage.S3.Bucket,
		cfg:    cfg.Storage.S3,
	}, nil
}

func (s *S3Storage) Bucket() string {
	return s.bucket
}

func (s *S3Storage) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	result, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}

	return &Metadata{
		Size:        aws.Int64Value(result.ContentLength),
		ContentType: aws.StringValue(result.ContentType),
		Tags:        metadataTags(result.Metadata),
	}, nil
}

// metadataTags lowercases user-metadata keys. The SDK hands them back in
// HTTP-canonical form (Meeting-Id, Original-Name), not as they were set.
func metadataTags(meta map[string]*string) map[string]string {
	tags := make(map[string]string, len(meta))
	for k, v := range meta {
		tags[strings.ToLower(k)] = aws.StringValue(v)
	}
	return tags
}

func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.DownloadFrom(ctx, s.bucket, key)
}

// DownloadFrom fetches from an explicit bucket; transcript artifacts come
// back addressed by full URI, which may point outside the audio bucket.
func (s *S3Storage) DownloadFrom(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return result.Body, nil
}

func (s *S3Storage) PresignUpload(ctx context.Context, key, contentType string) (*PresignedUpload, error) {
	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	req.SetContext(ctx)

	url, err := req.Presign(s.cfg.PresignExpiry)
	if err != nil {
		return nil, err
	}

	return &PresignedUpload{
		URL:       url,
		Key:       key,
		ExpiresIn: s.cfg.PresignExpiry,
	}, nil
}

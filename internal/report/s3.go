package report

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the slice of the S3 API the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds configuration for S3Uploader.
type S3Config struct {
	Bucket   string
	Prefix   string // Optional key prefix, e.g. "reports/"
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
}

// S3Uploader stores report summaries in S3.
type S3Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Uploader creates an uploader from an already-loaded AWS config.
func NewS3Uploader(awsCfg aws.Config, cfg S3Config) *S3Uploader {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})
	return newS3Uploader(client, cfg)
}

func newS3Uploader(client PutObjectAPI, cfg S3Config) *S3Uploader {
	return &S3Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

// Key returns the object key a summary is stored under.
func (u *S3Uploader) Key(s *Summary) string {
	name := s.RunID
	if name == "" {
		ts := s.FinishedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		name = ts.Format("20060102T150405Z")
	}
	return path.Join(u.prefix, name+".json")
}

// Upload writes s as JSON and returns its s3:// URI.
func (u *S3Uploader) Upload(ctx context.Context, s *Summary) (string, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, s); err != nil {
		return "", fmt.Errorf("Upload: %w", err)
	}

	key := u.Key(s)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

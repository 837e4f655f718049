package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Bucket      string
	Region      string
	EndpointURL string
	AccessKey   string
	SecretKey   string
	Prefix      string
}

// S3Store keeps documents in an S3-compatible bucket. Paths have the form
// s3://bucket/key.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, conf S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(conf.Region)}
	if conf.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(conf.AccessKey, conf.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}
	if conf.EndpointURL != "" {
		cfg.BaseEndpoint = aws.String(conf.EndpointURL)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &S3Store{client: client, bucket: conf.Bucket, prefix: conf.Prefix}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	objectKey := s.prefix + strings.TrimPrefix(key, "/")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}

func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%s: %w", path, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download document: %w", err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document body: %w", err)
	}
	return body, nil
}

func parseS3Path(path string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(path, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 path: %q", path)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 path: %q", path)
	}
	return bucket, key, nil
}

var _ Blobs = (*S3Store)(nil)

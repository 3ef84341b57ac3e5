package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
)

// S3Backend stores objects in an S3 (or S3-compatible) bucket.
type S3Backend struct {
	client    *s3.Client
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Backend builds a client from settings. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain.
func NewS3Backend(ctx context.Context, settings *conf.S3Settings) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(settings.Region),
	}
	if settings.AccessKeyID != "" && settings.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("backend", "s3").
			Build()
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	publicURL := settings.PublicURL
	if publicURL == "" {
		switch {
		case settings.Endpoint != "":
			publicURL = strings.TrimSuffix(settings.Endpoint, "/") + "/" + settings.Bucket
		default:
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", settings.Bucket, settings.Region)
		}
	}

	return &S3Backend{
		client:    client,
		bucket:    settings.Bucket,
		prefix:    settings.Prefix,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Save uploads data with PutObject.
func (b *S3Backend) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := objectKey(b.prefix, name)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", b.wrap(err, "put_object", key)
	}
	return b.publicURL + "/" + key, nil
}

// Open streams the object with GetObject.
func (b *S3Backend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := objectKey(b.prefix, name)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrObjectNotFound
		}
		return nil, b.wrap(err, "get_object", key)
	}
	return out.Body, nil
}

// Delete removes the object.
func (b *S3Backend) Delete(ctx context.Context, name string) error {
	key := objectKey(b.prefix, name)
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.wrap(err, "delete_object", key)
	}
	return nil
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}

func (b *S3Backend) wrap(err error, op, key string) error {
	return errors.New(err).
		Component("storage").
		Category(errors.CategoryStorage).
		Context("backend", "s3").
		Context("operation", op).
		Context("bucket", b.bucket).
		Context("key", key).
		Build()
}

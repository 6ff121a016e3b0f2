package imports

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
)

// S3Options configures the client used for s3:// image references.
// Zero values fall back to the ambient AWS environment (shared config,
// environment variables, instance roles).
type S3Options struct {
	// Endpoint overrides the S3 endpoint, for S3-compatible stores
	// like MinIO or LocalStack.
	Endpoint string

	// Region is the AWS region.
	Region string

	// AccessKeyID and SecretAccessKey set static credentials. Both
	// must be set; otherwise the default credential chain applies.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle uses path-style addressing, required by most
	// S3-compatible stores.
	ForcePathStyle bool
}

// NewS3Client builds an S3 client for fetching s3:// image references.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}

// splitS3URL extracts bucket and key from an s3://bucket/path/key URL.
func splitS3URL(u *url.URL) (bucket, key string, err error) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 reference %q: want s3://bucket/key", u)
	}
	return bucket, key, nil
}

// s3Open opens the object behind an s3:// reference for reading.
func (f *Fetcher) s3Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if f.s3 == nil {
		return nil, fmt.Errorf("s3 reference %q: no S3 client configured", u)
	}
	bucket, key, err := splitS3URL(u)
	if err != nil {
		return nil, err
	}

	out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

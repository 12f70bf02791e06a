package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"google.golang.org/api/option"
)

// GCSBackend reads objects from a Google Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSBackend connects to bucket. With empty credsJSON, application
// default credentials are used.
func NewGCSBackend(ctx context.Context, bucket, prefix, credsJSON string) (*GCSBackend, error) {
	var opts []option.ClientOption
	if credsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSBackend{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (g *GCSBackend) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(joinKey(g.prefix, path)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, notFound(path)
	}
	return r, err
}

// Close releases the client.
func (g *GCSBackend) Close() error {
	return g.client.Close()
}

// S3Backend reads objects from an S3 bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend loads the default AWS configuration (environment, shared
// config, instance role) and connects to bucket.
func NewS3Backend(ctx context.Context, bucket, prefix, region string) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Backend{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (b *S3Backend) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(joinKey(b.prefix, path)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFound(path)
		}
		return nil, fmt.Errorf("s3 get %s: %w", path, err)
	}
	return out.Body, nil
}

func joinKey(prefix, path string) string {
	path = strings.TrimLeft(path, "/")
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}

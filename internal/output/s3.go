package output

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"git.home.luguber.info/inful/webapk/internal/config"
)

// objectPutter is the subset of the S3 client the mirror uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads published files to an S3-compatible bucket.
type S3Mirror struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Mirror builds a mirror from configuration. Static credentials are used
// when configured; otherwise the default AWS credential chain applies.
func NewS3Mirror(ctx context.Context, cfg *config.S3Config) (*S3Mirror, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 mirror requires a bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3Mirror(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Mirror(client objectPutter, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

// Upload puts the local file at key (below the configured prefix).
func (m *S3Mirror) Upload(ctx context.Context, key, localPath, contentType string) error {
	file, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.objectKey(key)),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", m.bucket, m.objectKey(key), err)
	}
	return nil
}

func (m *S3Mirror) objectKey(key string) string {
	if m.prefix == "" {
		return key
	}
	return path.Join(m.prefix, key)
}

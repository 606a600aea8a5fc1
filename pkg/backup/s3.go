package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/types"
	"github.com/rs/zerolog"
)

// ObjectPutter is the subset of the S3 API the mirror needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Mirror
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // Empty means AWS
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Mirror uploads each backup under <prefix>/<backup-id>/ in a bucket
type S3Mirror struct {
	client ObjectPutter
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Mirror creates a mirror with a static-credential S3 client
func NewS3Mirror(cfg S3Config) *S3Mirror {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	return NewS3MirrorWithClient(s3.New(opts), cfg.Bucket, cfg.Prefix)
}

// NewS3MirrorWithClient creates a mirror around an existing client
func NewS3MirrorWithClient(client ObjectPutter, bucket, prefix string) *S3Mirror {
	return &S3Mirror{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: log.WithComponent("backup-mirror"),
	}
}

// Upload puts every file of the backup directory, metadata included
func (m *S3Mirror) Upload(ctx context.Context, b *types.Backup) error {
	uploaded := 0
	err := filepath.WalkDir(b.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(b.Dir, p)
		if err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		key := path.Join(m.prefix, b.ID, filepath.ToSlash(rel))
		if _, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(key),
			Body:   f,
		}); err != nil {
			return fmt.Errorf("put s3://%s/%s: %w", m.bucket, key, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("backup_id", b.ID).
		Str("bucket", m.bucket).
		Int("objects", uploaded).
		Msg("Backup mirrored")
	return nil
}

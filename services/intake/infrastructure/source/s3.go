package source

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/cohortmanager/platform/shared/common"
)

// ObjectAPI is the subset of the S3 client the source uses
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Source reads extracts from a bucket prefix
type S3Source struct {
	client       ObjectAPI
	bucket       string
	prefix       string
	poisonPrefix string
	logger       *zap.Logger
}

// NewS3Source loads the default AWS configuration for region
func NewS3Source(ctx context.Context, bucket, prefix, poisonPrefix, region string, logger *zap.Logger) (*S3Source, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeExternalService, "failed to load AWS config")
	}
	return NewS3SourceWithClient(s3.NewFromConfig(cfg), bucket, prefix, poisonPrefix, logger), nil
}

// NewS3SourceWithClient wraps an existing client
func NewS3SourceWithClient(client ObjectAPI, bucket, prefix, poisonPrefix string, logger *zap.Logger) *S3Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Source{
		client:       client,
		bucket:       bucket,
		prefix:       prefix,
		poisonPrefix: poisonPrefix,
		logger:       logger,
	}
}

// List returns object names under the prefix, without the prefix
func (s *S3Source) List(ctx context.Context) ([]string, error) {
	var names []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, common.ErrExternalService("s3", err)
		}
		for _, object := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(object.Key), s.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
		if !out.IsTruncated {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Strings(names)
	return names, nil
}

// Open streams the object body
func (s *S3Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, common.ErrExternalService("s3", err)
	}
	return out.Body, nil
}

// Delete removes the object
func (s *S3Source) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return common.ErrExternalService("s3", err)
	}
	return nil
}

// Quarantine copies the object under the poison prefix and removes the original
func (s *S3Source) Quarantine(ctx context.Context, name string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(path.Join(s.bucket, s.key(name))),
		Key:        aws.String(s.poisonPrefix + path.Base(name)),
	})
	if err != nil {
		return common.ErrExternalService("s3", err)
	}
	s.logger.Warn("Source object quarantined",
		zap.String("file_name", name),
		zap.String("bucket", s.bucket))
	return s.Delete(ctx, name)
}

func (s *S3Source) key(name string) string {
	return s.prefix + path.Base(name)
}

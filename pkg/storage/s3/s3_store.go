// Package s3 implements the object store on AWS S3.
package s3

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	lkerrors "github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
)

const uploadPartSize = 5 * 1024 * 1024

// Store writes partition files to an S3 bucket
type Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
	log      *zap.Logger
}

// NewStore creates an S3 store using the default AWS credential chain
func NewStore(ctx context.Context, bucket, region string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
	})

	return &Store{
		bucket:   bucket,
		client:   client,
		uploader: uploader,
		log:      logger.With(zap.String("component", "s3_store"), zap.String("bucket", bucket)),
	}, nil
}

// Put uploads an object, replacing any existing object at key
func (s *Store) Put(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeStorage, "s3 upload failed").WithDetail("key", key)
	}

	s.log.Debug("object uploaded", zap.String("key", key))
	return nil
}

// List returns the keys under a prefix
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeStorage, "s3 list failed")
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// BaseURI returns the bucket root location
func (s *Store) BaseURI() string {
	return "s3://" + s.bucket
}

// Ping verifies the bucket is accessible
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "s3 bucket not accessible")
	}
	return nil
}

package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

// S3Store stores objects in an S3 (or S3 compatible, eg. MinIO) bucket.
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presign   *s3.PresignClient
	bucket    string
	region    string
	endpoint  string
	urlExpiry time.Duration
}

var _ upload.ObjectStore = (*S3Store)(nil)

func NewS3Store(ctx context.Context, conf *core.Config) (*S3Store, error) {
	sc := conf.Storage
	awsConf, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(sc.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(sc.AccessKey, sc.SecretKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}
	client := s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, sc), nil
}

func newS3Store(client *s3.Client, sc core.StorageConfig) *S3Store {
	return &S3Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		presign:   s3.NewPresignClient(client),
		bucket:    sc.Bucket,
		region:    sc.Region,
		endpoint:  strings.TrimSuffix(sc.Endpoint, "/"),
		urlExpiry: sc.URLExpiry,
	}
}

func (s *S3Store) Put(ctx context.Context, objectPath string, f upload.File, progress upload.ProgressFunc) error {
	key, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   upload.NewProgressReader(f.Body, progress),
	}
	if f.ContentType != "" {
		input.ContentType = aws.String(f.ContentType)
	}
	_, err = s.uploader.Upload(ctx, input)
	return wrapS3Err(err, "uploading "+key)
}

func (s *S3Store) URL(ctx context.Context, objectPath string) (string, error) {
	key, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if s.urlExpiry > 0 {
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.urlExpiry))
		if err != nil {
			return "", wrapS3Err(err, "presigning "+key)
		}
		return req.URL, nil
	}

	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escaped), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped), nil
}

func (s *S3Store) Delete(ctx context.Context, objectPath string) error {
	key, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return wrapS3Err(err, "deleting "+key)
}

func wrapS3Err(err error, msg string) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return errors.Wrapf(err, "%s: %s", msg, apiErr.ErrorCode())
	}
	return errors.Wrap(err, msg)
}

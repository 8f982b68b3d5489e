package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/oops"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3 stores images as objects named by filename in a single bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

var _ Store = &S3{}

func NewS3(ctx context.Context, cfg config.S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, ""),
		))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolver(aws.EndpointResolverFunc(func(service, region string) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL: cfg.Endpoint,
			}, nil
		})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.New(err, "failed to load S3 config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if err := ValidName(name); err != nil {
		return 0, err
	}

	// Uploads are small, and a seekable body lets the SDK sign the payload.
	content, err := io.ReadAll(r)
	if err != nil {
		return 0, oops.New(err, "failed to read upload for %s", name)
	}

	upload := func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.bucket,
			Key:    &name,
			Body:   bytes.NewReader(content),
		})
		return err
	}

	err = upload()
	if err != nil {
		if apiErrorCode(err) == "NoSuchBucket" {
			_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
				Bucket: &s.bucket,
			})
			if err != nil {
				return 0, oops.New(err, "failed to create images bucket")
			}

			err = upload()
			if err != nil {
				return 0, oops.New(err, "failed to upload %s", name)
			}
		} else {
			return 0, oops.New(err, "failed to upload %s", name)
		}
	}

	return int64(len(content)), nil
}

func (s *S3) Open(ctx context.Context, name string) (*Object, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
	})
	if err != nil {
		if isMissing(err) {
			return nil, ErrNotExist
		}
		return nil, oops.New(err, "failed to fetch %s", name)
	}
	var modTime time.Time
	if out.LastModified != nil {
		modTime = *out.LastModified
	}
	return &Object{ReadCloser: out.Body, Size: out.ContentLength, ModTime: modTime}, nil
}

// S3 deletes are idempotent, so check for the object first to be able to report ErrNotExist.
func (s *S3) Remove(ctx context.Context, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
	})
	if err != nil {
		if isMissing(err) {
			return ErrNotExist
		}
		return oops.New(err, "failed to check %s", name)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
	})
	if err != nil {
		return oops.New(err, "failed to delete %s", name)
	}
	return nil
}

func (s *S3) List(ctx context.Context) ([]FileInfo, error) {
	var result []FileInfo
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			ContinuationToken: token,
		})
		if err != nil {
			if apiErrorCode(err) == "NoSuchBucket" {
				return nil, nil
			}
			return nil, oops.New(err, "failed to list images bucket")
		}
		for _, obj := range out.Contents {
			if obj.Key == nil || ValidName(*obj.Key) != nil {
				continue
			}
			result = append(result, FileInfo{Name: *obj.Key, Size: obj.Size})
		}
		if !out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return result, nil
}

func apiErrorCode(err error) string {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		return apiError.ErrorCode()
	}
	return ""
}

func isMissing(err error) bool {
	switch apiErrorCode(err) {
	case "NoSuchKey", "NotFound":
		return true
	case "NoSuchBucket":
		return false
	}
	// HEAD responses have no body, so older SDKs can only go by the status.
	var statusErr interface{ HTTPStatusCode() int }
	return errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 404
}

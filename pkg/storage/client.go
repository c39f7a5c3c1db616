// Package storage archives finished artifacts to S3 when an archive
// bucket is configured.
package storage

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/tilestitch/tilestitch/pkg/errors"
)

// Client provides S3 archive operations
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates a new S3 client for the archive bucket
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
	}, nil
}

// Upload stores a local artifact under the given key
func (c *Client) Upload(ctx context.Context, key, localPath string) error {
	slog.Info("s3_upload_start", "bucket", c.bucket, "key", key, "local_path", localPath)

	f, err := os.Open(localPath)
	if err != nil {
		slog.Error("artifact_open_failed", "path", localPath, "error", err)
		return errors.Wrap(err, "failed to open artifact")
	}
	defer f.Close()

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "key", key, "error", err)
		return errors.Wrap(err, "failed to upload artifact")
	}

	slog.Info("s3_upload_complete", "bucket", c.bucket, "key", key)
	return nil
}

// Exists checks if an object exists in the archive bucket
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		// HeadObject reports a missing key as an API error code, not
		// a typed NoSuchKey like GetObject.
		var apiErr smithy.APIError
		if stderrors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		slog.Error("s3_head_object_failed", "key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	return true, nil
}

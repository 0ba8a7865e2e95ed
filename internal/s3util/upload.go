package s3util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog/log"
)

// ObjectExists reports whether key exists in bucket.
func ObjectExists(ctx context.Context, client API, bucket, key string) (bool, error) {
	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("S3 HeadObject: %w", err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

// UploadContentAddressed uploads localPath to key unless an object already
// exists there. Keys are derived from the content hash, so an existing object
// holds the same bytes. Returns whether an upload happened.
func UploadContentAddressed(ctx context.Context, client API, bucket, key, localPath, contentType string) (bool, error) {
	exists, err := ObjectExists(ctx, client, bucket, key)
	if err != nil {
		return false, err
	}
	if exists {
		log.Debug().Str("key", key).Msg("Object already present in S3; skipping upload")
		return false, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	start := time.Now()
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return false, fmt.Errorf("S3 PutObject %s: %w", key, err)
	}

	log.Info().Str("key", key).Dur("elapsed", time.Since(start)).Msg("Artifact uploaded to S3")
	return true, nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presignClient *s3.PresignClient, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

package s3util

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// PutText uploads content as a UTF-8 text object. A single PutObject is
// atomic from the reader's point of view.
func PutText(ctx context.Context, client API, bucket, key, content string) error {
	contentType := "text/plain; charset=utf-8"
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        strings.NewReader(content),
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	return nil
}

// UploadFile uploads a local file under key with the given content type.
func UploadFile(ctx context.Context, client API, bucket, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Str("localPath", localPath).
		Msg("Uploading file to S3")

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}

	log.Info().Str("bucket", bucket).Str("key", key).Msg("File uploaded to S3")
	return nil
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

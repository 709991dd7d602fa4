// Package s3util provides the S3 helpers shared by the S3 artifact ledger and
// the dataset export command.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// API is the subset of *s3.Client used here. Tests substitute a fake.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// IsNotFound reports whether err is an S3 missing-object error.
func IsNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// GetText reads an S3 object fully and returns it as a string.
func GetText(ctx context.Context, client API, bucket, key string) (string, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return "", err
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return "", fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return string(data), nil
}

// ListKeys returns every key under prefix, following pagination.
func ListKeys(ctx context.Context, client API, bucket, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: &bucket, Prefix: &prefix}
	var keys []string
	for {
		out, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated || out.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	return keys, nil
}

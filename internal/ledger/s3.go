package ledger

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/s3util"
)

// S3Ledger stores artifacts as objects at <prefix>/<stage>/<key>.txt.
type S3Ledger struct {
	client s3util.API
	bucket string
	prefix string
	logger zerolog.Logger
}

// Compile-time interface check.
var _ Ledger = (*S3Ledger)(nil)

// NewS3Ledger creates an S3Ledger. prefix may be empty.
func NewS3Ledger(client s3util.API, bucket, prefix string, logger zerolog.Logger) *S3Ledger {
	return &S3Ledger{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// ObjectKey returns the S3 key for (key, stage).
func (l *S3Ledger) ObjectKey(key string, stage Stage) string {
	return path.Join(l.prefix, string(stage), ArtifactName(key))
}

func (l *S3Ledger) Has(ctx context.Context, key string, stage Stage) (bool, error) {
	_, err := l.Read(ctx, key, stage)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *S3Ledger) Read(ctx context.Context, key string, stage Stage) (string, error) {
	objKey := l.ObjectKey(key, stage)
	content, err := s3util.GetText(ctx, l.client, l.bucket, objKey)
	if err != nil {
		if s3util.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read s3://%s/%s: %w", l.bucket, objKey, err)
	}
	if !Valid(content) {
		l.logger.Warn().
			Str("item", key).
			Str("stage", string(stage)).
			Str("key", objKey).
			Msg("Ignoring empty artifact")
		return "", ErrNotFound
	}
	return content, nil
}

func (l *S3Ledger) Write(ctx context.Context, key string, stage Stage, content string) error {
	if !Valid(content) {
		return fmt.Errorf("refusing to write empty artifact for %s/%s", stage, key)
	}
	objKey := l.ObjectKey(key, stage)
	if err := s3util.PutText(ctx, l.client, l.bucket, objKey, content); err != nil {
		return err
	}
	l.logger.Debug().
		Str("item", key).
		Str("stage", string(stage)).
		Str("key", objKey).
		Msg("Artifact uploaded")
	return nil
}

// Keys lists item keys with an artifact object for stage, sorted.
func (l *S3Ledger) Keys(ctx context.Context, stage Stage) ([]string, error) {
	stagePrefix := path.Join(l.prefix, string(stage)) + "/"
	objKeys, err := s3util.ListKeys(ctx, l.client, l.bucket, stagePrefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range objKeys {
		name := path.Base(k)
		if path.Ext(name) != ".txt" {
			continue
		}
		keys = append(keys, BaseKey(name))
	}
	sort.Strings(keys)
	return keys, nil
}

package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileLedger stores artifacts as flat per-stage directories of UTF-8 text
// files named <key>.txt.
type FileLedger struct {
	dirs   map[Stage]string
	logger zerolog.Logger
}

// Compile-time interface check.
var _ Ledger = (*FileLedger)(nil)

// NewFileLedger creates a FileLedger over the given stage directories.
// Directories are created on first write.
func NewFileLedger(dirs map[Stage]string, logger zerolog.Logger) *FileLedger {
	return &FileLedger{dirs: dirs, logger: logger}
}

// Path returns the artifact path for (key, stage).
func (l *FileLedger) Path(key string, stage Stage) (string, error) {
	dir, ok := l.dirs[stage]
	if !ok || dir == "" {
		return "", fmt.Errorf("no directory configured for stage %s", stage)
	}
	return filepath.Join(dir, ArtifactName(key)), nil
}

func (l *FileLedger) Has(ctx context.Context, key string, stage Stage) (bool, error) {
	_, err := l.Read(ctx, key, stage)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *FileLedger) Read(_ context.Context, key string, stage Stage) (string, error) {
	path, err := l.Path(key, stage)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read artifact %s: %w", path, err)
	}
	if !Valid(string(data)) {
		l.logger.Warn().
			Str("item", key).
			Str("stage", string(stage)).
			Str("path", path).
			Msg("Ignoring empty artifact")
		return "", ErrNotFound
	}
	return string(data), nil
}

func (l *FileLedger) Write(_ context.Context, key string, stage Stage, content string) error {
	if !Valid(content) {
		return fmt.Errorf("refusing to write empty artifact for %s/%s", stage, key)
	}
	path, err := l.Path(key, stage)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create stage dir: %w", err)
	}
	if err := writeFileAtomic(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	l.logger.Debug().
		Str("item", key).
		Str("stage", string(stage)).
		Int("bytes", len(content)).
		Msg("Artifact written")
	return nil
}

// Keys lists the item keys that have an artifact file for stage, sorted.
// Empty files are included; use Has to check validity.
func (l *FileLedger) Keys(_ context.Context, stage Stage) ([]string, error) {
	dir, ok := l.dirs[stage]
	if !ok {
		return nil, fmt.Errorf("no directory configured for stage %s", stage)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list stage dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		keys = append(keys, BaseKey(e.Name()))
	}
	return keys, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Package export bundles a finished dataset into a single ZIP: every valid
// stage artifact as <stage>/<key>.txt plus the object info files. Entries
// are Zstandard-compressed (ZIP method 93).
package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
)

// MethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const MethodZstd uint16 = 93

// DefaultLevel is the zstd level used when Options.Level is zero.
const DefaultLevel = 12

// Source is a ledger that can enumerate its artifacts.
type Source interface {
	ledger.Ledger
	ledger.Lister
}

// Options configures a bundle.
type Options struct {
	Source Source
	// Stages defaults to ledger.AllStages.
	Stages []ledger.Stage
	// InfoDirs maps an entry prefix to a directory of .txt files
	// (e.g. "color_info" -> the color info dir). Empty dirs are skipped.
	InfoDirs map[string]string
	Level    int
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Summary reports what a bundle contains.
type Summary struct {
	Entries int
	// PerStage counts artifacts by stage.
	PerStage map[ledger.Stage]int
	Info     int
	// Skipped counts listed artifacts that were empty.
	Skipped int
}

// NewWriter returns a zip.Writer with the zstd compressor registered.
func NewWriter(w io.Writer, level int) *zip.Writer {
	if level == 0 {
		level = DefaultLevel
	}
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(MethodZstd, func(out io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	})
	return zw
}

// OpenReader opens a bundle with the zstd decompressor registered.
func OpenReader(r io.ReaderAt, size int64) (*zip.Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(MethodZstd, func(in io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(in)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})
	return zr, nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// Bundle writes the dataset to w.
func Bundle(ctx context.Context, w io.Writer, opts Options) (*Summary, error) {
	if opts.Source == nil {
		return nil, errors.New("export requires a source ledger")
	}
	stages := opts.Stages
	if len(stages) == 0 {
		stages = ledger.AllStages
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	modTime := now()

	zw := NewWriter(w, opts.Level)
	sum := &Summary{PerStage: make(map[ledger.Stage]int)}
	add := func(name, content string) error {
		header := &zip.FileHeader{Name: name, Method: MethodZstd}
		header.SetModTime(modTime)
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			return fmt.Errorf("write entry %s: %w", name, err)
		}
		sum.Entries++
		return nil
	}

	for _, s := range stages {
		keys, err := opts.Source.Keys(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s, err)
		}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			content, err := opts.Source.Read(ctx, key, s)
			if errors.Is(err, ledger.ErrNotFound) {
				sum.Skipped++
				continue
			}
			if err != nil {
				return nil, err
			}
			if err := add(string(s)+"/"+ledger.ArtifactName(key), content); err != nil {
				return nil, err
			}
			sum.PerStage[s]++
		}
	}

	labels := make([]string, 0, len(opts.InfoDirs))
	for label := range opts.InfoDirs {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		dir := opts.InfoDirs[label]
		if dir == "" {
			continue
		}
		names, err := filepath.Glob(filepath.Join(dir, "*.txt"))
		if err != nil {
			return nil, err
		}
		sort.Strings(names)
		for _, path := range names {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read info file: %w", err)
			}
			if err := add(label+"/"+filepath.Base(path), string(data)); err != nil {
				return nil, err
			}
			sum.Info++
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close ZIP writer: %w", err)
	}
	opts.Logger.Info().
		Int("entries", sum.Entries).
		Int("info", sum.Info).
		Int("skipped", sum.Skipped).
		Msg("Dataset bundle written")
	return sum, nil
}

// WriteFile bundles the dataset to path through a temp file in the same
// directory.
func WriteFile(ctx context.Context, path string, opts Options) (*Summary, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp ZIP: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sum, err := Bundle(ctx, tmp, opts)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("rename bundle: %w", err)
	}
	return sum, nil
}

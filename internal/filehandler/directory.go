package filehandler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// ScanOptions configures directory scanning behavior.
type ScanOptions struct {
	// Limit caps the number of images returned. 0 = unlimited.
	Limit int
}

// ScanDirectory returns the supported images directly inside dirPath,
// sorted by file name. Subdirectories are not descended; the stage layout
// is flat.
func ScanDirectory(dirPath string) ([]*ImageFile, error) {
	return ScanDirectoryWithOptions(dirPath, ScanOptions{})
}

// ScanDirectoryWithOptions is ScanDirectory with a result limit.
func ScanDirectoryWithOptions(dirPath string, opts ScanOptions) ([]*ImageFile, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", dirPath)
		}
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dirPath)
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImage(filepath.Ext(e.Name())) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var files []*ImageFile
	for _, name := range names {
		if opts.Limit > 0 && len(files) >= opts.Limit {
			break
		}
		f, err := LoadImageFile(filepath.Join(dirPath, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Skipping unreadable image")
			continue
		}
		files = append(files, f)
	}

	log.Debug().
		Str("path", dirPath).
		Int("images", len(files)).
		Int("limit", opts.Limit).
		Msg("Directory scan complete")
	return files, nil
}

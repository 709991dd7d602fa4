// Package filehandler finds, loads and transforms the aerial images the
// pipeline annotates: directory scans, JPEG re-encoding for model calls,
// region crops for the color classifier, and capture metadata.
package filehandler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SupportedImageExtensions maps the image extensions the pipeline accepts to
// their MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ImageFile is an image discovered on disk. Key is the file name without
// extension and identifies the item across every stage.
type ImageFile struct {
	Path     string
	Name     string
	Key      string
	MIMEType string
	Size     int64
}

// LoadImageFile stats path and returns its ImageFile.
func LoadImageFile(path string) (*ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", path)
	}
	mimeType, err := GetMIMEType(filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	return &ImageFile{
		Path:     path,
		Name:     name,
		Key:      strings.TrimSuffix(name, filepath.Ext(name)),
		MIMEType: mimeType,
		Size:     info.Size(),
	}, nil
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a supported image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// FindImage locates the image for key in dir, trying each supported
// extension with ".jpg" first.
func FindImage(dir, key string) (string, error) {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".JPG", ".JPEG", ".PNG"} {
		p := filepath.Join(dir, key+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no image for %s in %s: %w", key, dir, os.ErrNotExist)
}

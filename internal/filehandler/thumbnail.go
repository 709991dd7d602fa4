package filehandler

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// CaptionMaxDimension is the longer side of images sent to the caption stage.
const CaptionMaxDimension = 512

// JPEGQuality is used for every re-encoded image.
const JPEGQuality = 90

// DecodeImage opens and decodes a JPEG or PNG file.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var img image.Image
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// ResizeJPEG scales the image at path so its longer side equals
// maxDimension, preserving aspect ratio, and returns it JPEG encoded. Smaller
// images are scaled up.
func ResizeJPEG(path string, maxDimension int) ([]byte, error) {
	img, err := DecodeImage(path)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	newWidth, newHeight := calculateDimensions(bounds.Dx(), bounds.Dy(), maxDimension)

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	data, err := EncodeJPEG(resized)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("path", path).
		Int("orig_width", bounds.Dx()).
		Int("orig_height", bounds.Dy()).
		Int("width", newWidth).
		Int("height", newHeight).
		Int("bytes", len(data)).
		Msg("Image resized")
	return data, nil
}

// ReadJPEG returns the image at path as JPEG bytes. JPEG files are returned
// unchanged; other formats are re-encoded.
func ReadJPEG(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return os.ReadFile(path)
	}
	img, err := DecodeImage(path)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(img)
}

// EncodeJPEG encodes img at JPEGQuality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// calculateDimensions fits width x height so the longer side equals
// maxDimension.
func calculateDimensions(width, height, maxDimension int) (int, int) {
	if width <= 0 || height <= 0 {
		return maxDimension, maxDimension
	}
	if width >= height {
		return maxDimension, max(1, int(float64(maxDimension)*float64(height)/float64(width)))
	}
	return max(1, int(float64(maxDimension)*float64(width)/float64(height))), maxDimension
}

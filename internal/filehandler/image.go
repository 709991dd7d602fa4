package filehandler

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// CaptureInfo is the EXIF capture metadata of a drone frame. VisDrone frames
// usually carry none; the filter report shows it when present.
type CaptureInfo struct {
	Latitude  float64
	Longitude float64
	HasGPS    bool

	Taken   time.Time
	HasDate bool

	CameraMake  string
	CameraModel string
}

// ExtractCaptureInfo reads EXIF metadata from an image using imagemeta. Only
// the metadata block is read, not the pixel data.
func ExtractCaptureInfo(filePath string) (*CaptureInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	info := &CaptureInfo{}
	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		info.Latitude = gps.Latitude()
		info.Longitude = gps.Longitude()
		info.HasGPS = true
	}

	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		info.Taken = exifData.DateTimeOriginal()
	case !exifData.CreateDate().IsZero():
		info.Taken = exifData.CreateDate()
	case !exifData.ModifyDate().IsZero():
		info.Taken = exifData.ModifyDate()
	}
	info.HasDate = !info.Taken.IsZero()

	info.CameraMake = strings.TrimSpace(exifData.Make)
	info.CameraModel = strings.TrimSpace(exifData.Model)

	log.Debug().
		Str("path", filePath).
		Bool("has_gps", info.HasGPS).
		Bool("has_date", info.HasDate).
		Msg("Capture metadata extracted")
	return info, nil
}

// Summary renders the capture info as a single report line.
func (c *CaptureInfo) Summary() string {
	var parts []string
	if c.HasDate {
		parts = append(parts, "taken "+c.Taken.Format("2006-01-02 15:04"))
	}
	if c.HasGPS {
		parts = append(parts, fmt.Sprintf("gps %.6f,%.6f", c.Latitude, c.Longitude))
	}
	if cam := strings.TrimSpace(c.CameraMake + " " + c.CameraModel); cam != "" {
		parts = append(parts, "camera "+cam)
	}
	if len(parts) == 0 {
		return "no capture metadata"
	}
	return strings.Join(parts, ", ")
}

package filehandler

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"testing"
	"time"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func TestCropClampsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	out := Crop(img, image.Rect(-4, -4, 3, 3))
	if out.Bounds().Dx() != 3 || out.Bounds().Dy() != 3 {
		t.Fatalf("crop size = %v, want 3x3", out.Bounds())
	}
	if r, _, _, _ := out.At(0, 0).RGBA(); r>>8 != 255 {
		t.Errorf("crop origin red = %d, want 255", r>>8)
	}

	empty := Crop(img, image.Rect(20, 20, 30, 30))
	if !empty.Bounds().Empty() {
		t.Errorf("expected empty crop, got %v", empty.Bounds())
	}
}

func TestAverageColor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 100, G: 0, B: 50, A: 255})
	img.Set(1, 0, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	got := AverageColor(img)
	if got.R != 150 || got.G != 50 || got.B != 50 {
		t.Errorf("AverageColor() = %+v, want {150 50 50}", got)
	}

	if got := AverageColor(image.NewRGBA(image.Rect(0, 0, 0, 0))); got.R != 0 || got.G != 0 || got.B != 0 {
		t.Errorf("empty AverageColor() = %+v", got)
	}
}

func TestCaptureInfoSummary(t *testing.T) {
	info := &CaptureInfo{
		Latitude:    39.9042,
		Longitude:   116.4074,
		HasGPS:      true,
		Taken:       time.Date(2019, 5, 1, 14, 30, 0, 0, time.UTC),
		HasDate:     true,
		CameraMake:  "DJI",
		CameraModel: "FC6310",
	}
	want := "taken 2019-05-01 14:30, gps 39.904200,116.407400, camera DJI FC6310"
	if got := info.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
	if got := (&CaptureInfo{}).Summary(); got != "no capture metadata" {
		t.Errorf("empty Summary() = %q", got)
	}
}

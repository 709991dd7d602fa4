package filehandler

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Crop returns the sub-image r of img, clamped to img's bounds. The result
// is a copy and may be empty when r lies outside the image.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	if r.Empty() {
		return out
	}
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// AverageColor returns the mean RGB value of img. An empty image yields
// black.
func AverageColor(img image.Image) color.RGBA {
	b := img.Bounds()
	n := uint64(b.Dx()) * uint64(b.Dy())
	if n == 0 {
		return color.RGBA{A: 0xff}
	}
	var rs, gs, bs uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			rs += uint64(r >> 8)
			gs += uint64(g >> 8)
			bs += uint64(bl >> 8)
		}
	}
	return color.RGBA{
		R: uint8((rs + n/2) / n),
		G: uint8((gs + n/2) / n),
		B: uint8((bs + n/2) / n),
		A: 0xff,
	}
}

package dataset

import (
	"context"
	"image"
	"math"
)

// HSV is a color in OpenCV scale: H in [0,180), S and V in [0,255].
type HSV struct {
	H, S, V float64
}

// Preset anchors one color label in HSV space.
type Preset struct {
	Name  string
	Label int
	HSV   HSV
}

// DefaultPresets cover the six classifier colors. Achromatic colors are
// anchored by the dark and bright presets.
var DefaultPresets = []Preset{
	{Name: "dark", Label: 0, HSV: HSV{0, 0, 40}},
	{Name: "blue", Label: 1, HSV: HSV{110, 190, 160}},
	{Name: "green", Label: 2, HSV: HSV{60, 170, 140}},
	{Name: "red", Label: 3, HSV: HSV{0, 190, 170}},
	{Name: "bright", Label: 4, HSV: HSV{0, 0, 230}},
	{Name: "yellow", Label: 5, HSV: HSV{28, 190, 200}},
}

// HSVClassifier labels a crop by its mean HSV color's nearest preset. It is
// the built-in fallback when no external classifier is configured.
type HSVClassifier struct {
	Presets []Preset
}

// NewHSVClassifier returns a classifier over DefaultPresets.
func NewHSVClassifier() *HSVClassifier {
	return &HSVClassifier{Presets: DefaultPresets}
}

func (c *HSVClassifier) Classify(_ context.Context, crop image.Image) (int, error) {
	return c.Nearest(MeanHSV(crop)).Label, nil
}

// Nearest returns the preset closest to v. Hue distance wraps around.
func (c *HSVClassifier) Nearest(v HSV) Preset {
	presets := c.Presets
	if len(presets) == 0 {
		presets = DefaultPresets
	}
	best := presets[0]
	bestDist := math.Inf(1)
	for _, p := range presets {
		if d := hsvDistance(v, p.HSV); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

func hsvDistance(a, b HSV) float64 {
	dh := math.Abs(a.H - b.H)
	if dh > 90 {
		dh = 180 - dh
	}
	// Scale hue onto the 0-255 axis, fading it out for unsaturated colors.
	dh *= math.Min(a.S, b.S) / 90
	ds := a.S - b.S
	dv := a.V - b.V
	return math.Sqrt(dh*dh + ds*ds + dv*dv)
}

// MeanHSV averages the per-pixel HSV values of img.
func MeanHSV(img image.Image) HSV {
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return HSV{}
	}
	var sum HSV
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			h := RGBToHSV(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			sum.H += h.H
			sum.S += h.S
			sum.V += h.V
		}
	}
	return HSV{sum.H / n, sum.S / n, sum.V / n}
}

// RGBToHSV converts an 8-bit RGB color to OpenCV-scale HSV.
func RGBToHSV(r, g, b uint8) HSV {
	rf, gf, bf := float64(r), float64(g), float64(b)
	mx := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	delta := mx - mn

	v := mx
	s := 0.0
	if mx > 0 {
		s = delta / mx * 255
	}
	var h float64
	switch {
	case delta == 0:
		h = 0
	case mx == rf:
		h = 60 * (gf - bf) / delta
	case mx == gf:
		h = 120 + 60*(bf-rf)/delta
	default:
		h = 240 + 60*(rf-gf)/delta
	}
	if h < 0 {
		h += 360
	}
	return HSV{H: h / 2, S: s, V: v}
}

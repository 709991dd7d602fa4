package dataset

import (
	"context"
	"fmt"
	"image"

	"github.com/sunzc-sunny/RDAnnotator/internal/filehandler"
)

// Object size thresholds in pixels.
const (
	// MinObjectArea: objects with w*h at or below it are not described.
	MinObjectArea = 128
	// MinNoncolorArea: noncolor info additionally drops objects below it.
	MinNoncolorArea = 256
	// CropMargin pads classifier crops on every side.
	CropMargin = 4
)

// Describable reports whether b appears in color info.
func Describable(b Box) bool {
	return b.Area() > MinObjectArea && !b.ignoredClass()
}

// NoncolorDescribable reports whether b appears in noncolor info.
func NoncolorDescribable(b Box) bool {
	return Describable(b) && b.Area() >= MinNoncolorArea
}

// CropRect returns the classifier crop rectangle for b.
func CropRect(b Box) image.Rectangle {
	return image.Rect(b.X1-CropMargin, b.Y1-CropMargin, b.X1+b.W+CropMargin, b.Y1+b.H+CropMargin)
}

// NoncolorObjects returns the coordinate-only objects of a width x height
// image.
func NoncolorObjects(boxes []Box, width, height int) []Object {
	var objs []Object
	for _, b := range boxes {
		if !NoncolorDescribable(b) {
			continue
		}
		x, y := NormalizedCenter(b, width, height)
		objs = append(objs, Object{Class: b.ClassName(), X: x, Y: y})
	}
	return objs
}

// ColorObjects classifies the crop of every describable box and returns the
// objects with their colors.
func ColorObjects(ctx context.Context, img image.Image, boxes []Box, classifier Classifier) ([]Object, error) {
	bounds := img.Bounds()
	var objs []Object
	for i, b := range boxes {
		if !Describable(b) {
			continue
		}
		region := filehandler.Crop(img, CropRect(b))
		if region.Bounds().Empty() {
			continue
		}
		label, err := classifier.Classify(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("classify box %d: %w", i, err)
		}
		color, err := ColorName(label)
		if err != nil {
			return nil, err
		}
		x, y := NormalizedCenter(b, bounds.Dx(), bounds.Dy())
		objs = append(objs, Object{Class: b.ClassName(), Color: color, X: x, Y: y})
	}
	return objs, nil
}

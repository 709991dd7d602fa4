package dataset

import (
	"context"
	"fmt"
	"image"
)

// ColorNames indexes classifier labels.
var ColorNames = []string{"black", "blue", "green", "red", "white", "yellow"}

// Classifier assigns a color label (an index into ColorNames) to an object
// crop.
type Classifier interface {
	Classify(ctx context.Context, crop image.Image) (int, error)
}

// ColorName maps a classifier label to its color name.
func ColorName(label int) (string, error) {
	if label < 0 || label >= len(ColorNames) {
		return "", fmt.Errorf("classifier label %d out of range", label)
	}
	return ColorNames[label], nil
}

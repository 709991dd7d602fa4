package dataset

import "image/color"

// Filter thresholds.
const (
	// NightThreshold: an image whose average pixel has R+G+B-max(R,G,B)
	// at or below it is a night image.
	NightThreshold = 120
	// TinyVehicleArea: vehicles at or below it count as tiny when deciding
	// whether an image is dominated by tiny vehicles.
	TinyVehicleArea = 256
	// DropVehicleArea: DropTinyVehicles removes vehicles at or below it.
	DropVehicleArea = 144
)

// Category is the bucket an image is sorted into before annotation.
type Category string

const (
	CategoryColor        Category = "color"
	CategoryNight        Category = "night"
	CategoryNonGrounding Category = "non_grounding"
	CategoryTinyVehicles Category = "tiny_vehicles"
)

// IsNight reports whether avg, the image's average pixel, is a night image.
func IsNight(avg color.RGBA) bool {
	r, g, b := int(avg.R), int(avg.G), int(avg.B)
	return r+g+b-max(r, g, b) <= NightThreshold
}

// countObjects returns the boxes that are not ignored classes.
func countObjects(boxes []Box) int {
	n := 0
	for _, b := range boxes {
		if !b.ignoredClass() {
			n++
		}
	}
	return n
}

// IsNonGrounding reports whether the image has fewer than two objects to
// ground descriptions on.
func IsNonGrounding(boxes []Box) bool {
	return countObjects(boxes) < 2
}

// TinyVehicleDominated reports whether more than half of the vehicles are
// tiny.
func TinyVehicleDominated(boxes []Box) bool {
	vehicles, tiny := 0, 0
	for _, b := range boxes {
		if !b.IsVehicle() {
			continue
		}
		vehicles++
		if b.Area() <= TinyVehicleArea {
			tiny++
		}
	}
	return float64(tiny) > float64(vehicles)/2
}

// DropTinyVehicles returns boxes without vehicles of DropVehicleArea or less.
func DropTinyVehicles(boxes []Box) []Box {
	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b.IsVehicle() && b.Area() <= DropVehicleArea {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Categorize sorts an image by its average pixel and boxes. Night wins over
// non-grounding, which wins over tiny vehicles.
func Categorize(avg color.RGBA, boxes []Box) Category {
	switch {
	case IsNight(avg):
		return CategoryNight
	case IsNonGrounding(boxes):
		return CategoryNonGrounding
	case TinyVehicleDominated(boxes):
		return CategoryTinyVehicles
	default:
		return CategoryColor
	}
}

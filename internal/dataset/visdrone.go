// Package dataset prepares VisDrone detection data for annotation: it parses
// the upstream box files, normalizes object centers, renders the object info
// lines the annotation stages read, and sorts images into the night,
// non-grounding and tiny-vehicle buckets the pipeline skips.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ClassNames indexes VisDrone class ids.
var ClassNames = []string{
	"ignored regions",
	"pedestrian",
	"people",
	"bicycle",
	"car",
	"van",
	"truck",
	"tricycle",
	"awning-tricycle",
	"bus",
	"motor",
	"others",
}

// VisDrone class ids referenced by the filters.
const (
	ClassIgnored = 0
	ClassCar     = 4
	ClassVan     = 5
	ClassTruck   = 6
	ClassBus     = 9
	ClassOthers  = 11
)

// Box is one line of a VisDrone annotation file:
// x1,y1,w,h,score,class_id,truncation,occlusion.
type Box struct {
	X1, Y1     int
	W, H       int
	Score      int
	Class      int
	Truncation int
	Occlusion  int
}

// Area returns w*h in pixels.
func (b Box) Area() int { return b.W * b.H }

// ClassName returns the class label, or "class <id>" for unknown ids.
func (b Box) ClassName() string {
	if b.Class >= 0 && b.Class < len(ClassNames) {
		return ClassNames[b.Class]
	}
	return "class " + strconv.Itoa(b.Class)
}

// IsVehicle reports whether the box is a car, van, truck or bus.
func (b Box) IsVehicle() bool {
	switch b.Class {
	case ClassCar, ClassVan, ClassTruck, ClassBus:
		return true
	}
	return false
}

// ignoredClass reports classes never described: ignored regions and others.
func (b Box) ignoredClass() bool {
	return b.Class == ClassIgnored || b.Class == ClassOthers
}

// ParseBoxLine parses one annotation line. Trailing optional fields may be
// absent; at least x1,y1,w,h,score,class_id are required.
func ParseBoxLine(line string) (Box, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 6 {
		return Box{}, fmt.Errorf("annotation line has %d fields, want at least 6: %q", len(fields), line)
	}
	vals := make([]int, 8)
	for i := 0; i < len(fields) && i < 8; i++ {
		f := strings.TrimSpace(fields[i])
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return Box{}, fmt.Errorf("annotation field %d: %w", i, err)
		}
		vals[i] = n
	}
	return Box{
		X1: vals[0], Y1: vals[1], W: vals[2], H: vals[3],
		Score: vals[4], Class: vals[5], Truncation: vals[6], Occlusion: vals[7],
	}, nil
}

// ParseAnnotation reads every non-blank line of r as a Box.
func ParseAnnotation(r io.Reader) ([]Box, error) {
	var boxes []Box
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		b, err := ParseBoxLine(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		boxes = append(boxes, b)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return boxes, nil
}

// ReadAnnotationFile parses the annotation file at path.
func ReadAnnotationFile(path string) ([]Box, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	boxes, err := ParseAnnotation(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return boxes, nil
}

// FormatBoxLine renders a box back into annotation-file form.
func FormatBoxLine(b Box) string {
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d,%d", b.X1, b.Y1, b.W, b.H, b.Score, b.Class, b.Truncation, b.Occlusion)
}

// WriteAnnotationFile writes boxes to path in annotation-file form.
func WriteAnnotationFile(path string, boxes []Box) error {
	var sb strings.Builder
	for _, b := range boxes {
		sb.WriteString(FormatBoxLine(b))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

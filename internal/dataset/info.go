package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Object is one line of an info file: a class, an optional color and the
// normalized center of the object.
type Object struct {
	Class string
	Color string
	X, Y  float64
}

// Round3 rounds v to three decimals with round-half-even on the exact
// binary value.
func Round3(v float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	return r
}

// NormalizedCenter returns the center of b relative to a width x height
// image, each coordinate rounded to three decimals.
func NormalizedCenter(b Box, width, height int) (x, y float64) {
	cx := float64(b.X1) + 0.5*float64(b.W)
	cy := float64(b.Y1) + 0.5*float64(b.H)
	return Round3(cx / float64(width)), Round3(cy / float64(height))
}

// FormatCoord renders a coordinate the way the info files spell numbers:
// shortest form, always with a decimal point ("0.125", "0.5", "1.0").
func FormatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// FormatColorLine renders "<class>, <color>: [x, y]".
func FormatColorLine(class, color string, x, y float64) string {
	return fmt.Sprintf("%s, %s: [%s, %s]", class, color, FormatCoord(x), FormatCoord(y))
}

// FormatLine renders "<class>: [x, y]".
func FormatLine(class string, x, y float64) string {
	return fmt.Sprintf("%s: [%s, %s]", class, FormatCoord(x), FormatCoord(y))
}

// Line renders o in color form when it has a color.
func (o Object) Line() string {
	if o.Color != "" {
		return FormatColorLine(o.Class, o.Color, o.X, o.Y)
	}
	return FormatLine(o.Class, o.X, o.Y)
}

// ParseInfoLine parses either info line form.
func ParseInfoLine(line string) (Object, error) {
	line = strings.TrimSpace(line)
	i := strings.LastIndex(line, ": [")
	if i < 0 || !strings.HasSuffix(line, "]") {
		return Object{}, fmt.Errorf("malformed info line: %q", line)
	}
	head, coords := line[:i], line[i+3:len(line)-1]

	var o Object
	if j := strings.LastIndex(head, ", "); j >= 0 {
		o.Class, o.Color = head[:j], head[j+2:]
	} else {
		o.Class = head
	}
	xs, ys, ok := strings.Cut(coords, ",")
	if !ok {
		return Object{}, fmt.Errorf("malformed coordinates: %q", line)
	}
	var err error
	if o.X, err = strconv.ParseFloat(strings.TrimSpace(xs), 64); err != nil {
		return Object{}, fmt.Errorf("x coordinate: %w", err)
	}
	if o.Y, err = strconv.ParseFloat(strings.TrimSpace(ys), 64); err != nil {
		return Object{}, fmt.Errorf("y coordinate: %w", err)
	}
	return o, nil
}

// ParseInfo parses an info file body, skipping blank lines.
func ParseInfo(text string) ([]Object, error) {
	var objs []Object
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		o, err := ParseInfoLine(line)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, nil
}

// RenderInfo joins object lines, one per line with a trailing newline.
func RenderInfo(objs []Object) string {
	var sb strings.Builder
	for _, o := range objs {
		sb.WriteString(o.Line())
		sb.WriteByte('\n')
	}
	return sb.String()
}

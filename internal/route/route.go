// Package route turns a color-check verdict into one of three routes.
//
// The rule is a fixed contract with the model's expected answer format, not a
// classifier to improve: the literal "Yes" anywhere selects Colorable, else a
// literal "No" selects NotColorable, else the verdict is Ambiguous. "Yes" is
// tested first, so a verdict containing both resolves to Colorable.
package route

import "strings"

// Route is the branch an item takes after the color check.
type Route int

const (
	Colorable Route = iota
	NotColorable
	Ambiguous
)

func (r Route) String() string {
	switch r {
	case Colorable:
		return "colorable"
	case NotColorable:
		return "not_colorable"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Parse is the inverse of String.
func Parse(s string) (Route, bool) {
	switch s {
	case "colorable", "color":
		return Colorable, true
	case "not_colorable", "noncolor":
		return NotColorable, true
	case "ambiguous":
		return Ambiguous, true
	default:
		return 0, false
	}
}

// Classify maps verdict text to a Route. Matching is case-sensitive.
func Classify(verdict string) Route {
	if strings.Contains(verdict, "Yes") {
		return Colorable
	}
	if strings.Contains(verdict, "No") {
		return NotColorable
	}
	return Ambiguous
}

// ColorBranch reports whether r proceeds through the color-annotation
// stages. Ambiguous items are merged into the noncolor branch.
func (r Route) ColorBranch() bool {
	return r == Colorable
}

// Buckets accumulates item keys per route.
type Buckets struct {
	Colorable    []string
	NotColorable []string
	Ambiguous    []string
}

// Add places key in the bucket for r.
func (b *Buckets) Add(key string, r Route) {
	switch r {
	case Colorable:
		b.Colorable = append(b.Colorable, key)
	case NotColorable:
		b.NotColorable = append(b.NotColorable, key)
	default:
		b.Ambiguous = append(b.Ambiguous, key)
	}
}

// Noncolor returns the keys processed by the noncolor branch: NotColorable
// followed by Ambiguous.
func (b *Buckets) Noncolor() []string {
	out := make([]string, 0, len(b.NotColorable)+len(b.Ambiguous))
	out = append(out, b.NotColorable...)
	return append(out, b.Ambiguous...)
}

package stage

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Failure is one rejected description from a verification artifact.
type Failure struct {
	Description string
	Reason      string
}

// String renders the failure block sent to the regenerate stage.
func (f Failure) String() string {
	return "Description:\n" + f.Description + "\n\nReason:\n" + f.Reason
}

// ParseFailures extracts the rejected statements of a verification
// artifact. Statements are blank-line separated; any statement containing
// "No" failed. The verdict token becomes the reason separator and the first
// word of the reason is capitalized. Statements without a reason are dropped.
func ParseFailures(check string) []Failure {
	var out []Failure
	for _, block := range strings.Split(check, "\n\n") {
		if !strings.Contains(block, "No") {
			continue
		}
		block = strings.ReplaceAll(block, "No, ", "Reason:\n")
		block = strings.ReplaceAll(block, "No", "Reason:\n")
		parts := strings.Split(block, "Reason:\n")
		var words []string
		if len(parts) > 1 {
			words = strings.Fields(parts[1])
		}
		if len(words) == 0 {
			continue
		}
		words[0] = capitalize(words[0])
		out = append(out, Failure{
			Description: parts[0],
			Reason:      strings.Join(words, " "),
		})
	}
	return out
}

// HasFailures reports whether any statement of a verification artifact
// was rejected, with or without a reason.
func HasFailures(check string) bool {
	for _, block := range strings.Split(check, "\n\n") {
		if strings.Contains(block, "No") {
			return true
		}
	}
	return false
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
}

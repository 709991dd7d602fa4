// Package assets provides embedded static assets for the application.
package assets

import (
	_ "embed"
	"strings"
)

//go:embed prompts/caption-phrasings.txt
var captionPhrasings string

// CaptionPhrasings returns the interchangeable caption requests. The caption
// stage picks one at random per exemplar and per query.
func CaptionPhrasings() []string {
	var out []string
	for _, line := range strings.Split(captionPhrasings, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

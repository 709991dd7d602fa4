package assets

import (
	"strings"
	"testing"
)

func TestCaptionPhrasings(t *testing.T) {
	got := CaptionPhrasings()
	if len(got) != 11 {
		t.Fatalf("CaptionPhrasings() returned %d phrasings, want 11", len(got))
	}
	for _, p := range got {
		if strings.TrimSpace(p) != p || p == "" {
			t.Errorf("phrasing %q is not trimmed", p)
		}
	}
}

func TestRenderPrompts(t *testing.T) {
	tests := []struct {
		name   string
		render func(bool) string
	}{
		{"annotation", RenderAnnotationPrompt},
		{"check", RenderCheckAnnotationPrompt},
		{"regenerate", RenderRegeneratePrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			color := tt.render(true)
			plain := tt.render(false)
			if !strings.Contains(color, "categories, colors and center coordinates") {
				t.Errorf("color prompt missing color attributes:\n%s", color)
			}
			if strings.Contains(plain, "colors") {
				t.Errorf("noncolor prompt mentions colors:\n%s", plain)
			}
			if strings.Contains(color, "{{") {
				t.Error("template not rendered")
			}
		})
	}
}

func TestStaticPrompts(t *testing.T) {
	if !strings.Contains(ColorCheckSystemPrompt, `"Yes"`) {
		t.Error("color check prompt must ask for a Yes verdict")
	}
	if CaptionSystemPrompt == "" {
		t.Error("caption prompt is empty")
	}
}

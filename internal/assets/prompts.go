// Package assets provides embedded static assets for the application.
//
// System prompts are stored as text files under prompts/ and embedded at
// compile time. The annotation prompts are templates rendered per attribute
// mode.

package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// --- Static prompts ---

// CaptionSystemPrompt frames the caption stage.
//
//go:embed prompts/caption-system.txt
var CaptionSystemPrompt string

// ColorCheckSystemPrompt asks for a Yes/No verdict on the listed colors.
//
//go:embed prompts/color-check-system.txt
var ColorCheckSystemPrompt string

// --- Templates over the attribute mode ---

//go:embed prompts/annotation-system.txt
var annotationTemplate string

//go:embed prompts/check-annotation-system.txt
var checkAnnotationTemplate string

//go:embed prompts/regenerate-system.txt
var regenerateTemplate string

var (
	annotationTmpl      = template.Must(template.New("annotation").Parse(annotationTemplate))
	checkAnnotationTmpl = template.Must(template.New("check-annotation").Parse(checkAnnotationTemplate))
	regenerateTmpl      = template.Must(template.New("regenerate").Parse(regenerateTemplate))
)

// PromptData holds the dynamic data injected into prompt templates.
type PromptData struct {
	// Attributes names the object attributes listed besides coordinates,
	// e.g. "categories, colors".
	Attributes string
}

func attributes(color bool) PromptData {
	if color {
		return PromptData{Attributes: "categories, colors"}
	}
	return PromptData{Attributes: "categories"}
}

// RenderAnnotationPrompt renders the annotation system prompt.
func RenderAnnotationPrompt(color bool) string {
	return renderTemplate(annotationTmpl, attributes(color))
}

// RenderCheckAnnotationPrompt renders the annotation verification prompt.
func RenderCheckAnnotationPrompt(color bool) string {
	return renderTemplate(checkAnnotationTmpl, attributes(color))
}

// RenderRegeneratePrompt renders the regeneration prompt.
func RenderRegeneratePrompt(color bool) string {
	return renderTemplate(regenerateTmpl, attributes(color))
}

func renderTemplate(tmpl *template.Template, data PromptData) string {
	var buf bytes.Buffer
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}

package stage

import (
	"github.com/sunzc-sunny/RDAnnotator/internal/assets"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// AttrMode selects how object attributes are rendered into a query.
type AttrMode int

const (
	// AttrCoords renders "<class>: [x, y]".
	AttrCoords AttrMode = iota
	// AttrColor renders "<class>, <color>: [x, y]".
	AttrColor
)

func (m AttrMode) String() string {
	if m == AttrColor {
		return "color"
	}
	return "coords"
}

// QueryKind selects which artifacts a stage's query carries.
type QueryKind int

const (
	// QueryCaption is a random caption request over a downscaled image.
	QueryCaption QueryKind = iota
	// QueryObjects carries only the object attributes.
	QueryObjects
	// QueryAnnotate carries the caption and object attributes.
	QueryAnnotate
	// QueryCheck adds the annotation under review.
	QueryCheck
	// QueryRegenerate adds the failed statements of the check.
	QueryRegenerate
)

// Template is everything that distinguishes one stage client from another.
type Template struct {
	// Name is the exemplar directory name under the prompt root.
	Name string
	// Stage is the artifact this client produces.
	Stage  ledger.Stage
	System string
	Query  QueryKind
	// Source is the prerequisite artifact read by QueryCheck and
	// QueryRegenerate.
	Source ledger.Stage
	Params vlm.Params
}

// Detail returns the image detail the template requests.
func (t Template) Detail() vlm.Detail {
	if t.Query == QueryCaption {
		return vlm.DetailLow
	}
	return vlm.DetailHigh
}

// Caption describes the image in n short sentences.
func Caption() Template {
	return Template{
		Name:   "caption",
		Stage:  ledger.StageCaption,
		System: assets.CaptionSystemPrompt,
		Query:  QueryCaption,
		Params: vlm.Params{
			Temperature:     vlm.Float32(0.7),
			TopP:            vlm.Float32(0.8),
			PresencePenalty: vlm.Float32(2.0),
			N:               3,
		},
	}
}

// ColorCheck asks whether the classifier colors match the image.
func ColorCheck() Template {
	return Template{
		Name:   "check_color_example",
		Stage:  ledger.StageColorCheck,
		System: assets.ColorCheckSystemPrompt,
		Query:  QueryObjects,
		Params: checkParams(),
	}
}

// Annotate writes grouped region descriptions.
func Annotate(mode AttrMode) Template {
	t := Template{
		Name:   "annotation_example_noncolor_v3",
		Stage:  ledger.StageNoncolorAnnotate,
		System: assets.RenderAnnotationPrompt(mode == AttrColor),
		Query:  QueryAnnotate,
		Params: annotateParams(),
	}
	if mode == AttrColor {
		t.Name = "annotation_example_color_v3"
		t.Stage = ledger.StageColorAnnotate
	}
	return t
}

// Verify checks each description of the annotation.
func Verify(mode AttrMode) Template {
	t := Template{
		Name:   "check_annotation_example_noncolor",
		Stage:  ledger.StageNoncolorVerify,
		System: assets.RenderCheckAnnotationPrompt(mode == AttrColor),
		Query:  QueryCheck,
		Source: ledger.StageNoncolorAnnotate,
		Params: checkParams(),
	}
	if mode == AttrColor {
		t.Name = "check_annotation_example"
		t.Stage = ledger.StageColorVerify
		t.Source = ledger.StageColorAnnotate
	}
	return t
}

// Regenerate revises the descriptions the check rejected.
func Regenerate(mode AttrMode) Template {
	t := Template{
		Name:   "regenerate_annotation_noncolor",
		Stage:  ledger.StageNoncolorRegenerate,
		System: assets.RenderRegeneratePrompt(mode == AttrColor),
		Query:  QueryRegenerate,
		Source: ledger.StageNoncolorVerify,
		Params: annotateParams(),
	}
	if mode == AttrColor {
		t.Name = "regenerate_annotation_color"
		t.Stage = ledger.StageColorRegenerate
		t.Source = ledger.StageColorVerify
	}
	return t
}

// Lookup returns the template and attribute mode producing stage.
func Lookup(stage ledger.Stage) (Template, AttrMode, bool) {
	switch stage {
	case ledger.StageCaption:
		return Caption(), AttrCoords, true
	case ledger.StageColorCheck:
		return ColorCheck(), AttrColor, true
	case ledger.StageColorAnnotate:
		return Annotate(AttrColor), AttrColor, true
	case ledger.StageColorVerify:
		return Verify(AttrColor), AttrColor, true
	case ledger.StageColorRegenerate:
		return Regenerate(AttrColor), AttrColor, true
	case ledger.StageNoncolorAnnotate:
		return Annotate(AttrCoords), AttrCoords, true
	case ledger.StageNoncolorVerify:
		return Verify(AttrCoords), AttrCoords, true
	case ledger.StageNoncolorRegenerate:
		return Regenerate(AttrCoords), AttrCoords, true
	}
	return Template{}, 0, false
}

func checkParams() vlm.Params {
	return vlm.Params{Temperature: vlm.Float32(0.3), TopP: vlm.Float32(0.2)}
}

func annotateParams() vlm.Params {
	return vlm.Params{
		Temperature:     vlm.Float32(0.2),
		TopP:            vlm.Float32(0.1),
		PresencePenalty: vlm.Float32(2.0),
	}
}

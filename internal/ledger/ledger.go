// Package ledger records per-(item, stage) completion of the annotation
// pipeline. The persisted artifact is itself the completion marker: an item
// has finished a stage exactly when a non-empty artifact for that stage is
// readable. There is no separate success record.
//
// Writes are atomic. A reader never observes a partially written artifact,
// and a crash mid-write leaves the stage incomplete rather than corrupt.
// Implementations do not lock per key; callers partition work by item so a
// key is never written concurrently.
package ledger

import (
	"context"
	"errors"
	"strings"
)

// Stage names one pipeline stage. The string value doubles as the default
// directory (or key prefix) under which the stage's artifacts live.
type Stage string

const (
	StageCaption            Stage = "caption"
	StageColorCheck         Stage = "color_check"
	StageColorAnnotate      Stage = "color_annotation"
	StageColorVerify        Stage = "color_check_annotation"
	StageColorRegenerate    Stage = "color_regenerate"
	StageNoncolorAnnotate   Stage = "noncolor_annotation"
	StageNoncolorVerify     Stage = "noncolor_check_annotation"
	StageNoncolorRegenerate Stage = "noncolor_regenerate"
)

// AllStages lists every stage in pipeline order, color branch first.
var AllStages = []Stage{
	StageCaption,
	StageColorCheck,
	StageColorAnnotate,
	StageColorVerify,
	StageColorRegenerate,
	StageNoncolorAnnotate,
	StageNoncolorVerify,
	StageNoncolorRegenerate,
}

// ErrNotFound is returned by Read when no valid artifact exists.
var ErrNotFound = errors.New("artifact not found")

// Ledger persists stage artifacts keyed by (item key, stage).
//
// Has reports true only for artifacts that pass Valid; an empty artifact left
// behind by a truncated response does not count as completion.
type Ledger interface {
	Has(ctx context.Context, key string, stage Stage) (bool, error)
	Read(ctx context.Context, key string, stage Stage) (string, error)
	Write(ctx context.Context, key string, stage Stage, content string) error
}

// Lister is implemented by ledgers that can enumerate stored artifacts.
type Lister interface {
	Keys(ctx context.Context, stage Stage) ([]string, error)
}

// Valid reports whether content is acceptable as a completed artifact.
func Valid(content string) bool {
	return strings.TrimSpace(content) != ""
}

// ArtifactName returns the artifact file name for an item key.
func ArtifactName(key string) string {
	return key + ".txt"
}

// BaseKey derives an item key from an image or artifact file name by
// stripping its extension ("0000001_00000_d_0000001.jpg" -> "0000001_00000_d_0000001").
func BaseKey(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

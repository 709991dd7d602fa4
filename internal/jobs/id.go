// Package jobs names pipeline runs.
package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunIDPrefix starts every run ID.
const RunIDPrefix = "run-"

// NewRunID returns a run ID that sorts by start time:
// run-<UTC yyyymmddThhmmss>-<8 hex chars>.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return RunIDPrefix + now.UTC().Format("20060102T150405") + "-" + suffix
}

// IsRunID reports whether id has the run ID shape.
func IsRunID(id string) bool {
	rest, ok := strings.CutPrefix(id, RunIDPrefix)
	if !ok || len(rest) != len("20060102T150405")+1+8 {
		return false
	}
	if _, err := time.Parse("20060102T150405", rest[:15]); err != nil {
		return false
	}
	return rest[15] == '-'
}

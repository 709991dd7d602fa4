package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
)

// Job records one submitted batch job. Keys are in request order.
type Job struct {
	Name        string       `json:"name"`
	Stage       ledger.Stage `json:"stage"`
	Keys        []string     `json:"keys"`
	State       State        `json:"state"`
	Message     string       `json:"message,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
	FinishedAt  time.Time    `json:"finished_at,omitzero"`
}

// Manifest lists the jobs submitted for one stage.
type Manifest struct {
	Stage ledger.Stage `json:"stage"`
	Jobs  []Job        `json:"jobs"`
}

// ManifestPath returns <dir>/<stage>.json.
func ManifestPath(dir string, s ledger.Stage) string {
	return filepath.Join(dir, string(s)+".json")
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest for s.
func LoadManifest(path string, s ledger.Stage) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{Stage: s}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Stage != s {
		return nil, fmt.Errorf("manifest %s is for stage %s, not %s", path, m.Stage, s)
	}
	return &m, nil
}

// Save writes the manifest through a temp file and rename.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// PendingKeys returns the keys held by jobs that have not finished.
func (m *Manifest) PendingKeys() map[string]bool {
	out := make(map[string]bool)
	for _, j := range m.Jobs {
		if j.State != StatePending {
			continue
		}
		for _, k := range j.Keys {
			out[k] = true
		}
	}
	return out
}

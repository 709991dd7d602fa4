package ledger

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Ledger. It backs the MCP server's scratch runs and
// tests that do not need a filesystem.
type Memory struct {
	mu        sync.Mutex
	artifacts map[Stage]map[string]string
	writes    int
}

// Compile-time interface checks.
var (
	_ Ledger = (*Memory)(nil)
	_ Lister = (*Memory)(nil)
)

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{artifacts: make(map[Stage]map[string]string)}
}

func (m *Memory) Has(ctx context.Context, key string, stage Stage) (bool, error) {
	_, err := m.Read(ctx, key, stage)
	return err == nil, nil
}

func (m *Memory) Read(_ context.Context, key string, stage Stage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.artifacts[stage][key]
	if !ok || !Valid(content) {
		return "", ErrNotFound
	}
	return content, nil
}

func (m *Memory) Write(_ context.Context, key string, stage Stage, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifacts[stage] == nil {
		m.artifacts[stage] = make(map[string]string)
	}
	m.artifacts[stage][key] = content
	m.writes++
	return nil
}

func (m *Memory) Keys(_ context.Context, stage Stage) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.artifacts[stage]))
	for k := range m.artifacts[stage] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Writes returns the number of Write calls so far.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

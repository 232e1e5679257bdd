package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// persistedState is the JSON structure saved to disk.
type persistedState struct {
	Version     string                 `json:"version"`
	Updated     time.Time              `json:"updated"`
	Deployments map[string]*Deployment `json:"deployments"`
}

// saveStateUnlocked persists state without acquiring locks. Caller
// must hold at least a read lock. The file is written atomically
// (temp file, then rename).
func (m *Manager) saveStateUnlocked() error {
	state := persistedState{
		Version:     "1.0",
		Updated:     time.Now(),
		Deployments: m.deployments,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tempPath := m.statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tempPath, m.statePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// loadState restores deployment state from disk. A missing state file
// is not an error (first run).
func (m *Manager) loadState() error {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	m.mu.Lock()
	m.deployments = state.Deployments
	if m.deployments == nil {
		m.deployments = make(map[string]*Deployment)
	}
	m.mu.Unlock()

	m.logger.Printf("loaded state: %d deployments (version=%s, updated=%s)",
		len(state.Deployments), state.Version, state.Updated.Format(time.RFC3339))
	return nil
}

// ReconcileState drops state entries whose deployment directories no
// longer exist on disk.
func (m *Manager) ReconcileState() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for name, d := range m.deployments {
		if _, err := os.Stat(d.Dir); os.IsNotExist(err) {
			m.logger.Printf("removing stale state for deployment %s (directory not found)", name)
			delete(m.deployments, name)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Printf("reconciled state: removed %d stale entries", removed)
		if err := m.saveStateUnlocked(); err != nil {
			return fmt.Errorf("save reconciled state: %w", err)
		}
	}
	return nil
}

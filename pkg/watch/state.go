package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

const stateFileName = "follow_state.json"

// PortalState contains the last follow run of a portal
type PortalState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	WindowStart    string    `json:"window_start"`
	WindowStop     string    `json:"window_stop"`
	CasesArchived  int       `json:"cases_archived"`
	CasesFailed    int       `json:"cases_failed"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// FollowState is the persistent state of the follow scheduler
type FollowState struct {
	Portals   map[string]PortalState `json:"portals"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StateManager handles persisting and loading follow state
type StateManager struct {
	stateDir  string
	statePath string
	state     FollowState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: FollowState{
			Portals: make(map[string]PortalState),
		},
	}
}

// Path is the location of the state file.
func (m *StateManager) Path() string {
	return m.statePath
}

// Load loads the state from disk. A missing file is a fresh start.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = FollowState{Portals: make(map[string]PortalState)}
			return nil
		}
		return fmt.Errorf("%w: read follow state: %w", utils.ErrFilesystem, err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("%w: follow state %s: %w", utils.ErrParsing, m.statePath, err)
	}
	if m.state.Portals == nil {
		m.state.Portals = make(map[string]PortalState)
	}
	return nil
}

// Save writes the state atomically.
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal follow state: %w", err)
	}
	return utils.WriteFileAtomic(m.statePath, data, 0o644)
}

// GetPortalState returns the state for a specific portal
func (m *StateManager) GetPortalState(portalKey string) (PortalState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Portals[portalKey]
	return state, ok
}

// UpdatePortalState records a finished follow run
func (m *StateManager) UpdatePortalState(portalKey string, state PortalState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.LastRunTime.IsZero() {
		state.LastRunTime = time.Now()
	}
	m.state.Portals[portalKey] = state
}

// ShouldRun reports whether interval has passed since the portal's last run
func (m *StateManager) ShouldRun(portalKey string, interval time.Duration, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Portals[portalKey]
	if !ok {
		return true
	}
	return now.Sub(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the portal should next run
func (m *StateManager) GetNextRunTime(portalKey string, interval time.Duration, now time.Time) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Portals[portalKey]
	if !ok {
		return now
	}
	return state.LastRunTime.Add(interval)
}

// GetAllPortalStates returns a copy of all portal states
func (m *StateManager) GetAllPortalStates() map[string]PortalState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]PortalState, len(m.state.Portals))
	for k, v := range m.state.Portals {
		result[k] = v
	}
	return result
}

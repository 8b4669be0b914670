package lifecycle

import (
	"sort"
	"sync"
	"time"
)

// State is where a plugin identifier is in its lifecycle
type State string

const (
	StateAbsent     State = "absent"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateUpdating   State = "updating"
	StateFailed     State = "failed"
)

// Status is the last recorded state of a plugin identifier
type Status struct {
	PluginID  string    `json:"plugin_id"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// stateTracker records transitions for reporting. It does not serialize
// operations; the filesystem stays the source of truth for what is installed.
type stateTracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		statuses: make(map[string]Status),
		now:      time.Now,
	}
}

func (t *stateTracker) set(id string, state State, err error) {
	status := Status{PluginID: id, State: state, UpdatedAt: t.now()}
	if err != nil {
		status.Error = err.Error()
	}

	t.mu.Lock()
	t.statuses[id] = status
	t.mu.Unlock()
}

func (t *stateTracker) get(id string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.statuses[id]
	return status, ok
}

func (t *stateTracker) list() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	statuses := make([]Status, 0, len(t.statuses))
	for _, status := range t.statuses {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].PluginID < statuses[j].PluginID })
	return statuses
}

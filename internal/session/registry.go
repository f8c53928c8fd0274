// Package session tracks per-symbol session windows over the live tick
// stream and detects session-start transitions.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gaplocker/internal/config"
	"github.com/sawpanic/gaplocker/internal/model"
)

// state is the mutable per-symbol session state, owned by the registry and
// mutated only under its lock.
type state struct {
	sessionStart *model.Tick
	sessionEnd   *model.Tick
}

// Registry holds the configured session windows and the live session state
// for every tradable symbol. One coarse lock guards all of it; only the
// tracker's short mutation runs under the lock, never pipeline I/O.
type Registry struct {
	mu       sync.Mutex
	windows  map[string]config.SymbolWindow
	states   map[string]*state
	skipDays map[time.Weekday]bool
}

// NewRegistry creates a registry from parsed symbol windows and skip days.
func NewRegistry(windows map[string]config.SymbolWindow, skipDays map[time.Weekday]bool) *Registry {
	r := &Registry{
		windows:  windows,
		states:   make(map[string]*state, len(windows)),
		skipDays: skipDays,
	}
	for symbol := range windows {
		r.states[symbol] = &state{}
	}
	return r
}

// Reload replaces the symbol table wholesale. Session state survives for
// symbols present in the new table and is dropped for removed ones.
func (r *Registry) Reload(windows map[string]config.SymbolWindow, skipDays map[time.Weekday]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]*state, len(windows))
	for symbol := range windows {
		if st, ok := r.states[symbol]; ok {
			states[symbol] = st
		} else {
			states[symbol] = &state{}
		}
	}

	r.windows = windows
	r.states = states
	r.skipDays = skipDays

	log.Info().Int("symbols", len(windows)).Msg("Session registry reloaded")
}

// SymbolStatus is a point-in-time snapshot of one symbol's session state,
// exposed on the ops status endpoint.
type SymbolStatus struct {
	Symbol       string      `json:"symbol"`
	BeginOffset  int64       `json:"begin_offset"`
	EndOffset    int64       `json:"end_offset"`
	GapPoints    int64       `json:"gap_points"`
	SessionStart *model.Tick `json:"session_start,omitempty"`
	SessionEnd   *model.Tick `json:"session_end,omitempty"`
}

// Snapshot copies the current per-symbol state under the lock.
func (r *Registry) Snapshot() []SymbolStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SymbolStatus, 0, len(r.windows))
	for symbol, w := range r.windows {
		status := SymbolStatus{
			Symbol:      symbol,
			BeginOffset: w.BeginOffset,
			EndOffset:   w.EndOffset,
			GapPoints:   w.GapPoints,
		}
		if st := r.states[symbol]; st != nil {
			if st.sessionStart != nil {
				tick := *st.sessionStart
				status.SessionStart = &tick
			}
			if st.sessionEnd != nil {
				tick := *st.sessionEnd
				status.SessionEnd = &tick
			}
		}
		out = append(out, status)
	}
	return out
}

// GapPoints returns the configured gap threshold for a symbol.
func (r *Registry) GapPoints(symbol string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[symbol]
	if !ok {
		return 0, false
	}
	return w.GapPoints, true
}

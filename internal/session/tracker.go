package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gaplocker/internal/model"
)

const secondsInDay = 86400

// startGraceWindow bounds how late after the computed window start a tick may
// arrive and still produce a candidate. Later detections are stale: the gap
// they describe is minutes old and locking against it would be worse than
// doing nothing.
const startGraceWindow = 10 * time.Minute

// Tracker consumes each incoming tick and advances the symbol's session
// state, emitting a candidate exactly once per window occurrence.
type Tracker struct {
	registry *Registry
}

// NewTracker creates a tracker over the given registry.
func NewTracker(registry *Registry) *Tracker {
	return &Tracker{registry: registry}
}

// OnTick processes one tick. It returns a non-nil candidate only on a
// session-start transition with a usable prior session end. Runs on the tick
// delivery path: no I/O, bounded time, single lock acquisition.
func (t *Tracker) OnTick(symbol string, tick model.Tick) *model.GapCandidate {
	r := t.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	window, ok := r.windows[symbol]
	if !ok {
		return nil
	}

	windowStart, windowEnd := windowBounds(window.BeginOffset, window.EndOffset, tick.Timestamp)

	if tick.Timestamp < windowStart || tick.Timestamp >= windowEnd {
		// Outside the window. State is left alone: a late or out-of-order
		// tick must not invalidate a session already in progress.
		return nil
	}

	st := r.states[symbol]
	if st == nil {
		st = &state{}
		r.states[symbol] = st
	}

	if st.sessionStart != nil && st.sessionStart.Timestamp >= windowStart {
		// Ongoing window: keep advancing the closing reference.
		st.sessionEnd = &tick
		return nil
	}

	// New window occurrence.
	priorEnd := st.sessionEnd
	st.sessionStart = &tick

	if priorEnd == nil {
		log.Debug().Str("symbol", symbol).Msg("Session started without prior close, nothing to measure")
		return nil
	}

	if tick.Timestamp-windowStart > int64(startGraceWindow/time.Second) {
		log.Debug().Str("symbol", symbol).
			Int64("late_by", tick.Timestamp-windowStart).
			Msg("Session start detected too late, discarding stale gap")
		return nil
	}

	if day := time.Unix(windowStart, 0).UTC().Weekday(); r.skipDays[day] {
		log.Debug().Str("symbol", symbol).Str("day", day.String()).
			Msg("Session start falls on a skipped day")
		return nil
	}

	return &model.GapCandidate{
		Symbol:           symbol,
		SessionStart:     tick,
		SessionEnd:       *priorEnd,
		WindowStart:      windowStart,
		EventTimestampMs: tick.Timestamp * 1000,
	}
}

// windowBounds computes the absolute window for the tick's calendar day.
// EndOffset beyond 86400 expresses wraparound past midnight; when the tick
// precedes the computed start, the window is rolled back one day so a tick
// just after midnight still lands in yesterday's wrapped window.
func windowBounds(beginOffset, endOffset, ts int64) (int64, int64) {
	midnight := ts - mod(ts, secondsInDay)
	start := midnight + beginOffset
	end := midnight + endOffset

	if ts < start {
		start -= secondsInDay
		end -= secondsInDay
	}
	return start, end
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

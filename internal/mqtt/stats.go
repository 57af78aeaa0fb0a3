package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/reelworks/montage/internal/events"
)

// StudioStats tracks agent activity for sensor publishing. Daily
// counters (tokens, steps, runs) reset at local midnight. All methods
// are safe for concurrent use. Values are fed from the event bus via
// [StudioStats.Watch].
type StudioStats struct {
	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	steps        int64
	runs         int64
	resetDay     int // day-of-year of last reset
	loc          *time.Location

	state   string
	project string
	lastRun time.Time
}

// StatsSnapshot is a copy-safe view of the current stats.
type StatsSnapshot struct {
	TokensToday int64
	StepsToday  int64
	RunsToday   int64
	State       string
	Project     string
	LastRun     time.Time
}

// NewStudioStats creates a tracker using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewStudioStats(loc *time.Location) *StudioStats {
	if loc == nil {
		loc = time.Local
	}
	return &StudioStats{
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
		state:    "idle",
	}
}

// Watch subscribes to the bus and updates counters until ctx is
// cancelled. Run it in its own goroutine.
func (s *StudioStats) Watch(ctx context.Context, bus *events.Bus) {
	if bus == nil {
		return
	}
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.observe(e)
		}
	}
}

func (s *StudioStats) observe(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeReset()

	switch e.Kind {
	case events.KindRunStart:
		s.state = "running"
		s.project = e.Project
	case events.KindStep:
		s.steps++
		s.inputTokens += intData(e.Data, "tokens_in")
		s.outputTokens += intData(e.Data, "tokens_out")
	case events.KindRunDone:
		s.state = "idle"
		s.runs++
		s.lastRun = e.Timestamp
	}
}

// Snapshot returns the current totals after checking for midnight
// rollover.
func (s *StudioStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeReset()
	return StatsSnapshot{
		TokensToday: s.inputTokens + s.outputTokens,
		StepsToday:  s.steps,
		RunsToday:   s.runs,
		State:       s.state,
		Project:     s.project,
		LastRun:     s.lastRun,
	}
}

// maybeReset zeroes the daily counters if the local day-of-year has
// changed. Must be called with s.mu held.
func (s *StudioStats) maybeReset() {
	today := time.Now().In(s.loc).YearDay()
	if today != s.resetDay {
		s.inputTokens = 0
		s.outputTokens = 0
		s.steps = 0
		s.runs = 0
		s.resetDay = today
	}
}

// intData reads a numeric event data field. Bus payloads may carry
// int or float64 depending on whether they round-tripped through JSON.
func intData(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

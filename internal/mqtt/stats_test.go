package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/reelworks/montage/internal/events"
)

func TestStudioStats_ObserveRun(t *testing.T) {
	s := NewStudioStats(time.UTC)

	s.observe(events.Event{Kind: events.KindRunStart, Project: "promo"})
	snap := s.Snapshot()
	if snap.State != "running" || snap.Project != "promo" {
		t.Errorf("after run_start: %+v", snap)
	}

	s.observe(events.Event{Kind: events.KindStep, Data: map[string]any{
		"tokens_in": 100, "tokens_out": 40,
	}})
	s.observe(events.Event{Kind: events.KindStep, Data: map[string]any{
		"tokens_in": 50, "tokens_out": 10,
	}})
	s.observe(events.Event{Kind: events.KindRunDone, Timestamp: time.Now()})

	snap = s.Snapshot()
	if snap.State != "idle" {
		t.Errorf("state = %q, want idle", snap.State)
	}
	if snap.TokensToday != 200 {
		t.Errorf("tokens today = %d, want 200", snap.TokensToday)
	}
	if snap.StepsToday != 2 {
		t.Errorf("steps today = %d, want 2", snap.StepsToday)
	}
	if snap.RunsToday != 1 {
		t.Errorf("runs today = %d, want 1", snap.RunsToday)
	}
	if snap.LastRun.IsZero() {
		t.Error("last run not recorded")
	}
}

func TestStudioStats_FloatTokenData(t *testing.T) {
	// Events that round-tripped through JSON carry float64 numbers.
	s := NewStudioStats(time.UTC)
	s.observe(events.Event{Kind: events.KindStep, Data: map[string]any{
		"tokens_in": float64(30), "tokens_out": float64(12),
	}})
	if got := s.Snapshot().TokensToday; got != 42 {
		t.Errorf("tokens today = %d, want 42", got)
	}
}

func TestStudioStats_ZeroInitially(t *testing.T) {
	snap := NewStudioStats(time.UTC).Snapshot()
	if snap.TokensToday != 0 || snap.StepsToday != 0 || snap.RunsToday != 0 {
		t.Errorf("snapshot = %+v, want zeroes", snap)
	}
	if snap.State != "idle" {
		t.Errorf("state = %q, want idle", snap.State)
	}
}

func TestStudioStats_WatchReceivesBusEvents(t *testing.T) {
	s := NewStudioStats(time.UTC)
	bus := events.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Watch(ctx, bus)
	}()

	// Let Watch subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(events.Event{Kind: events.KindRunStart, Project: "docu"})
	bus.Publish(events.Event{Kind: events.KindStep, Data: map[string]any{
		"tokens_in": 5, "tokens_out": 5,
	}})

	deadline := time.After(2 * time.Second)
	for {
		snap := s.Snapshot()
		if snap.TokensToday == 10 && snap.Project == "docu" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stats never updated: %+v", snap)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	wg.Wait()
}

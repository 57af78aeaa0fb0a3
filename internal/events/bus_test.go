package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Source: SourceAgent, Kind: KindRunStart})
}

func TestNilBusSubscriberCount(t *testing.T) {
	var b *Bus
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishSingleSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	want := Event{
		Project: "promo",
		Source:  SourceAgent,
		Kind:    KindRunStart,
		Data:    map[string]any{"max_steps": 100},
	}
	b.Publish(want)

	select {
	case got := <-ch:
		if got.Source != want.Source || got.Kind != want.Kind || got.Project != "promo" {
			t.Errorf("got event %v, want %v", got, want)
		}
		if got.Timestamp.IsZero() {
			t.Error("timestamp not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := New()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	evt := Event{Source: SourceTools, Kind: KindToolDone}
	b.Publish(evt)

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.Source != evt.Source || got.Kind != evt.Kind {
				t.Errorf("subscriber %d: got %v, want %v", i, got, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	// Fill the buffer, then publish more; extra events must be
	// dropped without blocking.
	b.Publish(Event{Kind: KindStep})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindStep})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	// Double unsubscribe is a no-op.
	b.Unsubscribe(ch)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := b.Subscribe(16)
			for j := 0; j < 50; j++ {
				b.Publish(Event{Source: SourceAgent, Kind: KindStep})
			}
			b.Unsubscribe(ch)
		}()
	}
	wg.Wait()
}

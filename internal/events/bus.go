// Package events provides a publish/subscribe event bus for live UI
// notification and operational observability. Events flow from
// components (agent loop, tool dispatcher, review poller) to
// subscribers (SSE handler, WebSocket handler, MQTT publisher). The
// bus is an explicitly constructed per-process object injected into
// publishers; there is no module-level registry. It is nil-safe:
// calling Publish on a nil *Bus is a no-op, so components do not need
// guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the core agent loop.
	SourceAgent = "agent"
	// SourceTools identifies events from tool execution.
	SourceTools = "tools"
	// SourceAPI identifies events from the HTTP front-end.
	SourceAPI = "api"
	// SourceReview identifies events from the review-inbox poller.
	SourceReview = "review"
)

// Kind constants describe the type of event within a source.
const (
	// KindRunStart signals the beginning of an agent run.
	// Data: request_len, resumed, max_steps.
	KindRunStart = "run_start"
	// KindStep signals one completed model invocation.
	// Data: step, tool_calls, tokens_in, tokens_out.
	KindStep = "step"
	// KindToolCall signals the start of a tool execution.
	// Data: tool, call_id.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: tool, call_id, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindView asks the UI to open an asset, optionally at a seek
	// position. Data: kind (asset|output), path, timestamp.
	KindView = "view"
	// KindRunDone signals the end of an agent run.
	// Data: steps, elapsed_ms, ok.
	KindRunDone = "run_done"

	// KindAssetUploaded signals a new asset arrived via the API.
	// Data: name, size.
	KindAssetUploaded = "asset_uploaded"

	// KindReviewNote signals a client note arrived in the review
	// inbox. Data: from, subject.
	KindReviewNote = "review_note"
)

// Event represents a single event published by a component. Project
// scopes the event to one workspace; subscribers filter on it when
// streaming to a project-specific UI.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Project identifies the workspace the event belongs to. Empty
	// for process-wide events.
	Project string `json:"project,omitempty"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, stamping the timestamp
// if unset. Non-blocking: if a subscriber's channel is full, the
// event is dropped for that subscriber. Safe to call on a nil
// receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// SSE and WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

package agent

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reelworks/montage/internal/checkpoint"
	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/memory"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/summarizer"
	"github.com/reelworks/montage/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptClient returns canned responses in order and records every
// call it receives.
type scriptClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	calls     [][]llm.Message
	toolDecls [][]map[string]any
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Model:        "gemini-test",
		Message:      llm.TextMessage(llm.RoleAssistant, text),
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{
		Model:   "gemini-test",
		Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
	}
}

func (c *scriptClient) Chat(_ context.Context, _ string, messages []llm.Message, toolDecls []map[string]any) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, messages)
	c.toolDecls = append(c.toolDecls, toolDecls)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return textResponse("done"), nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptClient) UploadFile(context.Context, string, string) (string, error) {
	return "files/mock", nil
}

func (c *scriptClient) Ping(context.Context) error { return nil }

func (c *scriptClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// newTestLoop wires a loop around a fresh project and checkpoint
// store, filling in everything cfg leaves nil.
func newTestLoop(t *testing.T, cfg Config) (*Loop, *tools.Env) {
	t.Helper()

	store, err := project.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pp, err := store.Create("promo")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Checkpoints == nil {
		db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "checkpoints.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		cs, err := checkpoint.NewStore(db)
		if err != nil {
			t.Fatal(err)
		}
		cfg.Checkpoints = cs
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry(tools.Config{Bus: cfg.Bus, Logger: testLogger()})
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-test"
	}
	return New(cfg), &tools.Env{Project: pp}
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventKinds(evs []events.Event) []string {
	kinds := make([]string, 0, len(evs))
	for _, e := range evs {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestRunSingleStep(t *testing.T) {
	client := &scriptClient{responses: []*llm.Response{
		textResponse("Hello! What would you like to edit?"),
	}}
	bus := events.New()
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)
	loop, env := newTestLoop(t, Config{Client: client, Bus: bus})

	out, err := loop.Run(context.Background(), env, Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "Hello! What would you like to edit?" {
		t.Errorf("out = %q", out)
	}
	if client.callCount() != 1 {
		t.Fatalf("model calls = %d, want 1", client.callCount())
	}

	sent := client.calls[0]
	if sent[0].Role != llm.RoleSystem {
		t.Errorf("first message role = %s, want system", sent[0].Role)
	}
	if !strings.Contains(sent[0].Text(), "Project Root Directory: "+env.Project.Root) {
		t.Error("system prompt missing project root")
	}
	last := sent[len(sent)-1]
	if last.Role != llm.RoleUser {
		t.Errorf("last message role = %s, want user", last.Role)
	}
	if !strings.Contains(last.Text(), "Project name: promo") || !strings.Contains(last.Text(), "hello") {
		t.Errorf("user turn = %q", last.Text())
	}

	st, err := loop.checkpoints.Resume("promo")
	if err != nil || st == nil {
		t.Fatalf("Resume: %v, %v", st, err)
	}
	if len(st.Messages) != 2 || st.Step != 1 {
		t.Errorf("checkpoint = %d messages, step %d; want 2, 1", len(st.Messages), st.Step)
	}

	if msgs := memory.LoadTranscript(env.Project.TranscriptPath()); len(msgs) != 2 {
		t.Errorf("transcript entries = %d, want 2", len(msgs))
	}

	kinds := strings.Join(eventKinds(drainEvents(ch)), ",")
	for _, want := range []string{events.KindRunStart, events.KindStep, events.KindRunDone} {
		if !strings.Contains(kinds, want) {
			t.Errorf("events %q missing %q", kinds, want)
		}
	}
}

func TestRunToolStep(t *testing.T) {
	client := &scriptClient{responses: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "call-1", Name: "list_files", Args: map[string]any{}}),
		textResponse("The project is empty so far."),
	}}
	loop, env := newTestLoop(t, Config{Client: client})

	out, err := loop.Run(context.Background(), env, Request{Text: "what files are there?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "The project is empty so far." {
		t.Errorf("out = %q", out)
	}
	if client.callCount() != 2 {
		t.Fatalf("model calls = %d, want 2", client.callCount())
	}
	if len(client.toolDecls[0]) == 0 {
		t.Error("no tool declarations bound to the model call")
	}

	// The second call must carry the tool result for call-1.
	var found bool
	for _, m := range client.calls[1] {
		if m.Role == llm.RoleTool && m.ToolCallID == "call-1" && m.ToolName == "list_files" {
			found = true
		}
	}
	if !found {
		t.Error("second model call missing tool result for call-1")
	}

	st, _ := loop.checkpoints.Resume("promo")
	if len(st.Messages) != 4 || st.Step != 2 {
		t.Fatalf("checkpoint = %d messages, step %d; want 4, 2", len(st.Messages), st.Step)
	}
	if st.Messages[2].Role != llm.RoleTool {
		t.Errorf("message 2 role = %s, want tool", st.Messages[2].Role)
	}
}

func TestRunOrderedResultsPerCall(t *testing.T) {
	client := &scriptClient{responses: []*llm.Response{
		toolResponse(
			llm.ToolCall{ID: "call-1", Name: "list_files", Args: map[string]any{}},
			llm.ToolCall{ID: "call-2", Name: "no_such_tool", Args: map[string]any{}},
		),
		textResponse("done"),
	}}
	loop, env := newTestLoop(t, Config{Client: client})

	if _, err := loop.Run(context.Background(), env, Request{Text: "go"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st, _ := loop.checkpoints.Resume("promo")
	// user, assistant(2 calls), tool result x2, assistant final
	if len(st.Messages) != 5 {
		t.Fatalf("checkpoint messages = %d, want 5", len(st.Messages))
	}
	if st.Messages[2].ToolCallID != "call-1" || st.Messages[3].ToolCallID != "call-2" {
		t.Errorf("tool results out of order: %q, %q", st.Messages[2].ToolCallID, st.Messages[3].ToolCallID)
	}
	if !strings.HasPrefix(st.Messages[3].Text(), "Error: ") {
		t.Errorf("unknown tool result = %q, want error text", st.Messages[3].Text())
	}
}

func TestRunTransportFailureExhaustsRetries(t *testing.T) {
	failing := &scriptClient{err: errors.New("transport: connection reset")}
	client := llm.NewRetryClientWithSchedule(failing,
		[]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, testLogger())

	bus := events.New()
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)
	loop, env := newTestLoop(t, Config{Client: client, Bus: bus})

	_, err := loop.Run(context.Background(), env, Request{Text: "hello"})
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if !strings.Contains(err.Error(), "transport") {
		t.Errorf("err = %v, want wrapped transport error", err)
	}
	if failing.callCount() != 4 {
		t.Errorf("attempts = %d, want 4 (1 + 3 retries)", failing.callCount())
	}

	for _, e := range drainEvents(ch) {
		if e.Kind == events.KindToolCall {
			t.Error("tool dispatched during a failed model call")
		}
		if e.Kind == events.KindRunDone {
			if ok, _ := e.Data["ok"].(bool); ok {
				t.Error("run_done ok = true, want false")
			}
		}
	}
}

func TestRunStepCeiling(t *testing.T) {
	client := &scriptClient{responses: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "c1", Name: "list_files", Args: map[string]any{}}),
		toolResponse(llm.ToolCall{ID: "c2", Name: "list_files", Args: map[string]any{}}),
	}}
	loop, env := newTestLoop(t, Config{Client: client, MaxSteps: 2})

	out, err := loop.Run(context.Background(), env, Request{Text: "keep going"})
	if err != nil {
		t.Fatalf("ceiling must be normal termination, got %v", err)
	}
	if client.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", client.callCount())
	}
	if out == "" {
		t.Error("expected a rendering of the last message")
	}
}

func TestRunResumesConversation(t *testing.T) {
	client := &scriptClient{responses: []*llm.Response{
		textResponse("first answer"),
		textResponse("second answer"),
	}}
	loop, env := newTestLoop(t, Config{Client: client})

	if _, err := loop.Run(context.Background(), env, Request{Text: "first"}); err != nil {
		t.Fatal(err)
	}
	if _, err := loop.Run(context.Background(), env, Request{Text: "second"}); err != nil {
		t.Fatal(err)
	}

	st, _ := loop.checkpoints.Resume("promo")
	if len(st.Messages) != 4 {
		t.Fatalf("checkpoint messages = %d, want 4", len(st.Messages))
	}
	// Only the very first turn carries the project header.
	if !strings.Contains(st.Messages[0].Text(), "Project name: promo") {
		t.Error("first turn missing project header")
	}
	if strings.Contains(st.Messages[2].Text(), "Project name:") {
		t.Error("second turn repeats project header")
	}
}

func TestRunInjectsSummaryBlock(t *testing.T) {
	client := &scriptClient{responses: []*llm.Response{textResponse("ok")}}
	loop, env := newTestLoop(t, Config{Client: client})

	if err := summarizer.Save(env.Project.SummaryPath(), "- client wants fast cuts"); err != nil {
		t.Fatal(err)
	}

	if _, err := loop.Run(context.Background(), env, Request{Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	sent := client.calls[0]
	if len(sent) < 3 {
		t.Fatalf("model call carried %d messages, want system+summary+user", len(sent))
	}
	if sent[1].Role != llm.RoleSystem || !strings.Contains(sent[1].Text(), "fast cuts") {
		t.Errorf("summary block = %q", sent[1].Text())
	}
}

func TestRunSummaryRefreshOnLargeHistory(t *testing.T) {
	// 50 alternating turns of 12k chars each puts the estimate at
	// roughly 150k tokens, over the refresh trigger.
	history := make([]llm.Message, 0, 50)
	for i := 0; i < 50; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		history = append(history, llm.TextMessage(role, strings.Repeat("x", 12_000)))
	}

	aux := &scriptClient{responses: []*llm.Response{
		textResponse("- client prefers jump cuts\n- intro sequence rendered"),
	}}
	client := &scriptClient{responses: []*llm.Response{textResponse("Done.")}}
	loop, env := newTestLoop(t, Config{
		Client:     client,
		Summarizer: summarizer.New(aux, "gemini-test", testLogger()),
	})

	if err := loop.checkpoints.Save("promo", &checkpoint.RunState{Messages: history}); err != nil {
		t.Fatal(err)
	}

	if _, err := loop.Run(context.Background(), env, Request{Text: "status?"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if aux.callCount() != 1 {
		t.Fatalf("auxiliary model calls = %d, want exactly 1", aux.callCount())
	}
	got := summarizer.Load(env.Project.SummaryPath())
	if got == "" {
		t.Fatal("summary file empty after refresh")
	}
	if len(got) > summarizer.MaxChars {
		t.Errorf("summary length = %d, over ceiling", len(got))
	}
	if !strings.Contains(got, "jump cuts") {
		t.Errorf("summary = %q", got)
	}
}

func TestRunNoSummaryCallBelowTrigger(t *testing.T) {
	aux := &scriptClient{}
	client := &scriptClient{responses: []*llm.Response{textResponse("hi")}}
	loop, env := newTestLoop(t, Config{
		Client:     client,
		Summarizer: summarizer.New(aux, "gemini-test", testLogger()),
	})

	if _, err := loop.Run(context.Background(), env, Request{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if aux.callCount() != 0 {
		t.Errorf("auxiliary model calls = %d, want 0 below trigger", aux.callCount())
	}
}

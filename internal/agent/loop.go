// Package agent implements the conversational control loop that drives
// the editing model over a project workspace. Each run continues the
// project's durable conversation: prior messages come back from the
// checkpoint store, the model is invoked with a trimmed window plus the
// rolling summary, and requested tool calls are dispatched between
// model turns until the model answers without tools or the step
// ceiling is reached.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelworks/montage/internal/checkpoint"
	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/memory"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/prompts"
	"github.com/reelworks/montage/internal/skills"
	"github.com/reelworks/montage/internal/summarizer"
	"github.com/reelworks/montage/internal/tools"
	"github.com/reelworks/montage/internal/usage"
)

// DefaultMaxSteps is the step ceiling applied when a run does not
// specify its own. Hitting the ceiling is normal termination, not an
// error.
const DefaultMaxSteps = 100

// State is the loop's position in the run state machine.
type State int

const (
	// StateRunning means the next action is a model invocation.
	StateRunning State = iota
	// StateAwaitingTools means the last model turn requested tool
	// calls whose results have not all been appended yet.
	StateAwaitingTools
	// StateDone means the run has terminated.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateAwaitingTools:
		return "awaiting_tools"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Config carries the services a Loop depends on.
type Config struct {
	// Client is the model client. It should already carry the standard
	// retry schedule (llm.NewRetryClient).
	Client llm.Client
	// Model is the model identifier passed on every Chat call.
	Model string
	// Registry supplies tool declarations and executes dispatched
	// calls.
	Registry *tools.Registry
	// Checkpoints persists run state after every iteration. May be nil,
	// in which case conversations do not survive the process.
	Checkpoints *checkpoint.Store
	// Summarizer maintains the project's rolling summary. May be nil.
	Summarizer *summarizer.Summarizer
	// Library provides skill discovery for the system prompt. May be
	// nil.
	Library *skills.Library
	// Bus receives run lifecycle events. Nil-safe.
	Bus *events.Bus
	// Usage records per-call token usage. May be nil.
	Usage *usage.Store
	// MaxSteps caps model invocations per run; zero means
	// DefaultMaxSteps.
	MaxSteps int
	Logger   *slog.Logger
}

// Loop is the agent control loop. One Loop serves all projects; every
// run is scoped to a project through its tools.Env.
type Loop struct {
	client      llm.Client
	model       string
	registry    *tools.Registry
	checkpoints *checkpoint.Store
	summarizer  *summarizer.Summarizer
	library     *skills.Library
	bus         *events.Bus
	usage       *usage.Store
	maxSteps    int
	logger      *slog.Logger
}

// New creates an agent loop from the given configuration.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Loop{
		client:      cfg.Client,
		model:       cfg.Model,
		registry:    cfg.Registry,
		checkpoints: cfg.Checkpoints,
		summarizer:  cfg.Summarizer,
		library:     cfg.Library,
		bus:         cfg.Bus,
		usage:       cfg.Usage,
		maxSteps:    maxSteps,
		logger:      logger.With("component", "agent"),
	}
}

// Request is one user turn handed to Run.
type Request struct {
	// Text is the user's message.
	Text string
	// Assets are absolute paths of media files attached to this turn.
	// Small files are inlined as media parts; large ones are noted for
	// inspect_asset.
	Assets []string
}

// Run executes one agent run for the project in env and returns the
// final model text. The conversation resumes from the project's
// checkpoint when one exists; the checkpoint is rewritten after every
// loop iteration with tool results already appended, so an interrupted
// run picks up mid-conversation.
func (l *Loop) Run(ctx context.Context, env *tools.Env, req Request) (string, error) {
	proj := env.Project
	start := time.Now()

	summary := summarizer.Load(proj.SummaryPath())

	st := l.resume(proj.Name)
	resumed := len(st.Messages) > 0
	st.Step = 0
	st.MaxSteps = l.maxSteps

	userMsg := l.initialMessage(proj, req, !resumed)
	st.Messages = append(st.Messages, userMsg)

	l.bus.Publish(events.Event{
		Project: proj.Name,
		Source:  events.SourceAgent,
		Kind:    events.KindRunStart,
		Data: map[string]any{
			"request_len": len(req.Text),
			"resumed":     resumed,
			"max_steps":   st.MaxSteps,
		},
	})

	system := l.systemPrompt(proj)
	finalText, runErr := l.converse(ctx, env, st, system, summary)

	// Memory maintenance happens even when the model gave up partway:
	// the transcript and summary must reflect whatever was appended.
	l.finish(ctx, proj, st, summary)

	l.bus.Publish(events.Event{
		Project: proj.Name,
		Source:  events.SourceAgent,
		Kind:    events.KindRunDone,
		Data: map[string]any{
			"steps":      st.Step,
			"elapsed_ms": time.Since(start).Milliseconds(),
			"ok":         runErr == nil,
		},
	})

	if runErr != nil {
		return "", runErr
	}
	return finalText, nil
}

// converse drives the state machine until DONE, mutating st in place.
func (l *Loop) converse(ctx context.Context, env *tools.Env, st *checkpoint.RunState, system, summary string) (string, error) {
	proj := env.Project
	state := StateRunning

	for state != StateDone {
		if st.Step >= st.MaxSteps {
			l.logger.Info("step ceiling reached, stopping run",
				"project", proj.Name,
				"steps", st.Step,
			)
			return lastText(st.Messages), nil
		}

		resp, err := l.client.Chat(ctx, l.model, l.assemble(st.Messages, system, summary), l.registry.List())
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}
		st.Step++
		st.Messages = append(st.Messages, resp.Message)
		l.recordUsage(ctx, proj.Name, resp)

		l.bus.Publish(events.Event{
			Project: proj.Name,
			Source:  events.SourceAgent,
			Kind:    events.KindStep,
			Data: map[string]any{
				"step":       st.Step,
				"tool_calls": len(resp.Message.ToolCalls),
				"tokens_in":  resp.InputTokens,
				"tokens_out": resp.OutputTokens,
			},
		})

		var finalText string
		if resp.Message.HasToolCalls() {
			state = StateAwaitingTools
			l.logger.Debug("dispatching tool calls",
				"project", proj.Name,
				"step", st.Step,
				"calls", len(resp.Message.ToolCalls),
			)
			for _, res := range l.registry.Dispatch(ctx, env, resp.Message.ToolCalls) {
				st.Messages = append(st.Messages, res.Message())
			}
			state = StateRunning
		} else {
			finalText = resp.Message.Text()
			state = StateDone
		}

		l.save(proj.Name, st)

		if state == StateDone {
			return finalText, nil
		}
	}
	return lastText(st.Messages), nil
}

// assemble builds the message sequence for one model call: system
// prompt, summary block when a summary exists, then the trimmed window
// over the conversation.
func (l *Loop) assemble(history []llm.Message, system, summary string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.TextMessage(llm.RoleSystem, system))
	if summary != "" {
		msgs = append(msgs, llm.TextMessage(llm.RoleSystem, prompts.MemoryBlock(summary)))
	}
	return append(msgs, memory.Window(history)...)
}

// resume loads the project's checkpoint, treating a missing or
// unreadable snapshot as an empty conversation.
func (l *Loop) resume(project string) *checkpoint.RunState {
	if l.checkpoints == nil {
		return &checkpoint.RunState{}
	}
	st, err := l.checkpoints.Resume(project)
	if err != nil {
		l.logger.Warn("checkpoint unreadable, starting empty",
			"project", project,
			"error", err,
		)
		return &checkpoint.RunState{}
	}
	if st == nil {
		return &checkpoint.RunState{}
	}
	return st
}

func (l *Loop) save(project string, st *checkpoint.RunState) {
	if l.checkpoints == nil {
		return
	}
	if err := l.checkpoints.Save(project, st); err != nil {
		l.logger.Warn("checkpoint save failed",
			"project", project,
			"step", st.Step,
			"error", err,
		)
	}
}

// finish refreshes the rolling summary and rewrites the transcript
// export. Failures are logged, never raised: memory maintenance must
// not turn a finished run into an error.
func (l *Loop) finish(ctx context.Context, proj *project.Paths, st *checkpoint.RunState, summary string) {
	if l.summarizer != nil {
		summary = l.summarizer.Refresh(ctx, proj.Name, summary, st.Messages)
		if err := summarizer.Save(proj.SummaryPath(), summary); err != nil {
			l.logger.Warn("summary save failed",
				"project", proj.Name,
				"error", err,
			)
		}
	}
	if err := memory.ExportTranscript(proj.TranscriptPath(), st.Messages); err != nil {
		l.logger.Warn("transcript export failed",
			"project", proj.Name,
			"error", err,
		)
	}
}

func (l *Loop) recordUsage(ctx context.Context, project string, resp *llm.Response) {
	if l.usage == nil {
		return
	}
	err := l.usage.Record(ctx, usage.Record{
		Project:      project,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Role:         usage.RoleInteractive,
	})
	if err != nil {
		l.logger.Warn("usage record failed", "project", project, "error", err)
	}
}

// lastText renders the most recent message with text content, used
// when the step ceiling stops a run mid-conversation.
func lastText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if text := messages[i].Text(); text != "" {
			return text
		}
	}
	return ""
}

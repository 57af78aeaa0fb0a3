// Package summarizer maintains each project's rolling summary: a
// bounded plain-text synthesis of conversation history older than the
// active context window. The summary is read at run start, injected
// into the model context, and conditionally refreshed at run end when
// the full history's estimated cost crosses the trigger budget.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/memory"
	"github.com/reelworks/montage/internal/prompts"
	"github.com/reelworks/montage/internal/usage"
)

const (
	// triggerBudget is the estimated-token threshold over the full
	// history that triggers a summary refresh. Below it, Refresh is a
	// cheap no-op with no model call.
	triggerBudget = 110_000

	// excerptMessages is how many recent messages feed the refresh.
	excerptMessages = 80

	// excerptLineMax truncates individual transcript lines in the
	// excerpt; a single huge tool result should not crowd out the rest.
	excerptLineMax = 1200

	// MaxChars is the hard ceiling on a stored summary. Model output
	// exceeding it is truncated with a marker.
	MaxChars = 7500

	truncationMarker = "\n[truncated]"
)

// Summarizer issues the auxiliary model call that merges the prior
// summary with a recent transcript excerpt. The client is expected to
// carry the standard retry schedule already.
type Summarizer struct {
	client llm.Client
	model  string
	usage  *usage.Store
	logger *slog.Logger
}

// New creates a summarizer using the given model client.
func New(client llm.Client, model string, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		client: client,
		model:  model,
		logger: logger.With("component", "summarizer"),
	}
}

// RecordUsage directs the summarizer to log its auxiliary model calls
// to the given store. Nil disables recording.
func (s *Summarizer) RecordUsage(store *usage.Store) {
	s.usage = store
}

// Refresh returns the up-to-date rolling summary for a history. When
// the history's estimated cost is below the trigger budget, the
// existing summary comes back unchanged and no model call is made.
// When the auxiliary call fails after retries, the existing summary
// also comes back unchanged: summarization failure never aborts a run.
func (s *Summarizer) Refresh(ctx context.Context, project, existing string, history []llm.Message) string {
	cost := memory.EstimateTokens(history)
	if cost < triggerBudget {
		return existing
	}

	excerpt := flattenExcerpt(history)
	prompt := prompts.SummaryMergePrompt(existing, excerpt)

	resp, err := s.client.Chat(ctx, s.model,
		[]llm.Message{llm.TextMessage(llm.RoleUser, prompt)}, nil)
	if err != nil {
		s.logger.Warn("summary refresh failed, keeping prior summary",
			"project", project,
			"estimated_tokens", cost,
			"error", err,
		)
		return existing
	}

	if s.usage != nil {
		if uerr := s.usage.Record(ctx, usage.Record{
			Project:      project,
			Model:        resp.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Role:         usage.RoleAuxiliary,
			TaskName:     "summary_refresh",
		}); uerr != nil {
			s.logger.Warn("usage record failed", "project", project, "error", uerr)
		}
	}

	summary := strings.TrimSpace(resp.Message.Text())
	if summary == "" {
		s.logger.Warn("summary refresh returned empty text, keeping prior summary",
			"project", project,
		)
		return existing
	}
	summary = Clamp(summary)

	s.logger.Info("summary refreshed",
		"project", project,
		"estimated_tokens", cost,
		"summary_chars", len(summary),
	)
	return summary
}

// Clamp enforces the summary character ceiling, appending a truncation
// marker when the input overruns it.
func Clamp(summary string) string {
	if len(summary) <= MaxChars {
		return summary
	}
	return cutAtRune(summary, MaxChars-len(truncationMarker)) + truncationMarker
}

// cutAtRune truncates s to at most max bytes, backing up so a
// multi-byte rune is never split.
func cutAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// flattenExcerpt renders the most recent excerptMessages as one
// "role: text" line each. Non-text parts are omitted; tool results
// keep their tool name for context. Long lines are truncated.
func flattenExcerpt(history []llm.Message) string {
	msgs := history
	if len(msgs) > excerptMessages {
		msgs = msgs[len(msgs)-excerptMessages:]
	}

	var b strings.Builder
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			continue
		}
		text := strings.TrimSpace(m.Text())
		if text == "" && len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			text = "(called " + strings.Join(names, ", ") + ")"
		}
		if text == "" {
			continue
		}
		role := string(m.Role)
		if m.Role == llm.RoleTool && m.ToolName != "" {
			role = "tool/" + m.ToolName
		}
		line := fmt.Sprintf("%s: %s", role, text)
		if len(line) > excerptLineMax {
			line = cutAtRune(line, excerptLineMax) + "…"
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Load reads a project's summary file. Missing or unreadable files
// are treated as no prior summary.
func Load(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save writes the summary file, creating the parent directory when
// needed. An empty summary removes nothing; the file is still written
// so the project directory reflects the latest state.
func Save(path, summary string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create summary dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

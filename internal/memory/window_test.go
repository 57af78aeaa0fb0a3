package memory

import (
	"strings"
	"testing"

	"github.com/reelworks/montage/internal/llm"
)

func userMsg(text string) llm.Message      { return llm.TextMessage(llm.RoleUser, text) }
func assistantMsg(text string) llm.Message { return llm.TextMessage(llm.RoleAssistant, text) }

func toolTurn(callID string) (llm.Message, llm.Message) {
	call := llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: callID, Name: "list_files"}},
	}
	result := llm.ToolResult(callID, "list_files", "a.mp4")
	return call, result
}

func TestWindowPassthroughWhenSmall(t *testing.T) {
	msgs := []llm.Message{userMsg("hi"), assistantMsg("hello")}
	got := Window(msgs)
	if len(got) != 2 {
		t.Fatalf("window = %d messages, want 2", len(got))
	}
}

func TestWindowCapsAtFiftyMessages(t *testing.T) {
	var msgs []llm.Message
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			msgs = append(msgs, userMsg("q"))
		} else {
			msgs = append(msgs, assistantMsg("a"))
		}
	}
	got := Window(msgs)
	if len(got) > 50 {
		t.Fatalf("window = %d messages, want <= 50", len(got))
	}
}

func TestWindowTrimsToBudgetStartingOnUser(t *testing.T) {
	// Two huge early messages blow the budget; the rest fit.
	big := strings.Repeat("x", windowTokenBudget*charsPerToken)
	msgs := []llm.Message{
		userMsg(big),
		assistantMsg(big),
		userMsg("short question"),
		assistantMsg("short answer"),
	}
	got := Window(msgs)
	if len(got) != 2 {
		t.Fatalf("window = %d messages, want 2", len(got))
	}
	if got[0].Role != llm.RoleUser || got[0].Text() != "short question" {
		t.Errorf("window starts on %q %q", got[0].Role, got[0].Text())
	}
	if EstimateTokens(got) > windowTokenBudget {
		t.Errorf("trimmed window still over budget: %d", EstimateTokens(got))
	}
}

func TestWindowNeverStartsMidToolPair(t *testing.T) {
	big := strings.Repeat("x", windowTokenBudget*charsPerToken)
	call, result := toolTurn("c1")
	msgs := []llm.Message{
		userMsg(big), // forces trimming
		call,
		result,
		userMsg("next request"),
		assistantMsg("done"),
	}
	got := Window(msgs)
	if len(got) == 0 {
		t.Fatal("empty window")
	}
	first := got[0]
	if first.Role == llm.RoleTool {
		t.Error("window starts on a tool result")
	}
	if first.Role == llm.RoleAssistant && first.HasToolCalls() {
		t.Error("window starts on an assistant turn with pending tool calls")
	}
	if first.Role != llm.RoleUser {
		t.Errorf("window starts on %q, want user", first.Role)
	}
}

func TestWindowFallsBackToUntrimmedCandidate(t *testing.T) {
	// Over budget with no user turn anywhere: trimming cannot satisfy
	// start-on-user, so the untrimmed candidate comes back whole.
	big := strings.Repeat("x", windowTokenBudget*charsPerToken)
	call, result := toolTurn("c1")
	msgs := []llm.Message{
		{Role: llm.RoleAssistant, Parts: []llm.Part{llm.TextPart{Text: big}}},
		call,
		result,
	}
	got := Window(msgs)
	if len(got) != len(msgs) {
		t.Fatalf("window = %d messages, want untrimmed %d", len(got), len(msgs))
	}
}

func TestWindowEmptyInput(t *testing.T) {
	if got := Window(nil); len(got) != 0 {
		t.Errorf("window = %d messages, want 0", len(got))
	}
}

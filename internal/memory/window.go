package memory

import "github.com/reelworks/montage/internal/llm"

const (
	// windowMaxMessages caps the candidate window at the most recent N
	// messages before any cost-based trimming.
	windowMaxMessages = 50

	// windowTokenBudget is the estimated-token ceiling for the trimmed
	// window presented to the model.
	windowTokenBudget = 200_000
)

// Window selects the subsequence of messages to present to the model
// this turn. The candidate is the most recent windowMaxMessages; it is
// then trimmed from the front until the estimate fits the token budget,
// subject to two hard constraints: the window must start on a
// user-originated message (never a tool result or an assistant turn
// carrying tool calls), and no message is ever split.
//
// When trimming cannot produce a valid window (no user turn exists in
// range, or dropping to one would empty the window), the untrimmed
// candidate is returned instead. That fallback can exceed the nominal
// budget during long tool-only stretches; this is an accepted policy,
// not a bug.
func Window(messages []llm.Message) []llm.Message {
	candidate := messages
	if len(candidate) > windowMaxMessages {
		candidate = candidate[len(candidate)-windowMaxMessages:]
	}
	if len(candidate) == 0 {
		return candidate
	}

	trimmed := trim(candidate)
	if trimmed == nil {
		return candidate
	}
	return trimmed
}

// trim drops messages from the front of candidate until the estimate
// fits the budget and the window starts on a user turn. Returns nil if
// no valid trim exists.
func trim(candidate []llm.Message) []llm.Message {
	start := 0

	// Advance past the budget first.
	for start < len(candidate) && EstimateTokens(candidate[start:]) > windowTokenBudget {
		start++
	}

	// Then advance to the next user turn so the window never opens on
	// an orphaned tool result or a tool-calling assistant turn.
	for start < len(candidate) && !startsOnUser(candidate[start]) {
		start++
	}

	if start >= len(candidate) {
		return nil
	}
	return candidate[start:]
}

func startsOnUser(m llm.Message) bool {
	return m.Role == llm.RoleUser
}

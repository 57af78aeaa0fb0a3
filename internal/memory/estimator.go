// Package memory implements the conversational memory subsystem: token
// cost estimation, short-term window trimming, and the per-project
// transcript export. Long-term summarization lives in the summarizer
// package; durable run state lives in the checkpoint package.
package memory

import "github.com/reelworks/montage/internal/llm"

// charsPerToken is the approximation constant for cost estimation.
// Four characters per token is close enough for budget decisions; we
// deliberately do not run a real tokenizer here.
const charsPerToken = 4

// EstimateTokens approximates the token cost of a message sequence by
// summing the character length of every text part and dividing by
// charsPerToken. Binary media payloads are not counted. The result is
// deterministic, at least 1, and never decreases when a message with
// non-empty text is appended.
func EstimateTokens(messages []llm.Message) int {
	chars := 0
	for _, m := range messages {
		for _, p := range m.Parts {
			if tp, ok := p.(llm.TextPart); ok {
				chars += len(tp.Text)
			}
		}
	}
	n := chars / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

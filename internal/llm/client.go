// Package llm provides model client implementations.
package llm

import "context"

// Client is the interface every model provider implements.
type Client interface {
	// Chat sends the conversation and returns the model's next turn.
	// Tool schemas are bound per call in registry list format.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*Response, error)

	// UploadFile uploads a local file to the provider's file store and
	// blocks until it is ready for use in a conversation. Returns the
	// provider file URI.
	UploadFile(ctx context.Context, path, mimeType string) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

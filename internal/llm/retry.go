package llm

import (
	"context"
	"log/slog"
	"time"
)

// retrySchedule is the fixed delay schedule for failed model calls:
// one immediate attempt, then three retries. Deliberately a literal
// short list rather than computed exponential backoff.
var retrySchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// RetryClient wraps a Client and retries failed Chat calls on the fixed
// schedule, re-raising the last error once the schedule is exhausted.
// Only the model call itself is retried; UploadFile and Ping pass
// through, and side effects applied between calls are never replayed.
type RetryClient struct {
	inner  Client
	delays []time.Duration
	logger *slog.Logger
}

// NewRetryClient wraps inner with the standard retry schedule.
func NewRetryClient(inner Client, logger *slog.Logger) *RetryClient {
	return &RetryClient{inner: inner, delays: retrySchedule, logger: logger}
}

// NewRetryClientWithSchedule wraps inner with a custom delay schedule.
// Tests use this to exercise the retry path without real backoff waits.
func NewRetryClientWithSchedule(inner Client, delays []time.Duration, logger *slog.Logger) *RetryClient {
	return &RetryClient{inner: inner, delays: delays, logger: logger}
}

// Chat attempts the call, then retries after each scheduled delay.
func (r *RetryClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*Response, error) {
	resp, err := r.inner.Chat(ctx, model, messages, tools)
	if err == nil {
		return resp, nil
	}

	for attempt, delay := range r.delays {
		r.logger.Warn("model call failed, retrying",
			"model", model,
			"attempt", attempt+2,
			"of", len(r.delays)+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		resp, err = r.inner.Chat(ctx, model, messages, tools)
		if err == nil {
			return resp, nil
		}
	}

	return nil, err
}

// UploadFile delegates without retry.
func (r *RetryClient) UploadFile(ctx context.Context, path, mimeType string) (string, error) {
	return r.inner.UploadFile(ctx, path, mimeType)
}

// Ping delegates without retry.
func (r *RetryClient) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

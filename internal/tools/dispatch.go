package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/llm"
)

// Result is the outcome of one dispatched tool call. Every requested
// call produces exactly one Result, failures included; the agent loop
// converts each to a tool-result message.
type Result struct {
	CallID string
	Name   string
	Text   string
	Err    error
}

// Payload renders the result text sent back to the model. Failures
// become error text rather than aborting the run.
func (res Result) Payload() string {
	if res.Err != nil {
		return "Error: " + res.Err.Error()
	}
	return res.Text
}

// Message converts the result to its tool-result conversation message.
func (res Result) Message() llm.Message {
	return llm.ToolResult(res.CallID, res.Name, res.Payload())
}

// Dispatch executes the requested calls in order and returns one
// result per call. Unknown tools, handler errors, and handler panics
// all yield error results; dispatch itself never fails.
func (r *Registry) Dispatch(ctx context.Context, env *Env, calls []llm.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, r.dispatchOne(ctx, env, call))
	}
	return results
}

func (r *Registry) dispatchOne(ctx context.Context, env *Env, call llm.ToolCall) (res Result) {
	res = Result{CallID: call.ID, Name: call.Name}

	r.bus.Publish(events.Event{
		Project: env.Project.Name,
		Source:  events.SourceTools,
		Kind:    events.KindToolCall,
		Data:    map[string]any{"tool": call.Name, "call_id": call.ID},
	})

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("tool %s panicked: %v", call.Name, p)
			r.logger.Error("tool handler panicked",
				"tool", call.Name,
				"panic", p,
			)
		}
		r.bus.Publish(events.Event{
			Project: env.Project.Name,
			Source:  events.SourceTools,
			Kind:    events.KindToolDone,
			Data: map[string]any{
				"tool":        call.Name,
				"call_id":     call.ID,
				"ok":          res.Err == nil,
				"duration_ms": time.Since(start).Milliseconds(),
			},
		})
	}()

	text, err := r.Execute(ctx, env, call.Name, call.Args)
	if err != nil {
		res.Err = err
		r.logger.Warn("tool call failed",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
		)
		return res
	}
	res.Text = text
	r.logger.Debug("tool call finished",
		"tool", call.Name,
		"call_id", call.ID,
		"duration", time.Since(start),
	)
	return res
}

// Package prompts contains all LLM prompt templates used internally by
// Montage.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, benefit from
// compile-time embedding, and can be validated by tests. User-facing
// configuration lives in config.yaml; this package holds the
// instructions we send to models for internal operations (the agent
// system prompt, summary merges, asset inspection).
//
// Convention: each prompt category gets its own file (agent.go,
// summary.go, inspect.go) with an exported function or constant for
// the fully interpolated prompt.
package prompts

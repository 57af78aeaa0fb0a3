// Package tools defines the tools available to the agent and the
// dispatcher that executes them. Every handler is scoped to one
// project through an explicit Env; there is no ambient project state.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/fetch"
	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/paths"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/skills"
)

// Env scopes a dispatch to one project workspace.
type Env struct {
	// Project is the workspace the tools operate in.
	Project *project.Paths
	// Resolver expands named prefixes (assets:, out:, skills:) in
	// tool path arguments. May be nil.
	Resolver *paths.Resolver
}

// Handler executes one tool call and returns text for the model.
type Handler func(ctx context.Context, env *Env, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Config carries the services the built-in tools depend on.
type Config struct {
	// LLM and Model drive inspect_asset. When LLM is nil the tool
	// reports itself unconfigured instead of failing the run.
	LLM   llm.Client
	Model string
	// Bus receives view and tool lifecycle events. Nil-safe.
	Bus *events.Bus
	// Library provides skill discovery for list_skills and skills/
	// path reads. May be nil.
	Library *skills.Library
	// Shell configures run_terminal.
	Shell ShellConfig
	// Fetcher backs fetch_url. May be nil.
	Fetcher *fetch.Fetcher
	Logger  *slog.Logger
}

// Registry holds available tools.
type Registry struct {
	tools   map[string]*Tool
	order   []string
	llm     llm.Client
	model   string
	bus     *events.Bus
	library *skills.Library
	shell   *ShellExec
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// NewRegistry creates a registry with the built-in tool suite.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:   make(map[string]*Tool),
		llm:     cfg.LLM,
		model:   cfg.Model,
		bus:     cfg.Bus,
		library: cfg.Library,
		shell:   NewShellExec(cfg.Shell),
		fetcher: cfg.Fetcher,
		logger:  logger.With("component", "tools"),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.registerFileTools()
	r.registerPatchTool()
	r.registerShellTool()
	r.registerAssetTools()
	r.registerFetchTool()
}

// Register adds a tool to the registry. Re-registering a name replaces
// the previous tool but keeps its position in the listing.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tool declarations for the model, in registration
// order.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with given arguments.
func (r *Registry) Execute(ctx context.Context, env *Env, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	return tool.Handler(ctx, env, args)
}

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates a capability
// mismatch, not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// argString extracts a string argument.
func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// argInt extracts an integer argument. JSON numbers decode as float64.
func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// argBool extracts a boolean argument with a default.
func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

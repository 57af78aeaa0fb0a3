package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// defaultShellTimeout bounds run_terminal when the model passes none.
const defaultShellTimeout = 120 * time.Second

// maxShellTimeout caps any requested timeout.
const maxShellTimeout = 5 * time.Minute

// maxShellOutput caps combined stdout+stderr returned to the model.
const maxShellOutput = 4000

// ShellConfig configures the run_terminal executor.
type ShellConfig struct {
	// Enabled gates the tool entirely. Disabled by default.
	Enabled bool
	// DeniedPatterns blocks commands containing any of these
	// substrings (case-insensitive).
	DeniedPatterns []string
	// DefaultTimeout overrides the 120 s default when positive.
	DefaultTimeout time.Duration
}

// DefaultDeniedPatterns are always-blocked command fragments.
func DefaultDeniedPatterns() []string {
	return []string{
		"rm -rf /",
		"rm -rf /*",
		"mkfs",
		"dd if=",
		"> /dev/sd",
		"chmod -R 777 /",
		":(){ :|:& };:", // Fork bomb
	}
}

// ShellExec runs commands inside the project directory.
type ShellExec struct {
	enabled        bool
	deniedPatterns []string
	defaultTimeout time.Duration
}

// NewShellExec creates a shell executor.
func NewShellExec(cfg ShellConfig) *ShellExec {
	denied := cfg.DeniedPatterns
	if denied == nil {
		denied = DefaultDeniedPatterns()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	return &ShellExec{
		enabled:        cfg.Enabled,
		deniedPatterns: denied,
		defaultTimeout: timeout,
	}
}

// Enabled reports whether shell execution is available.
func (s *ShellExec) Enabled() bool { return s.enabled }

// Exec runs a command with bash -lc in workdir and returns combined
// output, truncated to maxShellOutput.
func (s *ShellExec) Exec(ctx context.Context, workdir, command string, timeout time.Duration) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("shell execution is disabled")
	}
	cmdLower := strings.ToLower(command)
	for _, denied := range s.deniedPatterns {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return "", fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/bash", "-lc", command)
	cmd.Dir = workdir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Command timed out after %s", timeout), nil
	}

	output := strings.TrimSpace(buf.String())
	if len(output) > maxShellOutput {
		output = output[:maxShellOutput] + "\n... (output truncated)"
	}
	if output == "" {
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			return "", fmt.Errorf("command failed to run: %w", err)
		}
		return fmt.Sprintf("Command finished with exit code %d", code), nil
	}
	return output, nil
}

func (r *Registry) registerShellTool() {
	r.Register(&Tool{
		Name:        "run_terminal",
		Description: "Run a shell command in a project subdirectory (bash -lc). Output is truncated to 4000 characters.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"cwd":     map[string]any{"type": "string"},
				"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 120)"},
			},
			"required": []string{"command"},
		},
		Handler: r.handleRunTerminal,
	})
}

func (r *Registry) handleRunTerminal(ctx context.Context, env *Env, args map[string]any) (string, error) {
	command := argString(args, "command")
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("no command provided")
	}
	cwd := argString(args, "cwd")
	if cwd == "" {
		cwd = "."
	}
	workdir, err := r.resolveProject(env, cwd)
	if err != nil {
		return "", err
	}
	if st, err := os.Stat(workdir); err != nil || !st.IsDir() {
		return "", fmt.Errorf("working directory not found: %s", cwd)
	}

	var timeout time.Duration
	if secs, ok := argInt(args, "timeout"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return r.shell.Exec(ctx, workdir, command, timeout)
}

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (r *Registry) registerPatchTool() {
	r.Register(&Tool{
		Name:        "apply_patch",
		Description: "Apply a patch in the envelope format (*** Add File / *** Update File / *** Delete File with @@ hunks) to files in the project.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patch": map[string]any{"type": "string"},
			},
			"required": []string{"patch"},
		},
		Handler: r.handleApplyPatch,
	})
}

// patchOutcome collects per-file results of one apply_patch call.
type patchOutcome struct {
	applied []string
	errors  []string
}

func (o *patchOutcome) render() string {
	var b strings.Builder
	if len(o.applied) == 0 && len(o.errors) == 0 {
		return "No file sections found in patch."
	}
	for _, a := range o.applied {
		fmt.Fprintf(&b, "applied: %s\n", a)
	}
	for _, e := range o.errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Registry) handleApplyPatch(_ context.Context, env *Env, args map[string]any) (string, error) {
	patch := argString(args, "patch")
	if strings.TrimSpace(patch) == "" {
		return "", fmt.Errorf("patch is required")
	}

	lines := strings.Split(strings.ReplaceAll(patch, "\r\n", "\n"), "\n")
	var out patchOutcome

	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "*** Add File:"):
			path := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			i++
			var content []string
			for i < len(lines) && !strings.HasPrefix(lines[i], "*** ") {
				raw := lines[i]
				if strings.HasPrefix(raw, "+") {
					raw = raw[1:]
				}
				content = append(content, raw)
				i++
			}
			if err := r.patchAdd(env, path, strings.Join(content, "\n")); err != nil {
				out.errors = append(out.errors, fmt.Sprintf("Add File failed for %s: %v", path, err))
			} else {
				out.applied = append(out.applied, path+" (added)")
			}

		case strings.HasPrefix(line, "*** Delete File:"):
			path := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			if err := r.patchDelete(env, path); err != nil {
				out.errors = append(out.errors, fmt.Sprintf("Delete File failed for %s: %v", path, err))
			} else {
				out.applied = append(out.applied, path+" (deleted)")
			}
			i++

		case strings.HasPrefix(line, "*** Update File:"):
			path := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			i++
			var hunks [][]string
			var hunk []string
			for i < len(lines) && !strings.HasPrefix(lines[i], "*** ") {
				raw := lines[i]
				if strings.HasPrefix(raw, "@@") {
					if len(hunk) > 0 {
						hunks = append(hunks, hunk)
						hunk = nil
					}
				} else if len(raw) > 0 && (raw[0] == ' ' || raw[0] == '+' || raw[0] == '-') {
					hunk = append(hunk, raw)
				}
				i++
			}
			if len(hunk) > 0 {
				hunks = append(hunks, hunk)
			}
			hunkErr, err := r.patchUpdate(env, path, hunks)
			if err != nil {
				out.errors = append(out.errors, fmt.Sprintf("Update File failed for %s: %v", path, err))
			} else {
				if hunkErr != nil {
					out.errors = append(out.errors, fmt.Sprintf("Update File failed for %s: %v", path, hunkErr))
				}
				out.applied = append(out.applied, path+" (updated)")
			}

		default:
			i++
		}
	}

	return out.render(), nil
}

func (r *Registry) patchAdd(env *Env, path, content string) error {
	abs, err := r.resolveProject(env, path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("file already exists")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func (r *Registry) patchDelete(env *Env, path string) error {
	abs, err := r.resolveProject(env, path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("not found")
	}
	return os.Remove(abs)
}

// patchUpdate applies hunks in order. An unmatched hunk stops further
// application but the hunks that did match are still written; the
// failure comes back as hunkErr so the caller can report it alongside
// the update.
func (r *Registry) patchUpdate(env *Env, path string, hunks [][]string) (hunkErr, err error) {
	abs, err := r.resolveProject(env, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not found")
		}
		return nil, err
	}

	fileLines := strings.Split(string(data), "\n")
	for _, hunk := range hunks {
		updated, ok := applyHunk(fileLines, hunk)
		if !ok {
			hunkErr = fmt.Errorf("hunk not found")
			break
		}
		fileLines = updated
	}
	if werr := os.WriteFile(abs, []byte(strings.Join(fileLines, "\n")), 0o644); werr != nil {
		return nil, werr
	}
	return hunkErr, nil
}

// applyHunk locates the hunk's context-plus-removed lines as a
// contiguous subsequence of the file and splices in the replacement.
func applyHunk(fileLines, hunk []string) ([]string, bool) {
	var before, after []string
	for _, line := range hunk {
		if line == "" {
			continue
		}
		body := ""
		if len(line) > 1 {
			body = line[1:]
		}
		switch line[0] {
		case ' ':
			before = append(before, body)
			after = append(after, body)
		case '-':
			before = append(before, body)
		case '+':
			after = append(after, body)
		}
	}

	start := findSubsequence(fileLines, before)
	if start < 0 {
		return nil, false
	}
	result := make([]string, 0, len(fileLines)-len(before)+len(after))
	result = append(result, fileLines[:start]...)
	result = append(result, after...)
	result = append(result, fileLines[start+len(before):]...)
	return result, true
}

func findSubsequence(haystack, needle []string) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

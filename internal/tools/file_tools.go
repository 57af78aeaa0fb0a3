package tools

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// maxListFiles caps a single list_files response.
const maxListFiles = 500

// maxSearchHits caps a single search_files response.
const maxSearchHits = 50

// excludedDirs are heavy or irrelevant directories skipped by
// list_files and search_files.
var excludedDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	".git":         true,
	".vscode":      true,
	".idea":        true,
	"venv":         true,
	"env":          true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

func (r *Registry) registerFileTools() {
	r.Register(&Tool{
		Name:        "list_files",
		Description: "List files under the project directory. Skips hidden and heavy directories like node_modules.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string", "description": "Subdirectory under the project."},
				"pattern":   map[string]any{"type": "string", "description": "Glob pattern for filtering (default *)"},
				"recursive": map[string]any{"type": "boolean", "description": "Whether to list recursively (default true)"},
			},
		},
		Handler: r.handleListFiles,
	})

	r.Register(&Tool{
		Name:        "list_skills",
		Description: "List all available skills with their names and files. Use read_file with a 'skills/...' path to read skill contents.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListSkills,
	})

	r.Register(&Tool{
		Name:        "search_files",
		Description: "Search for a text string in files under the project directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":   map[string]any{"type": "string", "description": "Text to search for."},
				"path":    map[string]any{"type": "string", "description": "Subdirectory to search in."},
				"pattern": map[string]any{"type": "string", "description": "Glob pattern for filtering files (default *)"},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchFiles,
	})

	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read a file from the project directory. Also supports reading skills with a 'skills/...' path prefix.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string", "description": "File path (use 'skills/...' prefix for skill files)"},
				"start_line": map[string]any{"type": "integer"},
				"end_line":   map[string]any{"type": "integer"},
			},
			"required": []string{"path"},
		},
		Handler: r.handleReadFile,
	})

	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write a file inside the project directory. Refuses to overwrite unless overwrite is set.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string"},
				"content":   map[string]any{"type": "string"},
				"overwrite": map[string]any{"type": "boolean"},
			},
			"required": []string{"path", "content"},
		},
		Handler: r.handleWriteFile,
	})

	r.Register(&Tool{
		Name:        "make_dir",
		Description: "Create a directory inside the project directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
		Handler: r.handleMakeDir,
	})
}

// resolveProject maps a tool path argument to an absolute path inside
// the project, expanding registered prefixes first.
func (r *Registry) resolveProject(env *Env, p string) (string, error) {
	if env.Resolver.HasPrefix(p) {
		abs, err := env.Resolver.Resolve(p)
		if err != nil {
			return "", err
		}
		return abs, r.jail(env, abs, false)
	}
	return env.Project.SafeJoin(p)
}

// resolveRead additionally accepts "skills/..." paths, which read from
// the skill library instead of the project.
func (r *Registry) resolveRead(env *Env, p string) (string, error) {
	if strings.HasPrefix(p, "skills/") {
		if r.library == nil {
			return "", fmt.Errorf("no skills directory configured")
		}
		return r.library.ResolvePath(p)
	}
	if env.Resolver.HasPrefix(p) {
		abs, err := env.Resolver.Resolve(p)
		if err != nil {
			return "", err
		}
		return abs, r.jail(env, abs, true)
	}
	return env.Project.SafeJoin(p)
}

// jail verifies an absolute path stays inside the project root, or the
// skill library when allowSkills is set.
func (r *Registry) jail(env *Env, abs string, allowSkills bool) error {
	sep := string(filepath.Separator)
	root := env.Project.Root
	if abs == root || strings.HasPrefix(abs, root+sep) {
		return nil
	}
	if allowSkills && r.library != nil {
		for _, dir := range r.library.Dirs() {
			d, err := filepath.Abs(dir)
			if err != nil {
				continue
			}
			if abs == d || strings.HasPrefix(abs, d+sep) {
				return nil
			}
		}
	}
	return fmt.Errorf("path escapes the project: %s", abs)
}

func (r *Registry) handleListFiles(_ context.Context, env *Env, args map[string]any) (string, error) {
	dir := argString(args, "path")
	if dir == "" {
		dir = "."
	}
	pattern := argString(args, "pattern")
	if pattern == "" {
		pattern = "*"
	}
	recursive := argBool(args, "recursive", true)

	matches, err := r.listFiles(env, dir, pattern, recursive)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No files found.", nil
	}
	return strings.Join(matches, "\n"), nil
}

// listFiles returns sorted project-relative paths under dir matching
// pattern, capped at maxListFiles with a truncation note.
func (r *Registry) listFiles(env *Env, dir, pattern string, recursive bool) ([]string, error) {
	base, err := r.resolveProject(env, dir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(base)
	if err != nil || !st.IsDir() {
		return nil, nil
	}

	var matches []string
	if !recursive {
		entries, err := os.ReadDir(base)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if matchPattern(pattern, e.Name()) {
				matches = append(matches, e.Name())
			}
		}
		sort.Strings(matches)
		return matches, nil
	}

	truncated := false
	err = filepath.WalkDir(base, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != base && (excludedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchPattern(pattern, rel) {
			matches = append(matches, rel)
		}
		if len(matches) >= maxListFiles {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(matches)
	if truncated {
		matches = append(matches, fmt.Sprintf("... (truncated, max %d files)", maxListFiles))
	}
	return matches, nil
}

// matchPattern matches a glob against a relative path, also accepting
// a basename match so "*.tsx" finds nested files.
func matchPattern(pattern, rel string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if ok, _ := path.Match(pattern, rel); ok {
		return true
	}
	ok, _ := path.Match(pattern, path.Base(rel))
	return ok
}

func (r *Registry) handleListSkills(_ context.Context, _ *Env, _ map[string]any) (string, error) {
	if r.library == nil {
		return "No skills directory configured.", nil
	}
	found := r.library.Discover()
	if len(found) == 0 {
		return "No skills installed.", nil
	}
	var b strings.Builder
	for _, s := range found {
		fmt.Fprintf(&b, "%s: %s\n  path: %s\n", s.Name, s.Description, s.Path)
		for _, f := range s.Files {
			fmt.Fprintf(&b, "  file: skills/%s\n", f)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Registry) handleSearchFiles(_ context.Context, env *Env, args map[string]any) (string, error) {
	query := argString(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	dir := argString(args, "path")
	if dir == "" {
		dir = "."
	}
	pattern := argString(args, "pattern")
	if pattern == "" {
		pattern = "*"
	}

	base, err := r.resolveProject(env, dir)
	if err != nil {
		return "", err
	}
	candidates, err := r.listFiles(env, dir, pattern, true)
	if err != nil {
		return "", err
	}

	queryLower := strings.ToLower(query)
	var b strings.Builder
	hits := 0
	for _, rel := range candidates {
		if strings.HasPrefix(rel, "... (truncated") {
			continue
		}
		if isBinaryPath(rel) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !strings.Contains(strings.ToLower(line), queryLower) {
				continue
			}
			start := max(0, i-1)
			end := min(len(lines), i+2)
			snippet := strings.Join(lines[start:end], "\n")
			fmt.Fprintf(&b, "%s:%d\n%s\n\n", rel, i+1, snippet)
			hits++
			if hits >= maxSearchHits {
				break
			}
		}
		if hits >= maxSearchHits {
			break
		}
	}
	if hits == 0 {
		return fmt.Sprintf("No matches for %q.", query), nil
	}
	out := strings.TrimRight(b.String(), "\n")
	if hits >= maxSearchHits {
		out += fmt.Sprintf("\n... (truncated, max %d matches)", maxSearchHits)
	}
	return out, nil
}

// isBinaryPath filters obvious binary media out of text search.
func isBinaryPath(rel string) bool {
	switch strings.ToLower(path.Ext(rel)) {
	case ".mp4", ".mov", ".webm", ".mkv", ".avi", ".mpg", ".mpeg",
		".mp3", ".wav", ".aac", ".flac", ".ogg", ".m4a",
		".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".ico",
		".zip", ".gz", ".tar", ".pdf", ".woff", ".woff2", ".ttf":
		return true
	}
	return false
}

func (r *Registry) handleReadFile(_ context.Context, env *Env, args map[string]any) (string, error) {
	p := argString(args, "path")
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := r.resolveRead(env, p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", p)
		}
		return "", fmt.Errorf("read %s: %w", p, err)
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)
	start, ok := argInt(args, "start_line")
	if !ok || start < 1 {
		start = 1
	}
	end, ok := argInt(args, "end_line")
	if !ok || end < 1 {
		end = total
	}
	if start > total {
		return fmt.Sprintf("Requested lines %d-%d, but file has only %d lines.", start, end, total), nil
	}
	end = min(end, total)
	chunk := strings.Join(lines[start-1:end], "\n")
	return fmt.Sprintf("%s: lines %d-%d/%d\n%s", p, start, end, total, chunk), nil
}

func (r *Registry) handleWriteFile(_ context.Context, env *Env, args map[string]any) (string, error) {
	p := argString(args, "path")
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content is required")
	}
	overwrite := argBool(args, "overwrite", false)

	abs, err := r.resolveProject(env, p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err == nil && !overwrite {
		return "", fmt.Errorf("file already exists: %s", p)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return fmt.Sprintf("Wrote %s (%d bytes)", p, len(content)), nil
}

func (r *Registry) handleMakeDir(_ context.Context, env *Env, args map[string]any) (string, error) {
	p := argString(args, "path")
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := r.resolveProject(env, p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", p, err)
	}
	return fmt.Sprintf("Created directory: %s", p), nil
}

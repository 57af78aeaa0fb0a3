// Package paths resolves the prefixed path notation used in tool
// arguments. The model refers to project files as "assets:intro.mp4"
// or "out:final.mp4"; a Resolver built per run maps those prefixes to
// the project's real directories.
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type entry struct {
	prefix string // with trailing colon, e.g. "assets:"
	dir    string // absolute directory it maps to
}

// Resolver maps named prefixes to directories. A nil *Resolver is
// valid and resolves every path to itself, same as the event bus
// treats a nil receiver as a no-op.
type Resolver struct {
	entries []entry // longest prefix first
}

// New builds a Resolver from prefix names (without the colon) to
// directories. A leading ~ in a directory is expanded immediately.
// An empty or nil map yields a nil Resolver.
func New(prefixes map[string]string) *Resolver {
	if len(prefixes) == 0 {
		return nil
	}
	entries := make([]entry, 0, len(prefixes))
	for name, dir := range prefixes {
		if !strings.HasSuffix(name, ":") {
			name += ":"
		}
		entries = append(entries, entry{prefix: name, dir: expandHome(dir)})
	}
	// Longest prefix wins, so "outtakes:" is never claimed by "out:".
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].prefix) > len(entries[j].prefix)
	})
	return &Resolver{entries: entries}
}

// Resolve turns a prefixed path into an absolute one. Paths without a
// registered prefix pass through unchanged, and a bare prefix like
// "assets:" resolves to that prefix's root directory.
func (r *Resolver) Resolve(path string) (string, error) {
	if r == nil {
		return path, nil
	}
	for _, e := range r.entries {
		rel, ok := strings.CutPrefix(path, e.prefix)
		if !ok {
			continue
		}
		if rel == "" {
			return e.dir, nil
		}
		return filepath.Join(e.dir, rel), nil
	}
	return path, nil
}

// HasPrefix reports whether path starts with a registered prefix.
func (r *Resolver) HasPrefix(path string) bool {
	if r == nil {
		return false
	}
	for _, e := range r.entries {
		if strings.HasPrefix(path, e.prefix) {
			return true
		}
	}
	return false
}

// Prefixes returns the registered prefix names without colons, sorted
// alphabetically for stable help output.
func (r *Resolver) Prefixes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, strings.TrimSuffix(e.prefix, ":"))
	}
	sort.Strings(names)
	return names
}

// expandHome substitutes the user's home directory for a leading ~.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

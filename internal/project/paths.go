package project

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Paths holds the well-known locations inside one project directory.
type Paths struct {
	Name string
	// Root is the project directory.
	Root string
	// AssetsDir holds source media (Remotion public/assets).
	AssetsDir string
	// OutDir holds rendered output.
	OutDir string
	// StateDir holds agent bookkeeping files.
	StateDir string
}

// Paths returns the layout for a project name without checking that it
// exists on disk.
func (s *Store) Paths(name string) *Paths {
	root := filepath.Join(s.root, name)
	return &Paths{
		Name:      name,
		Root:      root,
		AssetsDir: filepath.Join(root, "public", "assets"),
		OutDir:    filepath.Join(root, "out"),
		StateDir:  filepath.Join(root, ".montage"),
	}
}

// TranscriptPath is the JSONL conversation transcript location.
func (p *Paths) TranscriptPath() string {
	return filepath.Join(p.StateDir, "transcript.jsonl")
}

// SummaryPath is the rolling summary location.
func (p *Paths) SummaryPath() string {
	return filepath.Join(p.StateDir, "summary.txt")
}

// SafeJoin resolves a relative path inside the project root, rejecting
// anything that escapes it. Absolute inputs and parent traversal fail.
func (p *Paths) SafeJoin(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	joined := filepath.Clean(filepath.Join(p.Root, rel))
	if joined != p.Root && !strings.HasPrefix(joined, p.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the project: %s", rel)
	}
	return joined, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename makes an uploaded filename safe for storage:
// basename only, unsafe characters collapsed to underscores, prefixed
// with an upload timestamp so repeated uploads never collide.
func SanitizeFilename(name string, now time.Time) string {
	base := filepath.Base(name)
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "upload"
	}
	return now.UTC().Format("20060102-150405") + "-" + base
}

package skills

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSkill(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const captionsSkill = `---
name: captions
description: Burn styled subtitles into a clip.
activation: always
---

## Captions

Use the caption component in src/Captions.tsx.
`

const colorSkill = `---
name: color-grade
description: Apply a cinematic color grade.
---

Steps here.
`

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "captions", captionsSkill)
	writeSkill(t, root, "color-grade", colorSkill)
	// A directory without SKILL.md is not a skill.
	if err := os.MkdirAll(filepath.Join(root, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLibrary([]string{root}, testLogger())
	found := l.Discover()
	if len(found) != 2 {
		t.Fatalf("skills = %d, want 2", len(found))
	}
	// Sorted by name.
	if found[0].Name != "captions" || found[1].Name != "color-grade" {
		t.Errorf("order = %s, %s", found[0].Name, found[1].Name)
	}

	c := found[0]
	if c.Description != "Burn styled subtitles into a clip." {
		t.Errorf("description = %q", c.Description)
	}
	if !c.Always() {
		t.Error("captions should be always active")
	}
	if c.Path != "skills/captions/SKILL.md" {
		t.Errorf("path = %q", c.Path)
	}
	if !strings.Contains(c.Body, "caption component") {
		t.Errorf("body = %q", c.Body)
	}
	if strings.Contains(c.Body, "activation:") {
		t.Error("frontmatter leaked into body")
	}
	if len(c.Files) != 1 || c.Files[0] != "captions/SKILL.md" {
		t.Errorf("files = %v", c.Files)
	}

	if found[1].Always() {
		t.Error("color-grade should be on demand")
	}
}

func TestDiscoverSkipsMalformed(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "broken", "---\nname: [unterminated\n---\nbody")
	writeSkill(t, root, "good", colorSkill)

	l := NewLibrary([]string{root}, testLogger())
	found := l.Discover()
	if len(found) != 1 || found[0].Name != "color-grade" {
		t.Errorf("skills = %v", found)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	l := NewLibrary([]string{filepath.Join(t.TempDir(), "nope")}, testLogger())
	if found := l.Discover(); len(found) != 0 {
		t.Errorf("skills = %v, want none", found)
	}
}

func TestDiscoverFirstRootWins(t *testing.T) {
	primary := t.TempDir()
	secondary := t.TempDir()
	writeSkill(t, primary, "captions", captionsSkill)
	writeSkill(t, secondary, "captions", colorSkill)

	l := NewLibrary([]string{primary, secondary}, testLogger())
	found := l.Discover()
	if len(found) != 1 {
		t.Fatalf("skills = %d, want 1", len(found))
	}
	if found[0].Name != "captions" {
		t.Errorf("name = %q", found[0].Name)
	}
}

func TestActive(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "captions", captionsSkill)
	writeSkill(t, root, "color-grade", colorSkill)

	l := NewLibrary([]string{root}, testLogger())
	active := l.Active()
	if len(active) != 1 || active[0].Name != "captions" {
		t.Errorf("active = %v", active)
	}
}

func TestSkillWithoutFrontmatter(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "plain", "Just instructions, no header.\n")

	l := NewLibrary([]string{root}, testLogger())
	found := l.Discover()
	if len(found) != 1 {
		t.Fatalf("skills = %d, want 1", len(found))
	}
	if found[0].Name != "plain" {
		t.Errorf("name = %q, want directory fallback", found[0].Name)
	}
	if !strings.Contains(found[0].Body, "Just instructions") {
		t.Errorf("body = %q", found[0].Body)
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "captions", captionsSkill)

	l := NewLibrary([]string{root}, testLogger())

	got, err := l.ResolvePath("skills/captions/SKILL.md")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got != filepath.Join(root, "captions", "SKILL.md") {
		t.Errorf("resolved = %q", got)
	}

	if _, err := l.ResolvePath("skills/../etc/passwd"); err == nil {
		t.Error("expected traversal rejection")
	}
	if _, err := l.ResolvePath("skills/captions/missing.txt"); err == nil {
		t.Error("expected not-found error")
	}
	if _, err := l.ResolvePath("public/assets/clip.mp4"); err == nil {
		t.Error("expected non-skills path rejection")
	}
}

func TestRenderCatalog(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "captions", captionsSkill)

	l := NewLibrary([]string{root}, testLogger())
	html := RenderCatalog(l.Discover())

	for _, want := range []string{"<h2>captions</h2>", "Burn styled subtitles", "activation: always", "<h2>Captions</h2>"} {
		if !strings.Contains(html, want) {
			t.Errorf("catalog missing %q", want)
		}
	}
}

func TestRenderCatalogEmpty(t *testing.T) {
	if html := RenderCatalog(nil); !strings.Contains(html, "No skills installed") {
		t.Error("empty catalog missing placeholder")
	}
}

// Package skills discovers and loads agent skill packs. A skill is a
// directory containing a SKILL.md file with YAML frontmatter (name,
// description, activation) followed by a markdown body of
// instructions. Skills marked activation: always are injected into
// every run's system prompt; the rest are surfaced to the model
// through list_skills and read on demand.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ActivationAlways marks a skill that is active on every run.
const ActivationAlways = "always"

// Skill is one discovered skill pack.
type Skill struct {
	// Name from the frontmatter, falling back to the directory name.
	Name string
	// Description from the frontmatter.
	Description string
	// Activation is "always" or empty (on demand).
	Activation string
	// Dir is the absolute skill directory.
	Dir string
	// Path is the model-facing path of the SKILL.md file, always in
	// the form "skills/<name>/SKILL.md".
	Path string
	// Body is the markdown content after the frontmatter.
	Body string
	// Files lists every file in the skill directory, relative to the
	// skills root, forward slashes.
	Files []string
}

// Always reports whether the skill activates on every run.
func (s Skill) Always() bool { return s.Activation == ActivationAlways }

// frontmatter is the YAML header of a SKILL.md file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Activation  string `yaml:"activation"`
}

// Library scans one or more skill directories.
type Library struct {
	dirs   []string
	logger *slog.Logger
}

// NewLibrary creates a library over the given skill root directories.
// Missing directories are tolerated at discovery time.
func NewLibrary(dirs []string, logger *slog.Logger) *Library {
	return &Library{dirs: dirs, logger: logger.With("component", "skills")}
}

// Dirs returns the configured skill root directories.
func (l *Library) Dirs() []string { return l.dirs }

// Discover scans all roots and returns the skills found, sorted by
// name. A malformed SKILL.md is skipped with a warning rather than
// failing the whole scan.
func (l *Library) Discover() []Skill {
	var found []Skill
	seen := make(map[string]bool)
	for _, root := range l.dirs {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if seen[e.Name()] {
				// First root wins on name collision.
				continue
			}
			dir := filepath.Join(root, e.Name())
			skill, err := loadSkill(root, dir)
			if err != nil {
				l.logger.Warn("skipping malformed skill",
					"dir", dir,
					"error", err,
				)
				continue
			}
			if skill == nil {
				continue
			}
			seen[e.Name()] = true
			found = append(found, *skill)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found
}

// Active returns the subset of discovered skills with activation:
// always.
func (l *Library) Active() []Skill {
	var active []Skill
	for _, s := range l.Discover() {
		if s.Always() {
			active = append(active, s)
		}
	}
	return active
}

// ResolvePath maps a model-facing "skills/..." path to an absolute
// file path inside one of the roots. The first root containing the
// file wins. Traversal outside the roots is rejected.
func (l *Library) ResolvePath(path string) (string, error) {
	rel := strings.TrimPrefix(path, "skills/")
	if rel == path {
		return "", fmt.Errorf("not a skills path: %s", path)
	}
	for _, root := range l.dirs {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		target := filepath.Clean(filepath.Join(abs, rel))
		if target != abs && !strings.HasPrefix(target, abs+string(filepath.Separator)) {
			return "", fmt.Errorf("path escapes the skills directory: %s", path)
		}
		if st, err := os.Stat(target); err == nil && !st.IsDir() {
			return target, nil
		}
	}
	return "", fmt.Errorf("skill file not found: %s", path)
}

// loadSkill reads one skill directory. Returns (nil, nil) when the
// directory has no SKILL.md.
func loadSkill(root, dir string) (*Skill, error) {
	mdPath := filepath.Join(dir, "SKILL.md")
	data, err := os.ReadFile(mdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read SKILL.md: %w", err)
	}

	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, err
	}

	name := fm.Name
	if name == "" {
		name = filepath.Base(dir)
	}

	skill := &Skill{
		Name:        name,
		Description: fm.Description,
		Activation:  fm.Activation,
		Dir:         dir,
		Path:        "skills/" + filepath.Base(dir) + "/SKILL.md",
		Body:        body,
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		skill.Files = append(skill.Files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk skill dir: %w", err)
	}
	sort.Strings(skill.Files)
	return skill, nil
}

// splitFrontmatter separates the YAML header from the markdown body.
// A file without a frontmatter block is all body.
func splitFrontmatter(content string) (frontmatter, string, error) {
	var fm frontmatter
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return fm, content, nil
	}
	rest := content[strings.Index(content, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, "", fmt.Errorf("unterminated frontmatter")
	}
	header := rest[:end]
	body := rest[end+len("\n---"):]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = ""
	}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, strings.TrimLeft(body, "\n"), nil
}

// Package project manages the on-disk workspace layout. Each project
// is a directory under a configured root following Remotion
// conventions: source media under public/assets, rendered output under
// out, agent bookkeeping under .montage. All operations take the
// project name explicitly; there is no ambient current project.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a named project does not exist.
var ErrNotFound = errors.New("project not found")

// ErrInvalidName is returned when a project name fails validation.
var ErrInvalidName = errors.New("invalid project name")

// nameRe restricts project names to filesystem-safe identifiers.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Store manages projects under a single root directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating the root when
// missing.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve projects root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create projects root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute projects root directory.
func (s *Store) Root() string { return s.root }

// Info summarizes one project for listings.
type Info struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	AssetCount int       `json:"asset_count"`
	OutCount   int       `json:"output_count"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ValidateName reports whether name is acceptable as a project name.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Create makes a new project directory with the standard layout. It is
// idempotent: creating an existing project fills in any missing
// subdirectories.
func (s *Store) Create(name string) (*Paths, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	p := s.Paths(name)
	for _, dir := range []string{p.Root, p.AssetsDir, p.OutDir, p.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create project %s: %w", name, err)
		}
	}
	return p, nil
}

// Exists reports whether the named project directory is present.
func (s *Store) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	st, err := os.Stat(filepath.Join(s.root, name))
	return err == nil && st.IsDir()
}

// Get returns the paths for an existing project, or ErrNotFound.
func (s *Store) Get(name string) (*Paths, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !s.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.Paths(name), nil
}

// List returns all projects sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read projects root: %w", err)
	}
	var infos []Info
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := s.Paths(e.Name())
		info := Info{Name: e.Name(), Path: p.Root}
		if st, err := e.Info(); err == nil {
			info.ModifiedAt = st.ModTime().UTC()
		}
		info.AssetCount = countFiles(p.AssetsDir)
		info.OutCount = countFiles(p.OutDir)
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete removes a project directory and everything under it.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !s.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
		return fmt.Errorf("delete project %s: %w", name, err)
	}
	return nil
}

func countFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			n++
		}
		return nil
	})
	return n
}

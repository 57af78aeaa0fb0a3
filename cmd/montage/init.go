package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/reelworks/montage/internal/defaults"
)

// runInit initializes a Montage working directory with default files.
// It creates the directory structure and copies bundled defaults for
// config and a starter skill. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Montage workspace in %s\n", dir)

	// Create the base directory and subdirectories.
	for _, sub := range []string{"projects", "data", "skills"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// Config holds the API key, so keep it private to the owner.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}

	// Starter skill pack so a fresh install has one working example.
	skillDir := filepath.Join(dir, "skills", "captions")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", skillDir, err)
	}
	if err := writeIfMissing(w, filepath.Join(skillDir, "SKILL.md"), defaults.SkillMD, 0o644); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and set your Gemini API key (or export GEMINI_API_KEY).")
	fmt.Fprintf(w, "Then run: montage serve -config %s\n", configPath)
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, reporting the outcome on w. This ensures init never
// overwrites user customizations.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			fmt.Fprintf(w, "  - %s exists, skipping\n", path)
			return nil
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}

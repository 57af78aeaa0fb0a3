package mqtt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if id == "" {
		t.Fatal("LoadOrCreateInstanceID() returned empty string")
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}
}

func TestLoadOrCreateInstanceID_ReturnsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

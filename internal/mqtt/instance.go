package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateInstanceID returns this installation's stable identity,
// minting and persisting a UUIDv7 under dataDir on first use. Discovery
// payloads key the Home Assistant device on this ID rather than on
// client_id, so dashboard history survives a config rename.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "instance_id")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id.String(), nil
}

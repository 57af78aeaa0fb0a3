package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reelworks/montage/internal/llm"
)

// transcriptMaxEntries caps the exported transcript at the most recent
// N non-system messages. Older entries are dropped first.
const transcriptMaxEntries = 300

// ExportTranscript writes the project's transcript file: one JSON
// record per line, system messages stripped, capped at the most recent
// transcriptMaxEntries. The file is rewritten wholesale on every call
// and the parent directory is created if it does not exist yet.
func ExportTranscript(path string, messages []llm.Message) error {
	filtered := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) > transcriptMaxEntries {
		filtered = filtered[len(filtered)-transcriptMaxEntries:]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}

	// Write to a temp file and rename so a crash mid-write never
	// leaves a half-written transcript behind.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, m := range filtered {
		if err := enc.Encode(m); err != nil {
			tmp.Close()
			return fmt.Errorf("encode transcript entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

// LoadTranscript reads a transcript file back into messages. A missing
// file returns an empty slice; a corrupt file is treated the same way
// so a damaged transcript never blocks a run.
func LoadTranscript(path string) []llm.Message {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var messages []llm.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m llm.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil
		}
		messages = append(messages, m)
	}
	if err := scanner.Err(); err != nil {
		return nil
	}
	return messages
}

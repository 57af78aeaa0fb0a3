// Package checkpoint persists agent run state so an interrupted run
// can resume mid-conversation. Each project has at most one live
// checkpoint, keyed by project identifier; saving replaces the prior
// snapshot atomically.
package checkpoint

import (
	"time"

	"github.com/reelworks/montage/internal/llm"
)

// RunState is the durable form of an agent run: the accumulated
// message sequence plus the loop's step bookkeeping. It is written
// after every loop iteration, always with tool results already
// appended for any tool-calling model turn.
type RunState struct {
	Messages []llm.Message `json:"messages"`
	Step     int           `json:"step"`
	MaxSteps int           `json:"max_steps"`
}

// Meta describes a stored checkpoint without its state payload.
type Meta struct {
	Project      string    `json:"project"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Step         int       `json:"step"`
	ByteSize     int64     `json:"byte_size"`
}

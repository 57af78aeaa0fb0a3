// Package llm provides model client implementations.
package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Role identifies the originator of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is one typed segment of a message's content. Concrete types are
// [TextPart], [ImagePart], [AudioPart], and [VideoPart]. Media parts are
// validated at construction; code that receives a Part may rely on its
// media type matching its kind.
type Part interface {
	isPart()
}

// TextPart carries plain text.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ImagePart carries image data inline or by reference to an uploaded file.
type ImagePart struct {
	MIME    string
	Data    []byte // inline payload, mutually exclusive with FileURI
	FileURI string
}

func (ImagePart) isPart() {}

// AudioPart carries audio data inline or by reference.
type AudioPart struct {
	MIME    string
	Data    []byte
	FileURI string
}

func (AudioPart) isPart() {}

// VideoPart carries video data inline or by reference.
type VideoPart struct {
	MIME    string
	Data    []byte
	FileURI string
}

func (VideoPart) isPart() {}

// NewImagePart builds an inline image part. The MIME type must be an
// image type and the payload must be non-empty.
func NewImagePart(mime string, data []byte) (ImagePart, error) {
	if err := validateMedia("image", mime, data, ""); err != nil {
		return ImagePart{}, err
	}
	return ImagePart{MIME: mime, Data: data}, nil
}

// NewImageRef builds an image part referencing an uploaded file URI.
func NewImageRef(mime, uri string) (ImagePart, error) {
	if err := validateMedia("image", mime, nil, uri); err != nil {
		return ImagePart{}, err
	}
	return ImagePart{MIME: mime, FileURI: uri}, nil
}

// NewAudioPart builds an inline audio part.
func NewAudioPart(mime string, data []byte) (AudioPart, error) {
	if err := validateMedia("audio", mime, data, ""); err != nil {
		return AudioPart{}, err
	}
	return AudioPart{MIME: mime, Data: data}, nil
}

// NewAudioRef builds an audio part referencing an uploaded file URI.
func NewAudioRef(mime, uri string) (AudioPart, error) {
	if err := validateMedia("audio", mime, nil, uri); err != nil {
		return AudioPart{}, err
	}
	return AudioPart{MIME: mime, FileURI: uri}, nil
}

// NewVideoPart builds an inline video part.
func NewVideoPart(mime string, data []byte) (VideoPart, error) {
	if err := validateMedia("video", mime, data, ""); err != nil {
		return VideoPart{}, err
	}
	return VideoPart{MIME: mime, Data: data}, nil
}

// NewVideoRef builds a video part referencing an uploaded file URI.
func NewVideoRef(mime, uri string) (VideoPart, error) {
	if err := validateMedia("video", mime, nil, uri); err != nil {
		return VideoPart{}, err
	}
	return VideoPart{MIME: mime, FileURI: uri}, nil
}

// validateMedia enforces the construction invariants shared by all media
// parts: a MIME type matching the part kind and exactly one of inline
// payload or file reference.
func validateMedia(kind, mime string, data []byte, uri string) error {
	if !strings.HasPrefix(mime, kind+"/") {
		return fmt.Errorf("%s part: mime type %q does not match kind", kind, mime)
	}
	if len(data) == 0 && uri == "" {
		return fmt.Errorf("%s part: empty payload and no file reference", kind)
	}
	if len(data) > 0 && uri != "" {
		return fmt.Errorf("%s part: inline payload and file reference are mutually exclusive", kind)
	}
	return nil
}

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one turn in a conversation. Content is an ordered sequence
// of typed parts. Assistant turns may carry tool calls; tool-result turns
// reference the originating call by ID and tool name.
type Message struct {
	Role       Role
	Parts      []Part
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// ToolResult builds the tool-result message for a dispatched call.
func ToolResult(callID, name, text string) Message {
	return Message{
		Role:       RoleTool,
		Parts:      []Part{TextPart{Text: text}},
		ToolCallID: callID,
		ToolName:   name,
	}
}

// Text returns the concatenated text content of the message, ignoring
// media parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// wireMessage is the JSON form of a Message. Parts are encoded as tagged
// objects so the union survives a round trip through checkpoints.
type wireMessage struct {
	Role       Role       `json:"role"`
	Parts      []wirePart `json:"parts"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

type wirePart struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	MIME    string `json:"mime,omitempty"`
	Data    []byte `json:"data,omitempty"`
	FileURI string `json:"file_uri,omitempty"`
}

// MarshalJSON encodes the message with tagged part objects.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Role:       m.Role,
		Parts:      make([]wirePart, 0, len(m.Parts)),
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			w.Parts = append(w.Parts, wirePart{Type: "text", Text: v.Text})
		case ImagePart:
			w.Parts = append(w.Parts, wirePart{Type: "image", MIME: v.MIME, Data: v.Data, FileURI: v.FileURI})
		case AudioPart:
			w.Parts = append(w.Parts, wirePart{Type: "audio", MIME: v.MIME, Data: v.Data, FileURI: v.FileURI})
		case VideoPart:
			w.Parts = append(w.Parts, wirePart{Type: "video", MIME: v.MIME, Data: v.Data, FileURI: v.FileURI})
		default:
			return nil, fmt.Errorf("marshal message: unknown part type %T", p)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a message, rebuilding concrete part types from
// their tags. Unknown part tags are rejected rather than dropped so a
// corrupt checkpoint fails loudly at load time.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	msg := Message{
		Role:       w.Role,
		ToolCalls:  w.ToolCalls,
		ToolCallID: w.ToolCallID,
		ToolName:   w.ToolName,
	}
	for _, p := range w.Parts {
		switch p.Type {
		case "text":
			msg.Parts = append(msg.Parts, TextPart{Text: p.Text})
		case "image":
			msg.Parts = append(msg.Parts, ImagePart{MIME: p.MIME, Data: p.Data, FileURI: p.FileURI})
		case "audio":
			msg.Parts = append(msg.Parts, AudioPart{MIME: p.MIME, Data: p.Data, FileURI: p.FileURI})
		case "video":
			msg.Parts = append(msg.Parts, VideoPart{MIME: p.MIME, Data: p.Data, FileURI: p.FileURI})
		default:
			return fmt.Errorf("unmarshal message: unknown part type %q", p.Type)
		}
	}
	*m = msg
	return nil
}

// Response is the unified response from a model provider. Wire format
// conversion happens at provider boundaries (gemini.go).
type Response struct {
	Model   string
	Message Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

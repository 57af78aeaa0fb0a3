package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelworks/montage/internal/httpkit"
)

// DefaultGeminiBaseURL is the Generative Language API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// uploadPollAttempts bounds how long UploadFile waits for a file to
// finish server-side processing (one second between polls). Large
// videos routinely take tens of seconds to become ACTIVE.
const uploadPollAttempts = 60

// GeminiClient talks to the Gemini REST API (generateContent plus the
// file upload service used for large media).
type GeminiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(u string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.http = h }
}

// NewGeminiClient creates a Gemini API client. The API key is required;
// callers validate configuration before constructing the client.
func NewGeminiClient(apiKey string, logger *slog.Logger, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		baseURL: DefaultGeminiBaseURL,
		apiKey:  apiKey,
		// No overall timeout: video-heavy prompts can legitimately take
		// minutes. Cancellation comes from the request context.
		http:   httpkit.NewClient(httpkit.WithTimeout(0)),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire types for the generateContent request/response. Only the fields
// we use are declared; unknown response fields are ignored.

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTools   `json:"tools,omitempty"`
}

type geminiTools struct {
	FunctionDeclarations []geminiFunctionDecl `json:"function_declarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	InlineData       *geminiBlob     `json:"inline_data,omitempty"`
	FileData         *geminiFileData `json:"file_data,omitempty"`
	FunctionCall     *geminiFnCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFnResp   `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"` // base64 via encoding/json
}

type geminiFileData struct {
	MIMEType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type geminiFnCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFnResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Chat implements [Client] against the generateContent endpoint.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*Response, error) {
	req, err := buildGeminiRequest(messages, tools)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Log(ctx, LevelTrace, "gemini request", "model", model, "bytes", len(body))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "gemini response", "status", resp.StatusCode, "bytes", len(respBody))

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if gr.Error != nil {
			return nil, fmt.Errorf("gemini API error %d (%s): %s", gr.Error.Code, gr.Error.Status, gr.Error.Message)
		}
		return nil, fmt.Errorf("gemini API status %d: %s", resp.StatusCode, truncateForError(respBody))
	}
	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	msg, err := messageFromGemini(gr.Candidates[0].Content)
	if err != nil {
		return nil, err
	}

	return &Response{
		Model:        model,
		Message:      msg,
		InputTokens:  gr.UsageMetadata.PromptTokenCount,
		OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// buildGeminiRequest converts our message sequence to the wire shape.
// System messages accumulate as system_instruction parts (a conversation
// carries the base prompt plus an optional memory block); tool results
// become functionResponse parts on a user-role content.
func buildGeminiRequest(messages []Message, tools []map[string]any) (*geminiRequest, error) {
	req := &geminiRequest{}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts,
				geminiPart{Text: m.Text()})

		case RoleUser:
			content := geminiContent{Role: "user"}
			for _, p := range m.Parts {
				wire, err := partToGemini(p)
				if err != nil {
					return nil, err
				}
				content.Parts = append(content.Parts, wire)
			}
			req.Contents = append(req.Contents, content)

		case RoleAssistant:
			content := geminiContent{Role: "model"}
			for _, p := range m.Parts {
				wire, err := partToGemini(p)
				if err != nil {
					return nil, err
				}
				content.Parts = append(content.Parts, wire)
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFnCall{Name: tc.Name, Args: tc.Args},
				})
			}
			req.Contents = append(req.Contents, content)

		case RoleTool:
			req.Contents = append(req.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFnResp{
						Name:     m.ToolName,
						Response: map[string]any{"result": m.Text()},
					},
				}},
			})

		default:
			return nil, fmt.Errorf("unknown role %q", m.Role)
		}
	}

	if decls := toolDeclarations(tools); len(decls) > 0 {
		req.Tools = []geminiTools{{FunctionDeclarations: decls}}
	}

	return req, nil
}

// toolDeclarations converts registry list format ("type":"function"
// envelopes) into Gemini function declarations.
func toolDeclarations(tools []map[string]any) []geminiFunctionDecl {
	var decls []geminiFunctionDecl
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		decl := geminiFunctionDecl{}
		decl.Name, _ = fn["name"].(string)
		decl.Description, _ = fn["description"].(string)
		decl.Parameters, _ = fn["parameters"].(map[string]any)
		if decl.Name != "" {
			decls = append(decls, decl)
		}
	}
	return decls
}

func partToGemini(p Part) (geminiPart, error) {
	switch v := p.(type) {
	case TextPart:
		return geminiPart{Text: v.Text}, nil
	case ImagePart:
		return mediaToGemini(v.MIME, v.Data, v.FileURI), nil
	case AudioPart:
		return mediaToGemini(v.MIME, v.Data, v.FileURI), nil
	case VideoPart:
		return mediaToGemini(v.MIME, v.Data, v.FileURI), nil
	default:
		return geminiPart{}, fmt.Errorf("unknown part type %T", p)
	}
}

func mediaToGemini(mime string, data []byte, uri string) geminiPart {
	if uri != "" {
		return geminiPart{FileData: &geminiFileData{MIMEType: mime, FileURI: uri}}
	}
	return geminiPart{InlineData: &geminiBlob{MIMEType: mime, Data: data}}
}

// messageFromGemini converts a candidate content into our Message.
// Function calls get fresh UUIDv7 call IDs; Gemini does not assign any.
func messageFromGemini(content geminiContent) (Message, error) {
	msg := Message{Role: RoleAssistant}
	for _, p := range content.Parts {
		switch {
		case p.FunctionCall != nil:
			id, err := uuid.NewV7()
			if err != nil {
				return Message{}, fmt.Errorf("generate call id: %w", err)
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   id.String(),
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			})
		case p.Text != "":
			msg.Parts = append(msg.Parts, TextPart{Text: p.Text})
		}
	}
	return msg, nil
}

// File upload wire types.

type geminiFile struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

type geminiFileEnvelope struct {
	File geminiFile `json:"file"`
}

// UploadFile uploads a local file via the raw upload protocol and polls
// until the server reports it ACTIVE. Videos require server-side
// processing before they can be referenced from a prompt.
func (c *GeminiClient) UploadFile(ctx context.Context, path, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	url := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload status %d: %s", resp.StatusCode, truncateForError(body))
	}

	var env geminiFileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if env.File.Name == "" {
		return "", fmt.Errorf("upload response missing file name")
	}

	file := env.File
	for i := 0; i < uploadPollAttempts && file.State != "ACTIVE"; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
		polled, err := c.getFile(ctx, file.Name)
		if err != nil {
			// Transient poll failures are retried on the next tick.
			c.logger.Debug("file poll failed", "file", file.Name, "error", err)
			continue
		}
		file = polled
	}
	if file.State != "ACTIVE" {
		return "", fmt.Errorf("file %s still %s after %ds", file.Name, file.State, uploadPollAttempts)
	}

	return file.URI, nil
}

func (c *GeminiClient) getFile(ctx context.Context, name string) (geminiFile, error) {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return geminiFile{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return geminiFile{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return geminiFile{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return geminiFile{}, fmt.Errorf("file get status %d", resp.StatusCode)
	}
	var f geminiFile
	if err := json.Unmarshal(body, &f); err != nil {
		return geminiFile{}, err
	}
	return f, nil
}

// Ping verifies the API is reachable by listing models.
func (c *GeminiClient) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1beta/models?key=%s&pageSize=1", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gemini unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini ping status %d", resp.StatusCode)
	}
	return nil
}

func truncateForError(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/media"
	"github.com/reelworks/montage/internal/prompts"
)

// inlineMediaLimit is the largest asset sent inline to the model;
// larger assets go through the upload API.
const inlineMediaLimit = 20 << 20

func (r *Registry) registerAssetTools() {
	r.Register(&Tool{
		Name:        "get_asset_info",
		Description: "Get detailed metadata (size, duration, resolution, codec) for an asset. Uses ffprobe if available.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"asset_path": map[string]any{"type": "string", "description": "Relative path to asset (e.g. 'public/assets/clip.mp4')"},
			},
			"required": []string{"asset_path"},
		},
		Handler: r.handleGetAssetInfo,
	})

	r.Register(&Tool{
		Name:        "inspect_asset",
		Description: "Inspect an asset (video, audio, image) with the model. Returns a content analysis for editing.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"asset_path": map[string]any{"type": "string", "description": "Relative path to asset (e.g. 'public/assets/clip.mp4')"},
				"prompt":     map[string]any{"type": "string"},
			},
			"required": []string{"asset_path"},
		},
		Handler: r.handleInspectAsset,
	})

	r.Register(&Tool{
		Name:        "set_view_asset",
		Description: "Open an asset in the UI View tab. Optionally include a timestamp (MM:SS or seconds) for videos.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"asset_path": map[string]any{"type": "string", "description": "Path inside public/assets or out (e.g. 'public/assets/clip.mp4' or 'out/final.mp4')"},
				"timestamp":  map[string]any{"type": "string", "description": "Optional start time (MM:SS or seconds) for videos"},
			},
			"required": []string{"asset_path"},
		},
		Handler: r.handleSetViewAsset,
	})
}

// resolveAsset maps an asset_path argument to an existing file inside
// the project.
func (r *Registry) resolveAsset(env *Env, args map[string]any) (string, error) {
	p := argString(args, "asset_path")
	if p == "" {
		return "", fmt.Errorf("asset_path is required")
	}
	abs, err := r.resolveProject(env, p)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	if err != nil || st.IsDir() {
		return "", fmt.Errorf("asset not found: %s", p)
	}
	return abs, nil
}

func (r *Registry) handleGetAssetInfo(ctx context.Context, env *Env, args map[string]any) (string, error) {
	abs, err := r.resolveAsset(env, args)
	if err != nil {
		return "", err
	}
	info, err := media.Probe(ctx, abs)
	if err != nil {
		return "", err
	}
	// Report the model-facing path, not the absolute one.
	info.Path = argString(args, "asset_path")
	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode asset info: %w", err)
	}
	return string(out), nil
}

func (r *Registry) handleInspectAsset(ctx context.Context, env *Env, args map[string]any) (string, error) {
	if r.llm == nil {
		return "", fmt.Errorf("model client not configured")
	}
	abs, err := r.resolveAsset(env, args)
	if err != nil {
		return "", err
	}

	prompt := strings.TrimSpace(argString(args, "prompt"))
	if prompt == "" {
		prompt = prompts.DefaultInspect
	}

	mimeType := media.MIMEForPath(abs)
	part, err := r.mediaPart(ctx, abs, mimeType)
	if err != nil {
		return "", err
	}

	msg := llm.Message{Role: llm.RoleUser, Parts: []llm.Part{part, llm.TextPart{Text: prompt}}}
	resp, err := r.llm.Chat(ctx, r.model, []llm.Message{msg}, nil)
	if err != nil {
		return "", fmt.Errorf("inspect asset: %w", err)
	}
	text := strings.TrimSpace(resp.Message.Text())
	if text == "" {
		return "", fmt.Errorf("model returned no analysis")
	}
	return text, nil
}

// mediaPart builds the media part for an asset, inlining small files
// and uploading large ones.
func (r *Registry) mediaPart(ctx context.Context, abs, mimeType string) (llm.Part, error) {
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	if st.Size() <= inlineMediaLimit {
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read asset: %w", err)
		}
		switch {
		case strings.HasPrefix(mimeType, "video/"):
			return llm.NewVideoPart(mimeType, data)
		case strings.HasPrefix(mimeType, "audio/"):
			return llm.NewAudioPart(mimeType, data)
		case strings.HasPrefix(mimeType, "image/"):
			return llm.NewImagePart(mimeType, data)
		}
		return nil, fmt.Errorf("unsupported media type: %s", mimeType)
	}

	uri, err := r.llm.UploadFile(ctx, abs, mimeType)
	if err != nil {
		return nil, fmt.Errorf("upload asset: %w", err)
	}
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return llm.NewVideoRef(mimeType, uri)
	case strings.HasPrefix(mimeType, "audio/"):
		return llm.NewAudioRef(mimeType, uri)
	case strings.HasPrefix(mimeType, "image/"):
		return llm.NewImageRef(mimeType, uri)
	}
	return nil, fmt.Errorf("unsupported media type: %s", mimeType)
}

func (r *Registry) handleSetViewAsset(_ context.Context, env *Env, args map[string]any) (string, error) {
	abs, err := r.resolveAsset(env, args)
	if err != nil {
		return "", err
	}

	sep := string(filepath.Separator)
	var kind, rel string
	switch {
	case strings.HasPrefix(abs, env.Project.OutDir+sep):
		kind = "output"
		rel, _ = filepath.Rel(env.Project.OutDir, abs)
	case strings.HasPrefix(abs, env.Project.AssetsDir+sep):
		kind = "asset"
		rel, _ = filepath.Rel(env.Project.AssetsDir, abs)
	default:
		return "", fmt.Errorf("asset must be inside public/assets or out")
	}
	rel = filepath.ToSlash(rel)

	data := map[string]any{"kind": kind, "path": rel}
	if raw, present := args["timestamp"]; present {
		switch v := raw.(type) {
		case float64:
			data["timestamp"] = v
		case string:
			seconds, ok, err := media.ParseTimestamp(v)
			if err != nil {
				return "", err
			}
			if ok {
				data["timestamp"] = seconds
			}
		}
	}

	r.bus.Publish(events.Event{
		Project: env.Project.Name,
		Source:  events.SourceTools,
		Kind:    events.KindView,
		Data:    data,
	})
	if ts, ok := data["timestamp"].(float64); ok {
		return fmt.Sprintf("Viewing %s %s at %s", kind, rel, media.FormatTimestamp(ts)), nil
	}
	return fmt.Sprintf("Viewing %s %s", kind, rel), nil
}

func (r *Registry) registerFetchTool() {
	if r.fetcher == nil {
		return
	}
	fetcher := r.fetcher
	r.Register(&Tool{
		Name:        "fetch_url",
		Description: "Fetch a web page and extract its readable text content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch and extract content from.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters to return. Default: 50000.",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, _ *Env, args map[string]any) (string, error) {
			url := argString(args, "url")
			if url == "" {
				return "", fmt.Errorf("url is required")
			}
			maxChars, _ := argInt(args, "max_chars")
			result, err := fetcher.Fetch(ctx, url, maxChars)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(result)
			if err != nil {
				return fmt.Sprintf("Title: %s\n\n%s", result.Title, result.Content), nil
			}
			return string(out), nil
		},
	})
}

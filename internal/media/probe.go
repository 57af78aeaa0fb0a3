// Package media provides asset metadata probing (via ffprobe) and the
// timestamp parsing shared by view and inspection tools.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds a single ffprobe invocation. Probing is local
// I/O plus header parsing; anything longer means a wedged file.
const probeTimeout = 5 * time.Second

// Info describes an asset. The ffprobe-derived fields are zero when
// ffprobe is unavailable or fails; SizeBytes and MIMEType always come
// from the filesystem.
type Info struct {
	Path            string  `json:"path"`
	SizeBytes       int64   `json:"size_bytes"`
	MIMEType        string  `json:"mime_type"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	VideoCodec      string  `json:"video_codec,omitempty"`
	AudioCodec      string  `json:"audio_codec,omitempty"`
	Note            string  `json:"note,omitempty"`
}

// ffprobe JSON output, limited to the entries we request.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe returns metadata for the asset at path. Basic metadata (size,
// MIME type) always succeeds for an existing file; stream details are
// best-effort and degrade to a note when ffprobe is missing or fails.
func Probe(ctx context.Context, path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	info := &Info{
		Path:      path,
		SizeBytes: st.Size(),
		MIMEType:  MIMEForPath(path),
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration:stream=width,height,codec_name,codec_type",
		"-of", "json",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		info.Note = "detailed media info unavailable (ffprobe not found or failed)"
		return info, nil
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		info.Note = "detailed media info unavailable (ffprobe output unreadable)"
		return info, nil
	}

	if out.Format.Duration != "" {
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	return info, nil
}

// MIMEForPath guesses a MIME type from the file extension, defaulting
// to application/octet-stream. Common video and audio extensions are mapped
// explicitly because the platform MIME database is unreliable for
// them.
func MIMEForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".mpeg", ".mpg":
		return "video/mpeg"
	case ".wmv":
		return "video/x-ms-wmv"
	case ".3gpp", ".3gp":
		return "video/3gpp"
	case ".flv":
		return "video/x-flv"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Package fetch downloads web pages for the fetch_url tool and boils
// them down to readable text. The model mostly asks for documentation
// pages (Remotion APIs, codec references), so extraction favors the
// article body and keeps code blocks intact.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/reelworks/montage/internal/httpkit"
)

const (
	// DefaultTimeout bounds a single page download.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes caps the raw response body at 5 MB.
	DefaultMaxBytes int64 = 5 * 1024 * 1024

	// DefaultMaxChars caps the extracted text handed to the model.
	DefaultMaxChars = 50000
)

// Result is what the fetch_url tool returns to the model.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Length      int    `json:"length"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads pages and extracts their readable text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New returns a Fetcher with the default timeout and size limits.
func New() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads rawURL and returns its readable text, truncated to
// maxChars (0 means DefaultMaxChars). A URL without a scheme gets
// https prepended.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch_url: url is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch_url: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch_url: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch_url: read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	result := &Result{
		URL:         rawURL,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(contentType):
		result.Title, result.Content = extractHTML(string(body))
	case isPlainText(contentType) || utf8.Valid(body):
		result.Content = string(body)
	default:
		// Images, archives and the like. The tool reports what it got
		// instead of dumping bytes into the conversation; the model can
		// download media into assets: with the shell instead.
		result.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
		result.Length = len(body)
		return result, nil
	}

	if len(result.Content) > maxChars {
		result.Content = truncateUTF8(result.Content, maxChars)
		result.Truncated = true
	}
	result.Length = len(result.Content)
	return result, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isPlainText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// truncateUTF8 cuts s to at most maxChars runes without splitting a
// multi-byte sequence.
func truncateUTF8(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}

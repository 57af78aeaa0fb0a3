package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Rendering your video</title></head>
<body>
<nav>Docs / Guides / Rendering</nav>
<script>trackPageView();</script>
<style>.sidebar { width: 240px; }</style>
<main>
<h1>Rendering your video</h1>
<p>Every composition renders through the <strong>remotion</strong> CLI.</p>
<p>Output lands in the out directory.</p>
</main>
<footer>Copyright Remotion</footer>
</body>
</html>`

	title, content := extractHTML(page)

	if title != "Rendering your video" {
		t.Errorf("title = %q, want %q", title, "Rendering your video")
	}
	for _, want := range []string{"Rendering your video", "remotion", "out directory"} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q: %q", want, content)
		}
	}
	for _, dropped := range []string{"trackPageView", "sidebar", "Docs / Guides", "Copyright Remotion"} {
		if strings.Contains(content, dropped) {
			t.Errorf("content should not contain %q", dropped)
		}
	}
}

func TestExtractHTML_PreservesCodeBlocks(t *testing.T) {
	page := `<html><head><title>Render docs</title></head><body>
<p>Run the render from the project root:</p>
<pre><code>npx remotion render src/index.ts Main out/final.mp4</code></pre>
</body></html>`

	_, content := extractHTML(page)
	if !strings.Contains(content, "npx remotion render src/index.ts Main out/final.mp4") {
		t.Errorf("code block not preserved verbatim: %q", content)
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "Montage/") {
			t.Errorf("User-Agent = %q, want Montage/ prefix", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Transitions</title></head><body><p>Cross-fade two clips with interpolate.</p></body></html>`))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if result.Title != "Transitions" {
		t.Errorf("Title = %q, want %q", result.Title, "Transitions")
	}
	if !strings.Contains(result.Content, "Cross-fade two clips") {
		t.Errorf("Content = %q, want the page body", result.Content)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
}

func TestFetch_PlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ffmpeg -i in.mov -c:v libx264 out.mp4"))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Content != "ffmpeg -i in.mov -c:v libx264 out.mp4" {
		t.Errorf("Content = %q, want the body verbatim", result.Content)
	}
}

func TestFetch_Truncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !result.Truncated {
		t.Error("Truncated = false, want true")
	}
	if result.Length > 100 {
		t.Errorf("Length = %d, want <= 100", result.Length)
	}
}

func TestFetch_EmptyURL(t *testing.T) {
	f := New()
	if _, err := f.Fetch(context.Background(), "", 0); err == nil {
		t.Error("Fetch(\"\") should fail")
	}
}

func TestFetch_BinaryContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0xff, 0xfe, 0x00, 0x01})
	}))
	defer ts.Close()

	f := New()
	result, err := f.Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(result.Content, "Binary content") {
		t.Errorf("Content = %q, want the binary placeholder", result.Content)
	}
}

func TestCollapseBlankLines(t *testing.T) {
	input := "  Clip   one  \n\n\n\n  Clip two  \n\n\n Clip three  "
	got := collapseBlankLines(input)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank runs not collapsed: %q", got)
	}
	if !strings.HasPrefix(got, "Clip one") || !strings.HasSuffix(got, "Clip three") {
		t.Errorf("surrounding whitespace not trimmed: %q", got)
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := "Héllo wörld café"
	got := truncateUTF8(s, 5)
	if n := len([]rune(got)); n > 5 {
		t.Errorf("truncateUTF8 kept %d runes, want at most 5: %q", n, got)
	}
}

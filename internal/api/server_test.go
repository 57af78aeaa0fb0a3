package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/reelworks/montage/internal/agent"
	"github.com/reelworks/montage/internal/checkpoint"
	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClient answers every chat with a fixed text reply.
type stubClient struct {
	reply string
}

func (c *stubClient) Chat(ctx context.Context, model string, messages []llm.Message, toolDecls []map[string]any) (*llm.Response, error) {
	return &llm.Response{
		Model:        model,
		Message:      llm.TextMessage(llm.RoleAssistant, c.reply),
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

func (c *stubClient) UploadFile(ctx context.Context, path, mimeType string) (string, error) {
	return "files/stub", nil
}

func (c *stubClient) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *project.Store) {
	t.Helper()

	projects, err := project.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	checkpoints, err := checkpoint.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}

	bus := events.New()
	registry := tools.NewRegistry(tools.Config{Bus: bus, Logger: testLogger()})
	loop := agent.New(agent.Config{
		Client:      &stubClient{reply: "cut assembled"},
		Model:       "gemini-test",
		Registry:    registry,
		Checkpoints: checkpoints,
		Bus:         bus,
		Logger:      testLogger(),
	})

	srv := NewServer(Config{
		Loop:        loop,
		Projects:    projects,
		Checkpoints: checkpoints,
		Bus:         bus,
		Logger:      testLogger(),
	})
	return srv, projects
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestProjectLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/projects", map[string]string{"name": "promo"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/api/projects", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "promo") {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/api/projects/promo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var detail map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if detail["name"] != "promo" {
		t.Errorf("detail = %v", detail)
	}

	rec = doJSON(t, h, "DELETE", "/api/projects/promo", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/projects/promo", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestProjectCreate_InvalidName(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "POST", "/api/projects", map[string]string{"name": "../escape"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSendMessage(t *testing.T) {
	srv, projects := newTestServer(t)
	if _, err := projects.Create("promo"); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), "POST", "/api/projects/promo/messages",
		map[string]string{"text": "make a teaser"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp sendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply != "cut assembled" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.Steps != 1 {
		t.Errorf("steps = %d, want 1", resp.Steps)
	}
}

func TestSendMessage_MissingProject(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "POST", "/api/projects/nope/messages",
		map[string]string{"text": "hello"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTranscriptAfterRun(t *testing.T) {
	srv, projects := newTestServer(t)
	if _, err := projects.Create("promo"); err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/projects/promo/messages",
		map[string]string{"text": "make a teaser"})
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/projects/promo/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "make a teaser") || !strings.Contains(body, "cut assembled") {
		t.Errorf("transcript missing turns: %s", body)
	}
}

func TestAssetUploadListDelete(t *testing.T) {
	srv, projects := newTestServer(t)
	if _, err := projects.Create("promo"); err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "My Clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("video bytes"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/projects/promo/assets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}

	var uploaded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &uploaded); err != nil {
		t.Fatal(err)
	}
	name, _ := uploaded["name"].(string)
	if name == "" || strings.Contains(name, " ") {
		t.Fatalf("uploaded name = %q, want sanitized", name)
	}

	rec = doJSON(t, h, "GET", "/api/projects/promo/assets", nil)
	if !strings.Contains(rec.Body.String(), name) {
		t.Errorf("listing missing %q: %s", name, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/projects/promo/assets/"+name, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("serve status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "video/") {
		t.Errorf("content type = %q, want video/*", ct)
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Error("missing Accept-Ranges header")
	}
	if rec.Body.String() != "video bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}

	req = httptest.NewRequest("DELETE", "/api/projects/promo/assets/"+name, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestAssetGet_TraversalRejected(t *testing.T) {
	srv, projects := newTestServer(t)
	pp, err := projects.Create("promo")
	if err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(pp.Root, "secret.txt")
	if err := os.WriteFile(secret, []byte("hidden"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/projects/promo/assets/..%2Fsecret.txt", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Errorf("traversal served file, status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestOutputServing(t *testing.T) {
	srv, projects := newTestServer(t)
	pp, err := projects.Create("promo")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pp.OutDir, "final.mp4"), []byte("render"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := srv.Handler()
	rec := doJSON(t, h, "GET", "/api/projects/promo/outputs", nil)
	if !strings.Contains(rec.Body.String(), "final.mp4") {
		t.Errorf("outputs listing = %s", rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/projects/promo/outputs/final.mp4", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "render" {
		t.Errorf("serve status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv.passwordHash = string(hash)
	h := srv.Handler()

	rec := doJSON(t, h, "GET", "/api/projects", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	// healthz stays open.
	rec = doJSON(t, h, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rr.Code)
	}
}

func TestEventsSSE(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/api/events", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	// Give the handler time to subscribe, then publish and close.
	time.Sleep(50 * time.Millisecond)
	srv.bus.Publish(events.Event{
		Project: "promo",
		Source:  events.SourceAgent,
		Kind:    events.KindRunStart,
	})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, ": connected") {
		t.Errorf("missing connect comment: %s", body)
	}
	if !strings.Contains(body, "run_start") {
		t.Errorf("missing published event: %s", body)
	}
}

func TestDAVPropfind(t *testing.T) {
	srv, projects := newTestServer(t)
	if _, err := projects.Create("promo"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("PROPFIND", "/dav/", nil)
	req.Header.Set("Depth", "1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("PROPFIND status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "promo") {
		t.Errorf("PROPFIND body missing project: %s", rec.Body.String())
	}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/reelworks/montage/internal/agent"
	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/memory"
	"github.com/reelworks/montage/internal/paths"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/tools"
)

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.projects.List()
	if err != nil {
		s.logger.Error("project list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list projects")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"projects": infos,
		"count":    len(infos),
	}, s.logger)
}

type projectCreateRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	pp, err := s.projects.Create(req.Name)
	if err != nil {
		if errors.Is(err, project.ErrInvalidName) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("project create failed", "name", req.Name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	s.logger.Info("project created", "name", pp.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"name": pp.Name,
		"path": pp.Root,
	}, s.logger)
}

func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("project")
	pp, err := s.projects.Get(name)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "project not found")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	assets := listFiles(pp.AssetsDir)
	outputs := listFiles(pp.OutDir)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"name":         pp.Name,
		"path":         pp.Root,
		"asset_count":  len(assets),
		"output_count": len(outputs),
	}, s.logger)
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("project")
	if err := s.projects.Delete(name); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "project not found")
			return
		}
		s.logger.Error("project delete failed", "name", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	if s.checkpoints != nil {
		if err := s.checkpoints.Delete(name); err != nil {
			s.logger.Warn("checkpoint cleanup failed", "project", name, "error", err)
		}
	}
	s.logger.Info("project deleted", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	// Text is the user's message.
	Text string `json:"text"`
	// Assets are names of files already in public/assets to attach to
	// this turn.
	Assets []string `json:"assets,omitempty"`
}

type sendMessageResponse struct {
	Project string `json:"project"`
	Reply   string `json:"reply"`
	Steps   int    `json:"steps"`
}

// handleSendMessage runs one agent turn for the project. With
// ?stream=sse, bus events for the project are streamed live and the
// final reply arrives as a terminating "result" event.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("project")
	pp, err := s.projects.Get(name)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "project not found")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	attached := make([]string, 0, len(req.Assets))
	for _, a := range req.Assets {
		// Names only: attaching reaches into public/assets, never
		// arbitrary paths.
		attached = append(attached, filepath.Join(pp.AssetsDir, filepath.Base(a)))
	}

	env := s.runEnv(pp)
	agentReq := agent.Request{Text: req.Text, Assets: attached}

	if r.URL.Query().Get("stream") == "sse" {
		s.streamRun(w, r, pp, env, agentReq)
		return
	}

	reply, err := s.loop.Run(r.Context(), env, agentReq)
	if err != nil {
		s.logger.Error("agent run failed", "project", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error: "+err.Error())
		return
	}

	steps := s.runSteps(name)
	s.notifyRunFinished(name, reply, steps)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, sendMessageResponse{
		Project: name,
		Reply:   reply,
		Steps:   steps,
	}, s.logger)
}

// streamRun executes the agent while relaying the project's bus events
// as SSE. The final reply is delivered as a "result" event after
// run_done.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, pp *project.Paths, env *tools.Env, req agent.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	var ch <-chan events.Event
	if s.bus != nil {
		ch = s.bus.Subscribe(64)
		defer s.bus.Unsubscribe(ch)
	}

	type runResult struct {
		reply string
		err   error
	}
	done := make(chan runResult, 1)
	go func() {
		reply, err := s.loop.Run(r.Context(), env, req)
		done <- runResult{reply, err}
	}()

	for {
		select {
		case e := <-ch:
			if e.Project != "" && e.Project != pp.Name {
				continue
			}
			s.writeSSE(w, "event", e)
			flusher.Flush()
		case res := <-done:
			// Drain events already queued before reporting the result.
			for {
				select {
				case e := <-ch:
					if e.Project == "" || e.Project == pp.Name {
						s.writeSSE(w, "event", e)
					}
					continue
				default:
				}
				break
			}
			steps := s.runSteps(pp.Name)
			if res.err != nil {
				s.writeSSE(w, "error", map[string]any{"message": res.err.Error()})
				flusher.Flush()
				return
			}
			s.notifyRunFinished(pp.Name, res.reply, steps)
			s.writeSSE(w, "result", sendMessageResponse{
				Project: pp.Name,
				Reply:   res.reply,
				Steps:   steps,
			})
			flusher.Flush()
			return
		case <-r.Context().Done():
			return
		}
	}
}

// runEnv builds the tool environment for one project.
func (s *Server) runEnv(pp *project.Paths) *tools.Env {
	prefixes := map[string]string{
		"assets": pp.AssetsDir,
		"out":    pp.OutDir,
	}
	if s.library != nil {
		if dirs := s.library.Dirs(); len(dirs) > 0 {
			prefixes["skills"] = dirs[0]
		}
	}
	return &tools.Env{
		Project:  pp,
		Resolver: paths.New(prefixes),
	}
}

// runSteps reads the step count of the last run from the project's
// checkpoint. Zero when no checkpoint exists.
func (s *Server) runSteps(name string) int {
	if s.checkpoints == nil {
		return 0
	}
	st, err := s.checkpoints.Resume(name)
	if err != nil || st == nil {
		return 0
	}
	return st.Step
}

// notifyRunFinished sends the completion mail without blocking the
// response.
func (s *Server) notifyRunFinished(name, reply string, steps int) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	go func() {
		ctx, cancel := contextWithTimeout()
		defer cancel()
		if err := s.notifier.RunFinished(ctx, name, reply, steps); err != nil {
			s.logger.Warn("run notification failed", "project", name, "error", err)
		}
	}()
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("project")
	pp, err := s.projects.Get(name)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "project not found")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs := memory.LoadTranscript(pp.TranscriptPath())

	type transcriptMessage struct {
		Role string `json:"role"`
		Text string `json:"text"`
	}
	out := make([]transcriptMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, transcriptMessage{
			Role: string(m.Role),
			Text: m.Text(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"project":  name,
		"messages": out,
		"count":    len(out),
	}, s.logger)
}

func (s *Server) writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Debug("failed to marshal SSE payload", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.logger.Debug("failed to write SSE payload", "error", err)
	}
}

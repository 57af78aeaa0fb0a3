package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/media"
	"github.com/reelworks/montage/internal/project"
)

// maxUploadBytes caps asset uploads. Source footage can be large, but
// something has to bound a runaway request body.
const maxUploadBytes = 4 << 30

// contextWithTimeout returns a background context bounded for
// fire-and-forget work spawned from request handlers.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

// fileInfo is one entry in an asset or output listing.
type fileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// listFiles returns the regular files directly under dir, sorted by
// name. Hidden files and subdirectories are skipped. A missing dir
// lists as empty.
func listFiles(dir string) []fileInfo {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []fileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fileInfo{
			Name:       e.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) projectOr404(w http.ResponseWriter, name string) *project.Paths {
	pp, err := s.projects.Get(name)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "project not found")
		} else {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
		}
		return nil
	}
	return pp
}

func (s *Server) handleAssetList(w http.ResponseWriter, r *http.Request) {
	pp := s.projectOr404(w, r.PathValue("project"))
	if pp == nil {
		return
	}
	files := listFiles(pp.AssetsDir)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"assets": files, "count": len(files)}, s.logger)
}

func (s *Server) handleOutputList(w http.ResponseWriter, r *http.Request) {
	pp := s.projectOr404(w, r.PathValue("project"))
	if pp == nil {
		return
	}
	files := listFiles(pp.OutDir)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"outputs": files, "count": len(files)}, s.logger)
}

// handleAssetUpload accepts a multipart upload ("file" field) and
// stores it under public/assets with a timestamped sanitized name.
func (s *Server) handleAssetUpload(w http.ResponseWriter, r *http.Request) {
	pp := s.projectOr404(w, r.PathValue("project"))
	if pp == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "multipart upload with a 'file' field is required")
		return
	}
	defer file.Close()

	name := project.SanitizeFilename(header.Filename, time.Now())
	dst := filepath.Join(pp.AssetsDir, name)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.logger.Error("asset create failed", "project", pp.Name, "name", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to store asset")
		return
	}
	size, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		s.logger.Error("asset write failed", "project", pp.Name, "name", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to store asset")
		return
	}

	s.bus.Publish(events.Event{
		Project: pp.Name,
		Source:  events.SourceAPI,
		Kind:    events.KindAssetUploaded,
		Data:    map[string]any{"name": name, "size": size},
	})
	s.logger.Info("asset uploaded", "project", pp.Name, "name", name, "size", size)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"name": name, "size": size}, s.logger)
}

func (s *Server) handleAssetGet(w http.ResponseWriter, r *http.Request) {
	pp := s.projectOr404(w, r.PathValue("project"))
	if pp == nil {
		return
	}
	s.serveProjectFile(w, r, pp.AssetsDir, r.PathValue("name"))
}

func (s *Server) handleOutputGet(w http.ResponseWriter, r *http.Request) {
	pp := s.projectOr404(w, r.PathValue("project"))
	if pp == nil {
		return
	}
	s.serveProjectFile(w, r, pp.OutDir, r.PathValue("name"))
}

// serveProjectFile streams one file with range support, an explicit
// media content type, and cache headers suitable for a scrubbing video
// player.
func (s *Server) serveProjectFile(w http.ResponseWriter, r *http.Request, dir, name string) {
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		s.errorResponse(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(dir, name)

	f, err := os.Open(path)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.errorResponse(w, http.StatusNotFound, "file not found")
		return
	}

	if mime := media.MIMEForPath(path); mime != "" {
		w.Header().Set("Content-Type", mime)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "private, max-age=60")

	// ServeContent handles Range and conditional requests.
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleAssetDelete(w http.ResponseWriter, r *http.Request) {
	pp := s.projectOr404(w, r.PathValue("project"))
	if pp == nil {
		return
	}
	name := r.PathValue("name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		s.errorResponse(w, http.StatusBadRequest, "invalid file name")
		return
	}

	path := filepath.Join(pp.AssetsDir, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			s.errorResponse(w, http.StatusNotFound, "asset not found")
			return
		}
		s.logger.Error("asset delete failed", "project", pp.Name, "name", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete asset")
		return
	}

	s.logger.Info("asset deleted", "project", pp.Name, "name", name)
	w.WriteHeader(http.StatusNoContent)
}

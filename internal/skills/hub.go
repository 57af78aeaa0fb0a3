package skills

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

// Hub installs skill packs from a GitHub repository. A pack is any
// directory containing a SKILL.md; a hub repo typically carries one
// pack per top-level directory.
type Hub struct {
	client  *gogithub.Client
	destDir string
	logger  *slog.Logger
}

// NewHub creates a hub that installs packs into destDir. token may be
// empty for public repositories.
func NewHub(httpClient *http.Client, token, destDir string, logger *slog.Logger) *Hub {
	gh := gogithub.NewClient(httpClient)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	return &Hub{
		client:  gh,
		destDir: destDir,
		logger:  logger.With("component", "skillhub"),
	}
}

// ParseRef splits a hub reference "owner/repo[/sub/path]" into its
// parts.
func ParseRef(ref string) (owner, repo, path string, err error) {
	parts := strings.SplitN(strings.Trim(ref, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid skill reference %q: expected owner/repo[/path]", ref)
	}
	owner, repo = parts[0], parts[1]
	if len(parts) == 3 {
		path = parts[2]
	}
	return owner, repo, path, nil
}

// checkRateLimit logs a warning when remaining API calls drop low.
func checkRateLimit(logger *slog.Logger, resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// ListAvailable returns the names of skill packs in a hub repository:
// directories under the referenced path that contain a SKILL.md.
func (h *Hub) ListAvailable(ctx context.Context, ref string) ([]string, error) {
	owner, repo, path, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	_, dir, resp, err := h.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil, fmt.Errorf("skillhub: list %s: %w", ref, err)
	}
	checkRateLimit(h.logger, resp)

	var names []string
	for _, entry := range dir {
		if entry.GetType() != "dir" {
			continue
		}
		sub := entry.GetPath() + "/SKILL.md"
		if _, _, _, err := h.client.Repositories.GetContents(ctx, owner, repo, sub, nil); err == nil {
			names = append(names, entry.GetName())
		}
	}
	return names, nil
}

// Install downloads the skill pack at ref into the local skills
// directory, overwriting any existing pack with the same name. Returns
// the installed pack directory.
func (h *Hub) Install(ctx context.Context, ref string) (string, error) {
	owner, repo, path, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	name := repo
	if path != "" {
		name = filepath.Base(path)
	}
	dest := filepath.Join(h.destDir, name)

	files, err := h.collect(ctx, owner, repo, path)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("skillhub: %s contains no files", ref)
	}
	hasManifest := false
	for rel := range files {
		if filepath.Base(rel) == "SKILL.md" && filepath.Dir(rel) == "." {
			hasManifest = true
		}
	}
	if !hasManifest {
		return "", fmt.Errorf("skillhub: %s has no SKILL.md", ref)
	}

	for rel, content := range files {
		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", fmt.Errorf("skillhub: create dir: %w", err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("skillhub: write %s: %w", rel, err)
		}
	}

	h.logger.Info("skill pack installed",
		"ref", ref,
		"name", name,
		"files", len(files),
	)
	return dest, nil
}

// collect fetches every file under a repository path, keyed by path
// relative to it.
func (h *Hub) collect(ctx context.Context, owner, repo, root string) (map[string]string, error) {
	files := make(map[string]string)

	var walk func(path string) error
	walk = func(path string) error {
		file, dir, resp, err := h.client.Repositories.GetContents(ctx, owner, repo, path, nil)
		if err != nil {
			return fmt.Errorf("skillhub: fetch %s: %w", path, err)
		}
		checkRateLimit(h.logger, resp)

		if file != nil {
			content, err := file.GetContent()
			if err != nil {
				return fmt.Errorf("skillhub: decode %s: %w", path, err)
			}
			files[relTo(root, path)] = content
			return nil
		}
		for _, entry := range dir {
			if err := walk(entry.GetPath()); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return files, nil
}

// relTo computes a file path relative to the pack root. An empty root
// means the repository root.
func relTo(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Base(path)
	}
	return rel
}

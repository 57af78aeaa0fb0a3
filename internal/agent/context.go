package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelworks/montage/internal/llm"
	"github.com/reelworks/montage/internal/media"
	"github.com/reelworks/montage/internal/project"
	"github.com/reelworks/montage/internal/prompts"
	"github.com/reelworks/montage/internal/skills"
)

// inlineAssetLimit caps attached media inlined into the initial user
// turn. Anything larger is listed for the model to reach via
// inspect_asset instead.
const inlineAssetLimit = 20 << 20

// systemPrompt assembles the per-project system prompt: base editing
// instructions, the project root, the skill catalog, and the bodies of
// always-active skills.
func (l *Loop) systemPrompt(proj *project.Paths) string {
	blocks := []string{
		prompts.AgentBase,
		"Project Root Directory: " + proj.Root,
	}
	if l.library != nil {
		if b := availableSkillsBlock(l.library.Discover()); b != "" {
			blocks = append(blocks, b)
		}
		if b := activeSkillsBlock(l.library.Active()); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// availableSkillsBlock lists every discovered skill so the model knows
// what it can read on demand.
func availableSkillsBlock(all []skills.Skill) string {
	if len(all) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<available_skills>\n")
	for _, sk := range all {
		b.WriteString("  <skill>\n")
		fmt.Fprintf(&b, "    <name>%s</name>\n", sk.Name)
		fmt.Fprintf(&b, "    <description>%s</description>\n", sk.Description)
		fmt.Fprintf(&b, "    <location>%s</location>\n", sk.Path)
		b.WriteString("  </skill>\n")
	}
	b.WriteString("</available_skills>")
	return b.String()
}

// activeSkillsBlock inlines the full body of every active skill.
func activeSkillsBlock(active []skills.Skill) string {
	if len(active) == 0 {
		return ""
	}
	bodies := make([]string, 0, len(active))
	for _, sk := range active {
		bodies = append(bodies, strings.TrimSpace(sk.Body))
	}
	return "<active_skills>\n" + strings.Join(bodies, "\n\n") + "\n</active_skills>"
}

// initialMessage builds the user turn for this run. The first turn of
// a project also carries the project header and a note listing what is
// already in public/assets.
func (l *Loop) initialMessage(proj *project.Paths, req Request, first bool) llm.Message {
	parts, inline, large := l.assetParts(req.Assets)

	var text strings.Builder
	if first {
		text.WriteString("Project name: " + proj.Name + "\n")
	}
	text.WriteString(strings.TrimSpace(req.Text))
	text.WriteString("\n")
	if first {
		if names := assetNames(proj.AssetsDir); len(names) > 0 {
			text.WriteString("Assets in public/assets: " + strings.Join(names, ", ") + "\n")
		}
	}
	if len(large) > 0 {
		text.WriteString("Large assets available (use inspect_asset): " + strings.Join(large, ", ") + "\n")
	}
	if len(inline) > 0 {
		text.WriteString("Inline assets attached: " + strings.Join(inline, ", ") + "\n")
	}

	msg := llm.Message{Role: llm.RoleUser, Parts: parts}
	msg.Parts = append(msg.Parts, llm.TextPart{Text: text.String()})
	return msg
}

// assetParts converts attached files into message parts. Small media
// is inlined, small text files are embedded as labeled text, and
// everything else is reported by name for inspect_asset. Missing files
// are skipped with a log line rather than failing the run.
func (l *Loop) assetParts(assets []string) (parts []llm.Part, inline, large []string) {
	for _, asset := range assets {
		fi, err := os.Stat(asset)
		if err != nil || fi.IsDir() {
			l.logger.Warn("attached asset not found", "path", asset)
			continue
		}
		name := filepath.Base(asset)
		if fi.Size() > inlineAssetLimit {
			large = append(large, name)
			continue
		}

		mimeType := media.MIMEForPath(asset)
		switch {
		case strings.HasPrefix(mimeType, "video/"),
			strings.HasPrefix(mimeType, "audio/"),
			strings.HasPrefix(mimeType, "image/"):
			data, err := os.ReadFile(asset)
			if err != nil {
				l.logger.Warn("attached asset unreadable", "path", asset, "error", err)
				continue
			}
			part, err := mediaPartFor(mimeType, data)
			if err != nil {
				l.logger.Warn("attached asset rejected", "path", asset, "error", err)
				continue
			}
			parts = append(parts, part)
			inline = append(inline, name)
		case strings.HasPrefix(mimeType, "text/"):
			data, err := os.ReadFile(asset)
			if err != nil {
				l.logger.Warn("attached asset unreadable", "path", asset, "error", err)
				continue
			}
			parts = append(parts, llm.TextPart{Text: fmt.Sprintf("Asset %s:\n%s", name, data)})
			inline = append(inline, name)
		default:
			large = append(large, name)
		}
	}
	return parts, inline, large
}

func mediaPartFor(mimeType string, data []byte) (llm.Part, error) {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return llm.NewVideoPart(mimeType, data)
	case strings.HasPrefix(mimeType, "audio/"):
		return llm.NewAudioPart(mimeType, data)
	default:
		return llm.NewImagePart(mimeType, data)
	}
}

// assetNames lists the visible files in the assets directory.
func assetNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

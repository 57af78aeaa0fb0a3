// Package notify sends mail when an agent run or render finishes.
// Bodies are markdown, delivered as multipart/alternative (plain +
// HTML); recipients come from config plus an optional vCard crew
// roster.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reelworks/montage/internal/config"
	"github.com/reelworks/montage/internal/prompts"
)

// Notifier composes and sends run-completion mail. A disabled notifier
// is valid and turns every Send into a no-op.
type Notifier struct {
	cfg    config.NotifyConfig
	logger *slog.Logger
}

// New creates a notifier from config.
func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logger.With("component", "notify"),
	}
}

// Enabled reports whether notifications are configured to send.
func (n *Notifier) Enabled() bool {
	return n.cfg.Enabled
}

// RunFinished sends the run-completion notification for a project.
// No-op when notifications are disabled.
func (n *Notifier) RunFinished(ctx context.Context, project, finalText string, steps int) error {
	if !n.cfg.Enabled {
		return nil
	}

	recipients := n.recipients()
	if len(recipients) == 0 {
		n.logger.Warn("notify enabled but no recipients configured", "project", project)
		return nil
	}

	body := prompts.NotifyBody(project, finalText, steps)
	msg, err := ComposeMessage(ComposeOptions{
		From:    n.cfg.From,
		To:      recipients,
		Subject: fmt.Sprintf("[montage] %s: run finished", project),
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("compose notification: %w", err)
	}

	if err := SendMail(ctx, n.cfg, n.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	n.logger.Info("notification sent",
		"project", project,
		"recipients", len(recipients),
	)
	return nil
}

// recipients merges the configured To list with the crew roster,
// deduplicated in order. Roster read errors are logged and skipped so
// a bad vcf never blocks mail to the configured addresses.
func (n *Notifier) recipients() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}

	for _, addr := range n.cfg.To {
		add(addr)
	}
	if n.cfg.CrewVCF != "" {
		roster, err := LoadRoster(n.cfg.CrewVCF)
		if err != nil {
			n.logger.Warn("crew roster unreadable", "path", n.cfg.CrewVCF, "error", err)
		}
		for _, addr := range roster {
			add(addr)
		}
	}
	return out
}

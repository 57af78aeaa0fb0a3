package review

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/reelworks/montage/internal/config"
	"github.com/reelworks/montage/internal/events"
	"github.com/reelworks/montage/internal/opstate"
)

// pollNamespace is the opstate namespace for review polling state.
const pollNamespace = "review_poll"

// Mailbox is the slice of the IMAP client the poller needs.
type Mailbox interface {
	LatestUID(ctx context.Context) (uint32, error)
	UnseenSince(ctx context.Context, sinceUID uint32) ([]Note, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// Poller checks the review inbox for new client notes by comparing
// IMAP UIDs against a persisted high-water mark. Each new note is
// published on the event bus and marked seen.
type Poller struct {
	mailbox Mailbox
	state   *opstate.Store
	bus     *events.Bus
	cfg     config.ReviewConfig
	logger  *slog.Logger
}

// NewPoller creates a review poller that tracks its high-water mark in
// the provided opstate store.
func NewPoller(mailbox Mailbox, state *opstate.Store, bus *events.Bus, cfg config.ReviewConfig, logger *slog.Logger) *Poller {
	return &Poller{
		mailbox: mailbox,
		state:   state,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With("component", "review"),
	}
}

// Run polls the inbox at the configured interval until the context is
// cancelled. Poll failures are logged and retried next cycle.
func (p *Poller) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("review poller started", "mailbox", p.cfg.Mailbox, "interval", interval)

	for {
		if _, err := p.CheckOnce(ctx); err != nil {
			p.logger.Warn("review poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("review poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce checks the inbox for notes newer than the stored
// high-water mark, publishes an event per note, marks them seen, and
// advances the mark. Returns the notes found.
//
// On first run (no stored high-water mark), the current highest UID is
// recorded silently without reporting it as new. This prevents
// flooding the bus with the entire inbox on initial deployment.
func (p *Poller) CheckOnce(ctx context.Context) ([]Note, error) {
	stateKey := p.cfg.Username + ":" + p.cfg.Mailbox

	storedStr, err := p.state.Get(pollNamespace, stateKey)
	if err != nil {
		return nil, fmt.Errorf("get high-water mark %q: %w", stateKey, err)
	}

	var storedUID uint64
	if storedStr != "" {
		parsed, parseErr := strconv.ParseUint(storedStr, 10, 32)
		if parseErr != nil {
			p.logger.Warn("corrupt high-water mark, reseeding",
				"key", stateKey,
				"stored", storedStr,
			)
			storedStr = ""
		} else {
			storedUID = parsed
		}
	}

	if storedStr == "" {
		// First run (or corrupt state): seed silently.
		seedUID, err := p.mailbox.LatestUID(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed latest UID: %w", err)
		}
		p.logger.Info("review poll first run, seeding high-water mark",
			"key", stateKey,
			"uid", seedUID,
		)
		if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(uint64(seedUID), 10)); err != nil {
			return nil, fmt.Errorf("seed high-water mark %q: %w", stateKey, err)
		}
		return nil, nil
	}

	notes, err := p.mailbox.UnseenSince(ctx, uint32(storedUID))
	if err != nil {
		return nil, fmt.Errorf("list unseen: %w", err)
	}
	if len(notes) == 0 {
		return nil, nil
	}

	uids := make([]uint32, 0, len(notes))
	for _, note := range notes {
		uids = append(uids, note.UID)
		p.bus.Publish(events.Event{
			Source: events.SourceReview,
			Kind:   events.KindReviewNote,
			Data: map[string]any{
				"from":    note.From,
				"subject": note.Subject,
				"date":    note.Date.Format(time.RFC3339),
			},
		})
		p.logger.Info("review note received", "from", note.From, "subject", note.Subject)
	}

	if err := p.mailbox.MarkSeen(ctx, uids); err != nil {
		p.logger.Warn("mark seen failed", "error", err)
	}

	// Notes are newest-first, so the first UID is the new mark.
	highestUID := notes[0].UID
	if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(uint64(highestUID), 10)); err != nil {
		return notes, fmt.Errorf("update high-water mark %q: %w", stateKey, err)
	}

	return notes, nil
}

// Package review watches an IMAP inbox for client feedback mail and
// surfaces each new note as an event. The poller tracks a persisted
// UID high-water mark so notes are reported exactly once across
// restarts, and marks handled messages seen.
package review

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/reelworks/montage/internal/config"
)

// Note is one message from the review inbox.
type Note struct {
	UID     uint32
	From    string
	Subject string
	Date    time.Time
}

// Client is a single-mailbox IMAP client that wraps go-imap/v2 with
// automatic reconnection and mutex-serialized access. All public
// methods are goroutine-safe.
type Client struct {
	cfg    config.ReviewConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates an IMAP client for the review inbox. The
// connection is established lazily on first use.
func NewClient(cfg config.ReviewConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "review"),
	}
}

// connectLocked performs the actual connection. Caller must hold c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))

	var opts imapclient.Options
	if !c.cfg.Insecure {
		opts.TLSConfig = &tls.Config{
			ServerName: c.cfg.Host,
		}
	}

	c.logger.Debug("connecting to IMAP server", "host", c.cfg.Host, "port", c.cfg.Port)

	var client *imapclient.Client
	var err error
	if c.cfg.Insecure {
		client, err = imapclient.DialInsecure(addr, &opts)
	} else {
		client, err = imapclient.DialTLS(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}

	c.client = client
	c.logger.Info("IMAP connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
// Caller must hold c.mu.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.client != nil {
		// Quick liveness check via NOOP.
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.cfg.Host)
	}
	return c.connectLocked(ctx)
}

// Close logs out and closes the IMAP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	return err
}

// selectMailbox selects the configured mailbox. Caller must hold c.mu.
func (c *Client) selectMailbox() (*imap.SelectData, error) {
	mailbox := c.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	data, err := c.client.Select(mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}
	return data, nil
}

// LatestUID returns the highest UID currently assigned in the mailbox,
// or 0 when the mailbox is empty. Used to seed the poller's high-water
// mark without reporting the existing backlog.
func (c *Client) LatestUID(ctx context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return 0, err
	}
	data, err := c.selectMailbox()
	if err != nil {
		return 0, err
	}
	if data.UIDNext <= 1 {
		return 0, nil
	}
	return uint32(data.UIDNext) - 1, nil
}

// UnseenSince returns unseen messages with UIDs strictly greater than
// sinceUID, newest-first.
func (c *Client) UnseenSince(ctx context.Context, sinceUID uint32) ([]Note, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if _, err := c.selectMailbox(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if sinceUID > 0 {
		criteria.UID = []imap.UIDSet{
			{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}},
		}
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.cfg.Mailbox, err)
	}

	allUIDs := searchData.AllUIDs()
	if len(allUIDs) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range allUIDs {
		uidSet.AddNum(uid)
	}

	return c.fetchNotes(uidSet)
}

// MarkSeen adds the \Seen flag to the given messages so they are not
// reported again by other mail clients watching the same inbox.
func (c *Client) MarkSeen(ctx context.Context, uids []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(uids) == 0 {
		return nil
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	if _, err := c.selectMailbox(); err != nil {
		return err
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(imap.UID(uid))
	}

	storeCmd := c.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("store flags: %w", err)
	}
	return nil
}

// fetchNotes fetches envelope data for the given UIDs and returns them
// newest-first. Caller must hold c.mu and have a selected mailbox.
func (c *Client) fetchNotes(uidSet imap.UIDSet) ([]Note, error) {
	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	var notes []Note
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		note, err := parseNote(msg)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		notes = append(notes, note)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	// Newest-first by UID.
	for i, j := 0, len(notes)-1; i < j; i, j = i+1, j-1 {
		notes[i], notes[j] = notes[j], notes[i]
	}

	return notes, nil
}

// parseNote extracts a Note from IMAP fetch response items.
func parseNote(msg *imapclient.FetchMessageData) (Note, error) {
	var note Note

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			note.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				note.Date = data.Envelope.Date
				note.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					note.From = formatAddress(data.Envelope.From[0])
				}
			}
		}
	}

	if note.UID == 0 {
		return note, fmt.Errorf("message missing UID")
	}

	return note, nil
}

// formatAddress formats an IMAP address as "Name <user@host>" or
// just "user@host" if no name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}

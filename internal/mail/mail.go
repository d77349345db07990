// Package mail sends task invitations over SMTP and fetches replies over
// IMAP, parsing MIME messages and spooling attachments to local files.
package mail

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"
)

// ErrTooLarge indicates an attachment above the configured size limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Attachment is an in-memory file attached to an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Outgoing is a plain-text message to one recipient.
type Outgoing struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Delivery reports an accepted message.
type Delivery struct {
	MessageID string
	SentAt    time.Time
}

// Stamp identifies a mailbox message by UID and server receipt time.
type Stamp struct {
	UID  uint32
	Date time.Time
}

// Window keeps the stamps received at or after since, oldest first with UID
// breaking ties, and caps the result at limit when limit is positive. IMAP SINCE
// matches whole days, so the receipt filter runs before the cap.
func Window(stamps []Stamp, since time.Time, limit int) []Stamp {
	kept := make([]Stamp, 0, len(stamps))
	for _, s := range stamps {
		if !since.IsZero() && s.Date.Before(since) {
			continue
		}
		kept = append(kept, s)
	}
	slices.SortFunc(kept, func(a, b Stamp) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.UID, b.UID)
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// Filter bounds a fetch.
type Filter struct {
	Mailbox           string
	MaxMessages       int
	MaxAttachmentSize int64
}

// File is an attachment spooled to Path on the local filesystem. The
// receiver owns the file and removes it once consumed.
type File struct {
	Filename    string
	ContentType string
	Size        int64
	Path        string
}

// Parsed is a fetched and decoded inbound message.
type Parsed struct {
	MessageID   string
	From        string
	Subject     string
	Body        string
	Date        time.Time
	Attachments []File
	// Skipped lists attachments dropped for exceeding the size limit.
	Skipped []string
}

// Transport is the mail collaborator of the collection engine.
type Transport interface {
	Send(ctx context.Context, msg Outgoing) (Delivery, error)
	// Fetch returns messages received at or after since, oldest first.
	Fetch(ctx context.Context, since time.Time, filter Filter) ([]Parsed, error)
}

// Client is the IMAP and SMTP Transport.
type Client struct {
	cfg    *Config
	logger *slog.Logger
}

var _ Transport = (*Client)(nil)

func New(cfg *Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.With("system", "mail"),
	}
}

// Filter returns the fetch bounds from configuration.
func (c *Client) Filter() Filter {
	return Filter{
		Mailbox:           c.cfg.Mailbox,
		MaxMessages:       c.cfg.MaxMessages,
		MaxAttachmentSize: c.cfg.MaxAttachmentSizeBytes(),
	}
}

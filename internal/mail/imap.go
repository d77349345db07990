package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"slices"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/JaimeStill/tally/internal/domain"
)

// Fetch searches the mailbox for messages received since the given time
// without marking them seen, parses each one, and spools attachments to the
// download directory. Unparseable messages are logged and skipped.
func (c *Client) Fetch(ctx context.Context, since time.Time, filter Filter) ([]Parsed, error) {
	if timeout := c.cfg.FetchTimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := os.MkdirAll(c.cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	ic, err := c.dialIMAP(ctx)
	if err != nil {
		return nil, domain.Transient("imap connect", err)
	}
	defer ic.Logout()

	stop := context.AfterFunc(ctx, func() { ic.Terminate() })
	defer stop()

	if err := ic.Login(c.cfg.Username, c.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	mailbox := filter.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := ic.Select(mailbox, true); err != nil {
		return nil, c.fetchErr(ctx, "imap select", err)
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		criteria.Since = since
	}
	uids, err := ic.UidSearch(criteria)
	if err != nil {
		return nil, c.fetchErr(ctx, "imap search", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	stamps, err := readStamps(ic, uids)
	if err != nil {
		return nil, c.fetchErr(ctx, "imap fetch dates", err)
	}
	window := Window(stamps, since, filter.MaxMessages)
	if len(window) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	for _, s := range window {
		seqset.AddNum(s.UID)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- ic.UidFetch(seqset, items, messages)
	}()

	var parsed []Parsed
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			c.logger.Warn("message without body", "uid", msg.Uid)
			continue
		}

		p, err := Parse(body, c.cfg.DownloadDir, filter.MaxAttachmentSize)
		if err != nil {
			c.logger.Warn("unparseable message skipped", "uid", msg.Uid, "error", err)
			continue
		}
		if !msg.InternalDate.IsZero() {
			p.Date = msg.InternalDate.UTC()
		}
		parsed = append(parsed, p)
	}

	if err := <-done; err != nil {
		for _, p := range parsed {
			Release(p)
		}
		return nil, c.fetchErr(ctx, "imap fetch", err)
	}

	slices.SortStableFunc(parsed, func(a, b Parsed) int {
		return a.Date.Compare(b.Date)
	})

	c.logger.Info("mailbox fetched", "mailbox", mailbox, "messages", len(parsed))
	return parsed, nil
}

// readStamps reads the receipt time of each searched UID without touching
// bodies.
func readStamps(ic *client.Client, uids []uint32) ([]Stamp, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, 64)
	done := make(chan error, 1)
	go func() {
		done <- ic.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, messages)
	}()

	stamps := make([]Stamp, 0, len(uids))
	for msg := range messages {
		stamps = append(stamps, Stamp{UID: msg.Uid, Date: msg.InternalDate})
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return stamps, nil
}

func (c *Client) dialIMAP(ctx context.Context) (*client.Client, error) {
	d := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}

	var (
		ic  *client.Client
		err error
	)
	if c.cfg.IMAPSecurity == SecurityTLS {
		host, _, splitErr := net.SplitHostPort(c.cfg.IMAPAddr)
		if splitErr != nil {
			return nil, fmt.Errorf("imap addr %q: %w", c.cfg.IMAPAddr, splitErr)
		}
		ic, err = client.DialWithDialerTLS(d, c.cfg.IMAPAddr, &tls.Config{ServerName: host})
	} else {
		ic, err = client.DialWithDialer(d, c.cfg.IMAPAddr)
	}
	if err != nil {
		return nil, err
	}

	ic.Timeout = c.cfg.FetchTimeoutDuration()
	return ic, nil
}

func (c *Client) fetchErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return domain.Transient(op, ctx.Err())
	}
	return domain.Transient(op, err)
}

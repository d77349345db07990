// Package mailtest provides an in-memory mail.Transport for engine tests.
package mailtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JaimeStill/tally/internal/mail"
)

// Transport records sent messages and serves queued inbound messages.
type Transport struct {
	mu       sync.Mutex
	dir      string
	seq      int
	sent     []mail.Outgoing
	inbox    []mail.Parsed
	sendErr  error
	fetchErr error
}

var _ mail.Transport = (*Transport)(nil)

// New returns a Transport that spools attachments under dir.
func New(dir string) *Transport {
	return &Transport{dir: dir}
}

func (t *Transport) Send(ctx context.Context, msg mail.Outgoing) (mail.Delivery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return mail.Delivery{}, err
	}
	if t.sendErr != nil {
		return mail.Delivery{}, t.sendErr
	}

	t.seq++
	t.sent = append(t.sent, msg)
	return mail.Delivery{
		MessageID: fmt.Sprintf("<out-%d@tally.test>", t.seq),
		SentAt:    time.Now().UTC(),
	}, nil
}

func (t *Transport) Fetch(ctx context.Context, since time.Time, filter mail.Filter) ([]mail.Parsed, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.fetchErr != nil {
		return nil, t.fetchErr
	}

	stamps := make([]mail.Stamp, len(t.inbox))
	for i, p := range t.inbox {
		stamps[i] = mail.Stamp{UID: uint32(i + 1), Date: p.Date}
	}

	var out []mail.Parsed
	for _, s := range mail.Window(stamps, since, filter.MaxMessages) {
		p := t.inbox[s.UID-1]
		files := make([]mail.File, len(p.Attachments))
		for i, f := range p.Attachments {
			data, err := os.ReadFile(f.Path)
			if err != nil {
				return nil, err
			}
			t.seq++
			path := filepath.Join(t.dir, fmt.Sprintf("%d-%s", t.seq, f.Filename))
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return nil, err
			}
			f.Path = path
			files[i] = f
		}
		p.Attachments = files
		out = append(out, p)
	}
	return out, nil
}

// Deliver queues an inbound message. Attachments are given as name and
// content and are written to disk on each fetch.
func (t *Transport) Deliver(p mail.Parsed, files map[string][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, data := range files {
		t.seq++
		path := filepath.Join(t.dir, fmt.Sprintf("src-%d-%s", t.seq, name))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		p.Attachments = append(p.Attachments, mail.File{
			Filename: name,
			Size:     int64(len(data)),
			Path:     path,
		})
	}
	t.inbox = append(t.inbox, p)
	return nil
}

// Sent returns the messages accepted so far.
func (t *Transport) Sent() []mail.Outgoing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]mail.Outgoing(nil), t.sent...)
}

// Fail sets the errors returned by Send and Fetch.
func (t *Transport) Fail(send, fetch error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr, t.fetchErr = send, fetch
}

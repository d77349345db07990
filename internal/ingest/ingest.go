// Package ingest pulls replies from the mailbox, matches them to tasks,
// stores their attachments, and persists them as inbound messages.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/mail"
	"github.com/JaimeStill/tally/internal/matcher"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/storage"
)

// headerNamespace derives stable ids for messages without a Message-ID header.
var headerNamespace = uuid.MustParse("5b0c4f7e-3f57-4d59-9d0e-2a6f3c1b7e41")

// Report summarizes one poll.
type Report struct {
	Fetched    int
	Stored     int
	Duplicates int
	Unmatched  int
}

// Poller runs one mailbox poll at a time.
type Poller struct {
	store     store.Store
	transport mail.Transport
	matcher   *matcher.Matcher
	storage   storage.System
	filter    mail.Filter
	logger    *slog.Logger
}

func New(s store.Store, transport mail.Transport, m *matcher.Matcher, blobs storage.System, filter mail.Filter, logger *slog.Logger) *Poller {
	return &Poller{
		store:     s,
		transport: transport,
		matcher:   m,
		storage:   blobs,
		filter:    filter,
		logger:    logger.With("system", "ingest"),
	}
}

// Poll fetches messages received since the inbox cursor and stores each one
// whether or not it matches a task. The cursor advances with every stored
// or duplicate message, so a failure resumes from the last good one.
func (p *Poller) Poll(ctx context.Context) (Report, error) {
	since, err := p.store.Cursor(ctx, store.CursorInbox)
	if err != nil {
		return Report{}, fmt.Errorf("read cursor: %w", err)
	}

	fetched, err := p.transport.Fetch(ctx, since, p.filter)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		for _, msg := range fetched {
			mail.Release(msg)
		}
	}()

	report := Report{Fetched: len(fetched)}
	for _, msg := range fetched {
		stored, matched, err := p.ingest(ctx, msg)
		if err != nil {
			return report, fmt.Errorf("ingest %s: %w", msg.MessageID, err)
		}
		switch {
		case !stored:
			report.Duplicates++
		case !matched:
			report.Stored++
			report.Unmatched++
		default:
			report.Stored++
		}
	}

	if report.Fetched > 0 {
		p.logger.Info(
			"mailbox polled",
			"fetched", report.Fetched,
			"stored", report.Stored,
			"duplicates", report.Duplicates,
			"unmatched", report.Unmatched,
		)
	}
	return report, nil
}

func (p *Poller) ingest(ctx context.Context, msg mail.Parsed) (stored, matched bool, err error) {
	headerID := msg.MessageID
	if headerID == "" {
		seed := fmt.Sprintf("%s|%s|%s", msg.From, msg.Date.Format(time.RFC3339Nano), msg.Subject)
		headerID = fmt.Sprintf("<%s@tally.local>", uuid.NewSHA1(headerNamespace, []byte(seed)))
	}

	if _, err := p.store.FindInboundByHeader(ctx, headerID); err == nil {
		return false, false, p.advance(ctx, msg.Date)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, false, err
	}

	res, err := p.matcher.Match(ctx, matcher.Message{
		Sender:  msg.From,
		Subject: msg.Subject,
		Sheet:   firstWorkbook(msg),
	})
	if err != nil {
		return false, false, err
	}

	inbound := &domain.InboundMessage{
		ID:         domain.NewMessageID(),
		TaskID:     res.TaskID,
		TeacherID:  res.TeacherID,
		Sender:     msg.From,
		Subject:    msg.Subject,
		Body:       msg.Body,
		HeaderID:   headerID,
		ReceivedAt: msg.Date,
		MatchNote:  res.Note,
	}
	if res.Outcome != matcher.OutcomeMatched {
		inbound.TaskID = nil
	}
	if len(msg.Skipped) > 0 {
		inbound.MatchNote += fmt.Sprintf("; oversized attachments dropped: %v", msg.Skipped)
	}

	inbound.Attachments, err = p.upload(ctx, inbound, msg.Attachments)
	if err != nil {
		return false, false, domain.Transient("upload attachments", err)
	}

	err = p.store.WithinTx(ctx, func(q store.Queries) error {
		if err := q.InsertInbound(ctx, inbound); err != nil {
			return err
		}
		return advanceCursor(ctx, q, msg.Date)
	})
	if err != nil {
		p.discard(ctx, inbound.Attachments)
		if errors.Is(err, domain.ErrDuplicate) {
			return false, false, p.advance(ctx, msg.Date)
		}
		return false, false, err
	}

	p.logger.Info(
		"reply stored",
		"message", inbound.ID,
		"sender", inbound.Sender,
		"outcome", res.Outcome,
		"task", inbound.TaskID,
		"attachments", len(inbound.Attachments),
	)
	return true, inbound.Matched(), nil
}

// upload stores every spooled attachment under
// inbound/{task id or "unmatched"}/{message id}/{filename}.
func (p *Poller) upload(ctx context.Context, m *domain.InboundMessage, files []mail.File) ([]domain.Attachment, error) {
	scope := "unmatched"
	if m.TaskID != nil {
		scope = m.TaskID.String()
	}

	attachments := make([]domain.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, f := range files {
		key := path.Join("inbound", scope, m.ID.String(), f.Filename)
		g.Go(func() error {
			fh, err := os.Open(f.Path)
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Filename, err)
			}
			defer fh.Close()

			if err := p.storage.Upload(gctx, key, fh, f.ContentType); err != nil {
				return fmt.Errorf("upload %s: %w", f.Filename, err)
			}
			attachments[i] = domain.Attachment{
				Filename:    f.Filename,
				ContentType: f.ContentType,
				Size:        f.Size,
				StorageKey:  key,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.discard(ctx, attachments)
		return nil, err
	}
	return attachments, nil
}

func (p *Poller) discard(ctx context.Context, attachments []domain.Attachment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for _, a := range attachments {
		if a.StorageKey == "" {
			continue
		}
		if err := p.storage.Delete(ctx, a.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			p.logger.Warn("failed to remove attachment", "key", a.StorageKey, "error", err)
		}
	}
}

func (p *Poller) advance(ctx context.Context, at time.Time) error {
	return p.store.WithinTx(ctx, func(q store.Queries) error {
		return advanceCursor(ctx, q, at)
	})
}

func advanceCursor(ctx context.Context, q store.Queries, at time.Time) error {
	current, err := q.Cursor(ctx, store.CursorInbox)
	if err != nil {
		return err
	}
	if !at.After(current) {
		return nil
	}
	return q.SetCursor(ctx, store.CursorInbox, at)
}

func firstWorkbook(msg mail.Parsed) *sheet.Table {
	for _, f := range msg.Attachments {
		if !(domain.Attachment{Filename: f.Filename}).Spreadsheet() {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil
		}
		table, err := sheet.Read(data)
		if err != nil {
			return nil
		}
		return table
	}
	return nil
}

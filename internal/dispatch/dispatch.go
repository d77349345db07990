// Package dispatch queues task invitations when a task is published and
// delivers them through the mail transport, retrying failures on later flushes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/mail"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/formatting"
	"github.com/JaimeStill/tally/pkg/retry"
)

// Config bounds delivery.
type Config struct {
	// MaxRetries is the number of failed flushes after which a message is abandoned.
	MaxRetries int
	// Attempts is the number of sends tried within one flush.
	Attempts int
	Backoff  time.Duration
	// Concurrency limits parallel sends.
	Concurrency int
}

// Dispatcher delivers queued outbound messages.
type Dispatcher struct {
	store     store.Store
	transport mail.Transport
	cfg       Config
	logger    *slog.Logger
}

func New(s store.Store, transport mail.Transport, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Dispatcher{
		store:     s,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("system", "dispatch"),
	}
}

// Queue records one QUEUED message per target teacher of task. Targets
// without a teacher record are skipped and returned.
func Queue(ctx context.Context, q store.Queries, task *domain.Task) ([]domain.TeacherID, error) {
	var missing []domain.TeacherID
	for _, id := range task.Targets {
		teacher, err := q.FindTeacher(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			return nil, fmt.Errorf("load teacher %s: %w", id, err)
		}

		msg := domain.OutboundMessage{
			TaskID:    task.ID,
			TeacherID: teacher.ID,
			Recipient: teacher.Email,
			Status:    domain.DeliveryQueued,
		}
		if err := q.InsertOutbound(ctx, &msg); err != nil {
			return nil, fmt.Errorf("queue message for %s: %w", id, err)
		}
	}
	return missing, nil
}

// Report summarizes one flush.
type Report struct {
	Sent   int
	Failed int
}

type outcome struct {
	msg      domain.OutboundMessage
	delivery mail.Delivery
	err      error
}

// Flush sends every pending message. Send failures are recorded on the
// message; only persistence errors are returned.
func (d *Dispatcher) Flush(ctx context.Context) (Report, error) {
	pending, err := d.store.ListOutbound(ctx, store.OutboundFilter{
		Pending:    true,
		MaxRetries: d.cfg.MaxRetries,
	})
	if err != nil {
		return Report{}, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return Report{}, nil
	}

	contents := make(map[domain.TaskID]*mail.Outgoing)
	results := make([]outcome, len(pending))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	for i, msg := range pending {
		content, ok := contents[msg.TaskID]
		if !ok {
			content, err = d.content(ctx, msg.TaskID)
			if err != nil {
				if domain.Classify(err) == domain.ClassFatal {
					return Report{}, err
				}
				d.logger.Warn("cannot build message", "task", msg.TaskID, "error", err)
			}
			contents[msg.TaskID] = content
		}

		if content == nil {
			results[i] = outcome{msg: msg, err: fmt.Errorf("task %s content unavailable", msg.TaskID)}
			continue
		}

		out := *content
		out.To = msg.Recipient
		g.Go(func() error {
			delivery, err := d.send(ctx, out)
			results[i] = outcome{msg: msg, delivery: delivery, err: err}
			return nil
		})
	}
	g.Wait()

	var report Report
	for _, r := range results {
		msg := r.msg
		if r.err != nil {
			msg.Status = domain.DeliveryFailed
			msg.RetryCount++
			msg.LastError = r.err.Error()
			report.Failed++
			d.logger.Warn("delivery failed", "task", msg.TaskID, "teacher", msg.TeacherID, "retry", msg.RetryCount, "error", r.err)
		} else {
			sentAt := r.delivery.SentAt
			msg.Status = domain.DeliverySent
			msg.HeaderID = r.delivery.MessageID
			msg.SentAt = &sentAt
			msg.LastError = ""
			report.Sent++
		}

		if err := d.store.UpdateOutbound(ctx, &msg); err != nil {
			return report, fmt.Errorf("record delivery %s: %w", msg.ID, err)
		}
	}

	d.logger.Info("outbound flushed", "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

func (d *Dispatcher) send(ctx context.Context, out mail.Outgoing) (mail.Delivery, error) {
	var delivery mail.Delivery
	policy := retry.Policy{MaxAttempts: d.cfg.Attempts, Backoff: d.cfg.Backoff, MaxBackoff: 4 * d.cfg.Backoff}

	res := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		var err error
		delivery, err = d.transport.Send(ctx, out)
		if err != nil && domain.Classify(err) != domain.ClassTransient {
			return retry.Permanent(err)
		}
		return err
	})
	return delivery, res.Err()
}

// content builds the subject, body, and template attachment shared by
// every recipient of a task.
func (d *Dispatcher) content(ctx context.Context, id domain.TaskID) (*mail.Outgoing, error) {
	task, err := d.store.FindTask(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl, err := d.store.FindTemplate(ctx, task.TemplateID)
	if err != nil {
		return nil, err
	}

	workbook, err := sheet.Template(tmpl.Headers())
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return &mail.Outgoing{
		Subject: task.Subject(),
		Body:    task.Mail.Body,
		Attachments: []mail.Attachment{{
			Filename:    formatting.SafeFilename(task.Name) + "_template.xlsx",
			ContentType: sheet.ContentType,
			Data:        workbook,
		}},
	}, nil
}

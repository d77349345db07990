// Package scheduler drives every time-based transition: it evaluates tasks
// on one ticker and polls the mailbox on another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/tally/internal/dispatch"
	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/ingest"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/tasks"
	"github.com/JaimeStill/tally/pkg/lifecycle"
)

// Config sets the loop intervals. Now defaults to the UTC wall clock.
type Config struct {
	TaskInterval time.Duration
	MailInterval time.Duration
	Now          func() time.Time
}

// Report summarizes one task tick.
type Report struct {
	Evaluated int
	Changed   int
	Skipped   int
	Flagged   int
	Failed    int
}

// Scheduler owns the task and mail loops. Poller and Dispatcher are
// optional; without them the mail loop and outbound flush are disabled.
type Scheduler struct {
	store      store.Store
	machine    *tasks.Machine
	poller     *ingest.Poller
	dispatcher *dispatch.Dispatcher
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func New(
	s store.Store,
	machine *tasks.Machine,
	poller *ingest.Poller,
	dispatcher *dispatch.Dispatcher,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		store:      s,
		machine:    machine,
		poller:     poller,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("system", "scheduler"),
		now:        now,
	}
}

// Start launches the loops on the coordinator. Each loop runs once
// immediately and then on its interval until shutdown.
func (s *Scheduler) Start(lc *lifecycle.Coordinator) error {
	if s.cfg.TaskInterval <= 0 {
		return fmt.Errorf("task interval must be positive")
	}
	lc.Go(s.loop("tasks", s.cfg.TaskInterval, func(ctx context.Context) error {
		_, err := s.Tick(ctx)
		return err
	}))

	if s.poller != nil {
		if s.cfg.MailInterval <= 0 {
			return fmt.Errorf("mail interval must be positive")
		}
		lc.Go(s.loop("mail", s.cfg.MailInterval, func(ctx context.Context) error {
			_, err := s.poller.Poll(context.WithoutCancel(ctx))
			return err
		}))
	}

	s.logger.Info(
		"scheduler started",
		"task_interval", s.cfg.TaskInterval,
		"mail_interval", s.cfg.MailInterval,
		"mail", s.poller != nil,
	)
	return nil
}

func (s *Scheduler) loop(name string, interval time.Duration, fn func(ctx context.Context) error) func(ctx context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := fn(ctx); err != nil {
				s.logger.Error("tick failed", "loop", name, "class", domain.Classify(err), "error", err)
			}

			select {
			case <-ctx.Done():
				s.logger.Info("loop stopped", "loop", name)
				return
			case <-ticker.C:
			}
		}
	}
}

// Tick evaluates every task against one snapshot of the current time.
// Errors are isolated per task: invariant violations flag the task, a held
// lock or lost compare-and-swap skips it, and transient errors are retried
// next tick. A fatal persistence error aborts the tick. Once ctx is
// cancelled no further task is started, but a started one runs to
// completion.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	now := s.now()
	work := context.WithoutCancel(ctx)

	list, err := s.store.ListTasks(work, store.TaskFilter{})
	if err != nil {
		return Report{}, fmt.Errorf("list tasks: %w", err)
	}

	var report Report
	for _, task := range list {
		if ctx.Err() != nil {
			return report, nil
		}
		report.Evaluated++

		step, err := s.machine.Evaluate(work, task.ID, now)
		if err == nil {
			if step.Changed() {
				report.Changed++
				s.logger.Info("task transitioned", "task", task.ID, "from", step.From, "to", step.To)
			}
			continue
		}

		switch class := domain.Classify(err); {
		case errors.Is(err, tasks.ErrRunInProgress), errors.Is(err, domain.ErrConflict):
			report.Skipped++
			s.logger.Debug("task skipped", "task", task.ID, "error", err)
		case class == domain.ClassFatal:
			return report, err
		case class == domain.ClassInvariant:
			report.Flagged++
			s.logger.Warn("task flagged", "task", task.ID, "error", err)
			if ferr := s.store.FlagTask(work, task.ID, err.Error()); ferr != nil {
				if domain.Classify(ferr) == domain.ClassFatal {
					return report, ferr
				}
				s.logger.Error("flag task failed", "task", task.ID, "error", ferr)
			}
		default:
			report.Failed++
			s.logger.Warn("task evaluation failed", "task", task.ID, "class", class, "error", err)
		}
	}

	if s.dispatcher != nil && ctx.Err() == nil {
		if _, err := s.dispatcher.Flush(work); err != nil {
			if domain.Classify(err) == domain.ClassFatal {
				return report, err
			}
			s.logger.Warn("outbound flush failed", "error", err)
		}
	}

	return report, nil
}

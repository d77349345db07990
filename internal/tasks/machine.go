// Package tasks owns the task lifecycle: which transitions are legal and
// how each one is carried out against persistence.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/JaimeStill/tally/internal/aggregator"
	"github.com/JaimeStill/tally/internal/dispatch"
	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/lock"
)

// ErrRunInProgress is returned when another run holds the task's lock.
var ErrRunInProgress = errors.New("task run already in progress")

var allowed = map[domain.Status][]domain.Status{
	domain.StatusDraft:              {domain.StatusActive},
	domain.StatusActive:             {domain.StatusClosed},
	domain.StatusClosed:             {domain.StatusAggregated},
	domain.StatusAggregated:         {domain.StatusNeedsReaggregation, domain.StatusAggregated},
	domain.StatusNeedsReaggregation: {domain.StatusAggregated},
}

// Allowed reports whether a task may move from one status to another.
func Allowed(from, to domain.Status) bool {
	return slices.Contains(allowed[from], to)
}

// Step reports what a call to the machine did. From equals To when nothing
// changed. Aggregation is the record written by the call, or the latest
// existing record when a requested run had nothing new to merge.
type Step struct {
	From        domain.Status
	To          domain.Status
	Aggregation *domain.Aggregation
	Skipped     bool
}

// Changed reports whether the task's status moved.
func (s Step) Changed() bool {
	return s.From != s.To
}

// Config tunes the machine.
type Config struct {
	// AutoReaggregate lets Evaluate rerun aggregation for tasks that
	// received late replies.
	AutoReaggregate bool
}

// Machine applies lifecycle transitions. Every transition runs under the
// task's lock and commits through a status compare-and-swap.
type Machine struct {
	store      store.Store
	aggregator *aggregator.Aggregator
	locker     lock.Locker
	cfg        Config
	logger     *slog.Logger
}

func New(s store.Store, agg *aggregator.Aggregator, locker lock.Locker, cfg Config, logger *slog.Logger) *Machine {
	return &Machine{
		store:      s,
		aggregator: agg,
		locker:     locker,
		cfg:        cfg,
		logger:     logger.With("system", "tasks"),
	}
}

// Evaluate applies at most one time-driven transition to the task as of now.
func (m *Machine) Evaluate(ctx context.Context, id domain.TaskID, now time.Time) (Step, error) {
	release, err := m.acquire(ctx, id)
	if err != nil {
		return Step{}, err
	}
	defer release()

	task, err := m.store.FindTask(ctx, id)
	if err != nil {
		return Step{}, err
	}
	step := Step{From: task.Status, To: task.Status}

	switch task.Status {
	case domain.StatusDraft:
		if now.Before(task.PublishAt) {
			return step, nil
		}
		return m.activate(ctx, task)

	case domain.StatusActive:
		if task.Deadline == nil || now.Before(*task.Deadline) {
			return step, nil
		}
		return m.run(ctx, task, "scheduler", now)

	case domain.StatusClosed:
		return m.run(ctx, task, "scheduler", now)

	case domain.StatusAggregated:
		n, err := m.store.CountUnaggregated(ctx, task.ID)
		if err != nil {
			return step, err
		}
		if n == 0 {
			return step, nil
		}
		if err := m.transition(ctx, m.store, task, domain.StatusNeedsReaggregation); err != nil {
			return step, err
		}
		m.logger.Info("late replies received", "task", task.ID, "unaggregated", n)
		step.To = domain.StatusNeedsReaggregation
		return step, nil

	case domain.StatusNeedsReaggregation:
		if !m.cfg.AutoReaggregate {
			return step, nil
		}
		return m.run(ctx, task, "scheduler", now)
	}

	return step, fmt.Errorf("%w: unknown status %q", domain.ErrInvariant, task.Status)
}

// Aggregate runs aggregation on demand for a task that is CLOSED,
// AGGREGATED, or NEEDS_REAGGREGATION.
func (m *Machine) Aggregate(ctx context.Context, id domain.TaskID, triggeredBy string, now time.Time) (Step, error) {
	release, err := m.acquire(ctx, id)
	if err != nil {
		return Step{}, err
	}
	defer release()

	task, err := m.store.FindTask(ctx, id)
	if err != nil {
		return Step{}, err
	}

	switch task.Status {
	case domain.StatusClosed, domain.StatusAggregated, domain.StatusNeedsReaggregation:
		return m.run(ctx, task, triggeredBy, now)
	}
	return Step{From: task.Status, To: task.Status}, fmt.Errorf(
		"%w: cannot aggregate a %s task", domain.ErrInvalidTransition, task.Status,
	)
}

func (m *Machine) activate(ctx context.Context, task *domain.Task) (Step, error) {
	step := Step{From: task.Status, To: task.Status}
	if err := task.Validate(); err != nil {
		return step, err
	}

	var missing []domain.TeacherID
	err := m.store.WithinTx(ctx, func(q store.Queries) error {
		if err := m.transition(ctx, q, task, domain.StatusActive); err != nil {
			return err
		}
		var err error
		missing, err = dispatch.Queue(ctx, q, task)
		return err
	})
	if err != nil {
		return step, err
	}

	if len(missing) > 0 {
		m.logger.Warn("targets without teacher record", "task", task.ID, "teachers", missing)
	}
	m.logger.Info("task published", "task", task.ID, "targets", len(task.Targets))

	step.To = domain.StatusActive
	return step, nil
}

// run aggregates the task. A task that already has an aggregation and no
// unaggregated replies is not re-run.
func (m *Machine) run(ctx context.Context, task *domain.Task, triggeredBy string, now time.Time) (Step, error) {
	step := Step{From: task.Status, To: task.Status}

	if task.Status == domain.StatusAggregated || task.Status == domain.StatusNeedsReaggregation {
		prior, err := m.store.ListAggregations(ctx, task.ID)
		if err != nil {
			return step, err
		}
		n, err := m.store.CountUnaggregated(ctx, task.ID)
		if err != nil {
			return step, err
		}
		if len(prior) > 0 && n == 0 {
			if task.Status == domain.StatusNeedsReaggregation {
				if err := m.transition(ctx, m.store, task, domain.StatusAggregated); err != nil {
					return step, err
				}
				step.To = domain.StatusAggregated
			}
			step.Aggregation = &prior[len(prior)-1]
			step.Skipped = true
			return step, nil
		}
	}

	path := []domain.Status{task.Status}
	if task.Status == domain.StatusActive {
		path = append(path, domain.StatusClosed)
	}
	path = append(path, domain.StatusAggregated)

	for i := 1; i < len(path); i++ {
		if !Allowed(path[i-1], path[i]) {
			return step, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, path[i-1], path[i])
		}
	}

	agg, err := m.aggregator.Run(ctx, task, aggregator.Plan{
		TriggeredBy: triggeredBy,
		Now:         now,
		Path:        path,
	})
	if err != nil {
		return step, err
	}

	step.To = domain.StatusAggregated
	step.Aggregation = agg
	return step, nil
}

func (m *Machine) transition(ctx context.Context, q store.Queries, task *domain.Task, to domain.Status) error {
	if !Allowed(task.Status, to) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, task.Status, to)
	}
	if err := q.SetTaskStatus(ctx, task.ID, task.Status, to); err != nil {
		return err
	}
	task.Status = to
	return nil
}

func (m *Machine) acquire(ctx context.Context, id domain.TaskID) (func(), error) {
	release, err := m.locker.TryLock(ctx, "task:"+id.String())
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, fmt.Errorf("task %s: %w", id, ErrRunInProgress)
		}
		return nil, domain.Transient("acquire task lock", err)
	}
	return release, nil
}

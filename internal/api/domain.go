package api

import (
	"github.com/JaimeStill/tally/internal/aggregator"
	"github.com/JaimeStill/tally/internal/config"
	"github.com/JaimeStill/tally/internal/dispatch"
	"github.com/JaimeStill/tally/internal/infrastructure"
	"github.com/JaimeStill/tally/internal/ingest"
	"github.com/JaimeStill/tally/internal/matcher"
	"github.com/JaimeStill/tally/internal/scheduler"
	"github.com/JaimeStill/tally/internal/tasks"
)

// dispatchAttempts is the number of sends tried per message within one
// flush. Later flushes retry up to the configured maximum.
const dispatchAttempts = 2

// Domain holds the engine systems the API and the scheduler share.
// Dispatcher and Poller are nil when mail is disabled.
type Domain struct {
	Aggregator *aggregator.Aggregator
	Machine    *tasks.Machine
	Dispatcher *dispatch.Dispatcher
	Poller     *ingest.Poller
	Scheduler  *scheduler.Scheduler
}

// NewDomain wires the engine over the shared infrastructure.
func NewDomain(cfg *config.Config, infra *infrastructure.Infrastructure) *Domain {
	logger := infra.Logger
	sched := &cfg.Scheduler

	agg := aggregator.New(infra.Store, infra.Storage, logger)
	machine := tasks.New(
		infra.Store,
		agg,
		infra.Locker,
		tasks.Config{AutoReaggregate: sched.Reaggregate()},
		logger,
	)

	d := &Domain{
		Aggregator: agg,
		Machine:    machine,
	}

	if transport := infra.Transport(); transport != nil {
		d.Dispatcher = dispatch.New(infra.Store, transport, dispatch.Config{
			MaxRetries:  sched.DispatchMaxRetries,
			Attempts:    dispatchAttempts,
			Backoff:     sched.DispatchBackoffDuration(),
			Concurrency: sched.DispatchWorkers,
		}, logger)

		d.Poller = ingest.New(
			infra.Store,
			transport,
			matcher.New(infra.Store, logger),
			infra.Storage,
			infra.Mail.Filter(),
			logger,
		)
	}

	d.Scheduler = scheduler.New(infra.Store, machine, d.Poller, d.Dispatcher, scheduler.Config{
		TaskInterval: sched.TaskIntervalDuration(),
		MailInterval: sched.MailIntervalDuration(),
	}, logger)

	return d
}

// Package lifecycle runs startup hooks, long-lived loops, and shutdown hooks
// around one cancellable context.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ReadinessChecker reports whether a subsystem can serve traffic.
type ReadinessChecker interface {
	Ready() bool
}

// Coordinator tracks startup hooks, background loops, and shutdown hooks.
// Loops drain before shutdown hooks run.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	startup sync.WaitGroup
	running sync.WaitGroup
	ready   atomic.Bool

	mu    sync.Mutex
	hooks []func()
	once  sync.Once
	done  chan struct{}
}

func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{ctx: ctx, cancel: cancel}
}

// Context is cancelled when Shutdown begins.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// OnStartup runs fn now, in its own goroutine. WaitForStartup blocks on it.
func (c *Coordinator) OnStartup(fn func()) {
	c.startup.Go(fn)
}

// OnShutdown registers fn to run once Context is cancelled and every loop
// has returned. Hooks run concurrently with each other.
func (c *Coordinator) OnShutdown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Go runs fn in its own goroutine with Context. Loops should return soon
// after ctx is cancelled; Shutdown waits for them, so a write already in
// progress can finish first.
func (c *Coordinator) Go(fn func(ctx context.Context)) {
	c.running.Go(func() { fn(c.ctx) })
}

// Ready reports whether WaitForStartup has returned and Shutdown has not begun.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// WaitForStartup blocks until every startup hook returns and marks the
// coordinator ready.
func (c *Coordinator) WaitForStartup() {
	c.startup.Wait()
	c.ready.Store(true)
}

// Shutdown cancels Context, waits for the loops started with Go, then runs
// the shutdown hooks. It returns an error if all of that takes longer than
// timeout. Later calls wait on the same shutdown.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.once.Do(func() {
		c.ready.Store(false)
		c.cancel()
		c.done = make(chan struct{})

		go func() {
			defer close(c.done)
			c.running.Wait()

			c.mu.Lock()
			hooks := c.hooks
			c.mu.Unlock()

			var wg sync.WaitGroup
			for _, fn := range hooks {
				wg.Go(fn)
			}
			wg.Wait()
		}()
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// Package progress provides the shared cooperative pause/abort token for a
// run. Exactly one Controller exists per top-level run; every nested
// sub-executor holds the same instance by reference.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAborted is returned by Suspend once Abort has been called. It is pure
// control flow: layers must propagate it unchanged and never fold it into a
// node-failure error.
var ErrAborted = errors.New("execution aborted")

// DefaultPollInterval bounds how long a paused run sleeps between checks.
// Pause and abort latency is bounded by this interval, not by node runtime.
const DefaultPollInterval = 50 * time.Millisecond

// Controller holds the pause/abort state of one run. Pausing toggles freely;
// aborting is one-way and idempotent.
type Controller struct {
	mu      sync.Mutex
	paused  bool
	aborted bool
	poll    time.Duration
}

// NewController creates a running controller with the default poll interval.
func NewController() *Controller {
	return &Controller{poll: DefaultPollInterval}
}

// NewControllerWithPoll creates a controller with a custom poll interval.
func NewControllerWithPoll(poll time.Duration) *Controller {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Controller{poll: poll}
}

// Pause makes subsequent Suspend calls block until Resume or Abort.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume releases a paused run.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Abort terminates the run. It is idempotent and irreversible: every
// in-flight and future Suspend call fails with ErrAborted.
func (c *Controller) Abort() {
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
}

// Paused reports whether the run is currently paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused && !c.aborted
}

// Aborted reports whether the run has been aborted.
func (c *Controller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Suspend is the single cancellation checkpoint. If the run is aborted it
// fails immediately with ErrAborted; if paused it blocks, polling at the
// configured interval, until resumed or aborted. Context cancellation is
// honored while blocked.
func (c *Controller) Suspend(ctx context.Context) error {
	for {
		c.mu.Lock()
		aborted, paused := c.aborted, c.paused
		c.mu.Unlock()

		if aborted {
			return ErrAborted
		}
		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

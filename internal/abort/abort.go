// Package abort is the cooperative cancellation signal shared by the
// controller and the running operation.
package abort

import "sync/atomic"

// Navigator resets the world's active navigation goal.
type Navigator interface {
	StopNavigation()
}

// Coordinator holds one process-wide abort flag. The controller only ever
// sets it (Abort); the running loop clears it when it observes it
// (Consume), and each new intent clears any leftover (Reset).
type Coordinator struct {
	flag     atomic.Bool
	requests atomic.Int64
	nav      Navigator
}

func New(nav Navigator) *Coordinator {
	return &Coordinator{nav: nav}
}

// Abort is idempotent and safe to call concurrently with a running loop.
func (c *Coordinator) Abort() {
	c.flag.Store(true)
	c.requests.Add(1)
	if c.nav != nil {
		c.nav.StopNavigation()
	}
}

func (c *Coordinator) Requested() bool { return c.flag.Load() }

// Consume reports whether an abort was pending and clears it. Exactly one
// caller observes each abort.
func (c *Coordinator) Consume() bool {
	return c.flag.CompareAndSwap(true, false)
}

// Reset clears a stale abort left by an operation that finished before it
// could observe it. It reports whether one was cleared.
func (c *Coordinator) Reset() bool {
	return c.flag.Swap(false)
}

func (c *Coordinator) Requests() int64 { return c.requests.Load() }

// Package waiter implements the one-shot broadcast primitive bridging the
// blocking fetch workers and the cooperative HTTP handlers: a single
// Publisher finishes exactly once, and any number of cloned Subscribers
// complete the instant it does, regardless of when they were created.
package waiter

import (
	"context"
	"sync"
)

// Publisher is held by the goroutine doing the work (a fetch worker). It
// may be finished exactly once; further calls to Finish are no-ops.
type Publisher struct {
	done chan struct{}
	once *sync.Once
}

// Finish releases every current and future Subscriber. Safe to call more
// than once or from a deferred statement covering an error path — only
// the first call has any effect, matching the "finished exactly once"
// contract; callers do not need to guard against double-finishing.
func (p *Publisher) Finish() {
	p.once.Do(func() { close(p.done) })
}

// Subscriber is cheap to copy: cloning it is just copying a struct holding
// a receive-only channel, which Go's runtime already treats as safe for
// any number of concurrent receivers. It carries no payload — completion
// means only "the work is done"; callers re-read the result from wherever
// the work was meant to land (the content store, for fetch tasks).
type Subscriber struct {
	done <-chan struct{}
}

// Wait blocks until Finish has been called on the originating Publisher,
// or ctx is canceled first. Cancellation only abandons this caller's
// wait — it has no effect on the publisher or on other subscribers.
func (s Subscriber) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewPair creates a fresh Publisher/Subscriber pair. The returned
// Subscriber may be cloned freely by assignment.
func NewPair() (*Publisher, Subscriber) {
	done := make(chan struct{})
	return &Publisher{done: done, once: &sync.Once{}}, Subscriber{done: done}
}

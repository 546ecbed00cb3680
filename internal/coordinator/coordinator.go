// Package coordinator deduplicates in-flight tarball downloads, bounds
// pending work, and dispatches tasks to the fetch worker pool. It is the
// sole point where concurrent requests for the same crate release
// coalesce into a single upstream download.
package coordinator

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/cratesmirror/mirror/internal/crate"
	"github.com/cratesmirror/mirror/internal/metrics"
	"github.com/cratesmirror/mirror/internal/waiter"
)

// ErrOverloaded is returned by Submit when the pending-task table is
// already at MaxPending.
var ErrOverloaded = errors.New("coordinator: too many pending tasks")

// Task is handed to a fetch worker: the metadata identifying what to
// download, and the publisher it must finish when done.
type Task struct {
	Meta crate.Metadata
	Pub  *waiter.Publisher
}

// Coordinator owns the TaskTable: at most one entry per crate.Metadata,
// capped at MaxPending, present exactly while a download is queued or
// running.
type Coordinator struct {
	maxPending int

	mu    sync.Mutex
	table map[crate.Metadata]waiter.Subscriber

	queue chan Task
}

// New builds a Coordinator with room for maxPending concurrent tasks. The
// dispatch queue is sized to maxPending so that enqueueing under the
// TaskTable mutex (required to keep submit atomic) can never block: the
// table's own capacity check guarantees the queue never receives more
// than maxPending outstanding sends between them.
func New(maxPending int) *Coordinator {
	return &Coordinator{
		maxPending: maxPending,
		table:      make(map[crate.Metadata]waiter.Subscriber, maxPending),
		queue:      make(chan Task, maxPending),
	}
}

// Tasks returns the channel fetch workers range over.
func (c *Coordinator) Tasks() <-chan Task {
	return c.queue
}

// Submit is idempotent per meta: a second Submit for a crate already
// in flight returns a clone of the existing subscriber instead of
// starting a second download. The lock is held across both the lookup
// and the enqueue so a racing second caller can never slip between them.
func (c *Coordinator) Submit(meta crate.Metadata) (waiter.Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.table[meta]; ok {
		return sub, nil
	}
	if len(c.table) >= c.maxPending {
		metrics.CoordinatorOverloaded.Inc()
		return waiter.Subscriber{}, ErrOverloaded
	}

	pub, sub := waiter.NewPair()
	c.table[meta] = sub
	c.queue <- Task{Meta: meta, Pub: pub}
	return sub, nil
}

// Unregister removes meta from the TaskTable. Workers call this only
// after Pub.Finish() has already released every subscriber, never
// before: a missing entry at this point is a bug, logged rather than
// panicking so a single inconsistency doesn't take the process down.
func (c *Coordinator) Unregister(meta crate.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.table[meta]; !ok {
		slog.Warn("coordinator: unregister of unknown task", "meta", meta.String())
		return
	}
	delete(c.table, meta)
}

// Len reports the current TaskTable size, for metrics and tests.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// MaxPending returns the configured cap.
func (c *Coordinator) MaxPending() int {
	return c.maxPending
}

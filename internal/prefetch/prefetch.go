// Package prefetch implements the optional pre-fetcher: it walks the
// current index snapshot, enqueues anything missing from the content
// store into the fetch coordinator, and backs off after repeated
// failures.
package prefetch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/cratesmirror/mirror/internal/coordinator"
	"github.com/cratesmirror/mirror/internal/crate"
	"github.com/cratesmirror/mirror/internal/index"
	"github.com/cratesmirror/mirror/internal/metrics"
	"github.com/cratesmirror/mirror/internal/store"
)

// maxConsecutiveFailures is the fail_count threshold: past this many
// consecutive submit failures in one pass, the pass is abandoned early;
// it will resume after the outer sleep.
const maxConsecutiveFailures = 10

// Prefetcher runs the optional background walk.
type Prefetcher struct {
	idx      *index.Store
	st       *store.Store
	coord    *coordinator.Coordinator
	interval time.Duration // PrefetchInterval
	outer    time.Duration // max(PrefetchInterval, Interval)
	limiter  *rate.Limiter
}

// New builds a Prefetcher. prefetchInterval paces submissions within a
// pass; syncInterval is the index synchronizer's own period, used to
// compute the between-passes sleep (max of the two).
func New(idx *index.Store, st *store.Store, coord *coordinator.Coordinator, prefetchInterval, syncInterval time.Duration) *Prefetcher {
	outer := prefetchInterval
	if syncInterval > outer {
		outer = syncInterval
	}
	// One token per PrefetchInterval models "sleep PrefetchInterval
	// between submissions" as a rate limit instead of a raw timer loop,
	// while still composing with ctx cancellation via limiter.Wait.
	limit := rate.Every(prefetchInterval)
	return &Prefetcher{
		idx:      idx,
		st:       st,
		coord:    coord,
		interval: prefetchInterval,
		outer:    outer,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Run executes the outer loop forever, until ctx is canceled.
func (p *Prefetcher) Run(ctx context.Context) {
	for {
		p.pass(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.outer):
		}
	}
}

// pass walks the current snapshot once, submitting any checksum missing
// from the content store, pacing submissions, and aborting early on
// sustained failure.
func (p *Prefetcher) pass(ctx context.Context) {
	snap := p.idx.Snapshot()

	var failCount int
	var submitted, skipped int
	for id, checksum := range snap {
		if ctx.Err() != nil {
			return
		}
		if _, ok := p.st.Get(checksum); ok {
			skipped++
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		meta := crate.Metadata{Identity: id, Checksum: checksum}
		sub, err := p.coord.Submit(meta)
		if err != nil {
			failCount++
			slog.Warn("prefetch: submit failed", "crate", meta.String(), "err", err)
			if failCount > maxConsecutiveFailures {
				slog.Warn("prefetch: too many consecutive failures, ending pass early", "fail_count", failCount)
				metrics.PrefetchPasses.WithLabelValues("aborted").Inc()
				return
			}
			continue
		}
		failCount = 0

		if err := sub.Wait(ctx); err != nil {
			return
		}
		submitted++
	}

	slog.Info("prefetch: pass complete", "submitted", submitted, "already_cached", skipped)
	metrics.PrefetchPasses.WithLabelValues("ok").Inc()
}

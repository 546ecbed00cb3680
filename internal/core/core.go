// Package core assembles the mirror's shared state into a single
// CoreContext, constructed once at startup and threaded explicitly into
// every component, rather than through package-level globals guarded by
// ad hoc mutexes: a long-running cache server with several independent
// background loops needs that state passed around explicitly, so two
// loops in tests (or two mirrors in one process) don't fight over the
// same package-level variables.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/cratesmirror/mirror/internal/coordinator"
	"github.com/cratesmirror/mirror/internal/gitsync"
	"github.com/cratesmirror/mirror/internal/index"
	"github.com/cratesmirror/mirror/internal/metrics"
	"github.com/cratesmirror/mirror/internal/prefetch"
	"github.com/cratesmirror/mirror/internal/store"
)

// Config is the full set of operator-supplied settings needed to build
// a CoreContext.
type Config struct {
	StorePath string

	IndexDir      string
	IndexUpstream string
	IndexOrigin   string
	DownloadURL   string
	APIBaseURL    string
	SyncInterval  time.Duration
	AuthorName    string
	AuthorEmail   string

	URLTemplate string
	Workers     int
	FetchTimeout time.Duration
	MaxPending   int

	// PrefetchInterval enables the pre-fetcher when positive.
	PrefetchInterval time.Duration

	MetricsAddr string
}

// CoreContext holds every long-lived collaborator the mirror's
// components share: the content store, the index snapshot cell, and the
// fetch coordinator they all submit to or read from.
type CoreContext struct {
	Config Config

	Store       *store.Store
	Index       *index.Store
	Coordinator *coordinator.Coordinator
	GitSync     *gitsync.Synchronizer
	Prefetcher  *prefetch.Prefetcher
}

// New constructs a CoreContext from cfg. It opens the content store
// (failing fast on an unwritable path) but does not start any
// background loop — that's left to the caller, keeping startup failures
// and runtime errors on separate paths.
func New(cfg Config) (*CoreContext, error) {
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("core: sync interval must be positive, got %s", cfg.SyncInterval)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("core: open content store: %w", err)
	}

	idx := index.NewStore()
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = 64
	}
	coord := coordinator.New(maxPending)
	metrics.SetPendingSource(coord.Len)

	sync := gitsync.New(gitsync.Config{
		IndexDir:    cfg.IndexDir,
		Upstream:    cfg.IndexUpstream,
		Origin:      cfg.IndexOrigin,
		DL:          cfg.DownloadURL,
		API:         cfg.APIBaseURL,
		Interval:    cfg.SyncInterval,
		AuthorName:  cfg.AuthorName,
		AuthorEmail: cfg.AuthorEmail,
	}, idx)

	var pf *prefetch.Prefetcher
	if cfg.PrefetchInterval > 0 {
		pf = prefetch.New(idx, st, coord, cfg.PrefetchInterval, cfg.SyncInterval)
	}

	return &CoreContext{
		Config:      cfg,
		Store:       st,
		Index:       idx,
		Coordinator: coord,
		GitSync:     sync,
		Prefetcher:  pf,
	}, nil
}

// Close releases resources held by the CoreContext.
func (c *CoreContext) Close() error {
	return c.Store.Close()
}

// InitIndex performs the one-time index clone/rewrite if needed, then
// builds the first in-memory snapshot so the download endpoint has
// something to serve against before the sync loop's first pass.
func (c *CoreContext) InitIndex(ctx context.Context) error {
	if err := c.GitSync.Init(ctx); err != nil {
		return err
	}
	snap, err := index.BuildSnapshot(c.Config.IndexDir)
	if err != nil {
		return fmt.Errorf("core: build initial snapshot: %w", err)
	}
	c.Index.Swap(snap)
	return nil
}

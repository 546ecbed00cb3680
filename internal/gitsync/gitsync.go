// Package gitsync keeps the local index clone synchronized with the
// upstream crates.io-index via the system git binary, and rebuilds the
// index.Store's snapshot after every successful pass. The VCS tool
// itself is treated as an external collaborator: this package specifies
// which operations are issued, not how git implements them.
package gitsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cratesmirror/mirror/internal/index"
	"github.com/cratesmirror/mirror/internal/metrics"
)

// Config carries the synchronizer's git-level settings.
type Config struct {
	IndexDir string
	Upstream string
	Origin   string
	DL       string
	API      string
	Interval time.Duration

	// AuthorName / AuthorEmail are used both for the first-clone commit
	// identity and the local git user.name/user.email config: one fixed
	// identity serves both (see SPEC_FULL.md).
	AuthorName  string
	AuthorEmail string
}

// Synchronizer owns the periodic pull/push/rebuild loop.
type Synchronizer struct {
	cfg   Config
	store *index.Store
}

// New builds a Synchronizer targeting store.
func New(cfg Config, store *index.Store) *Synchronizer {
	return &Synchronizer{cfg: cfg, store: store}
}

// Init performs the one-time first-clone setup, if and only if
// cfg.IndexDir has no .git directory yet. Errors here are fatal at
// startup.
func (s *Synchronizer) Init(ctx context.Context) error {
	gitDir := filepath.Join(s.cfg.IndexDir, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		return nil // already initialized; skip wholesale.
	}

	if err := runGit(ctx, "", "clone", s.cfg.Upstream, s.cfg.IndexDir, "--origin", "upstream"); err != nil {
		return fmt.Errorf("gitsync: clone: %w", err)
	}
	if err := runGit(ctx, s.cfg.IndexDir, "remote", "add", "origin", s.cfg.Origin); err != nil {
		return fmt.Errorf("gitsync: add origin remote: %w", err)
	}

	if err := s.rewriteConfigJSON(); err != nil {
		return fmt.Errorf("gitsync: rewrite config.json: %w", err)
	}

	if err := runGit(ctx, s.cfg.IndexDir, "config", "user.email", s.cfg.AuthorEmail); err != nil {
		return fmt.Errorf("gitsync: set user.email: %w", err)
	}
	if err := runGit(ctx, s.cfg.IndexDir, "config", "user.name", s.cfg.AuthorName); err != nil {
		return fmt.Errorf("gitsync: set user.name: %w", err)
	}

	author := fmt.Sprintf("%s <%s>", s.cfg.AuthorName, s.cfg.AuthorEmail)
	if err := runGit(ctx, s.cfg.IndexDir, "commit", "--all", "--message", "update download url", "--author", author); err != nil {
		return fmt.Errorf("gitsync: initial commit: %w", err)
	}

	return nil
}

// rewriteConfigJSON replaces the "dl" field and (per SPEC_FULL.md's
// supplement) the "api" field in config.json, preserving every other
// key. "api" is replaced only when cfg.API is non-empty; otherwise the
// upstream value is kept.
func (s *Synchronizer) rewriteConfigJSON() error {
	path := filepath.Join(s.cfg.IndexDir, "config.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config.json: %w", err)
	}
	doc["dl"] = s.cfg.DL
	if s.cfg.API != "" {
		doc["api"] = s.cfg.API
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Run executes the sync loop forever, until ctx is canceled. Every step
// failure is logged and treated as non-fatal: the loop sleeps and
// retries next cycle, leaving the previous snapshot in place.
func (s *Synchronizer) Run(ctx context.Context) {
	for {
		if err := s.pass(ctx); err != nil {
			slog.Error("gitsync: pass failed", "err", err)
			metrics.SyncPasses.WithLabelValues("error").Inc()
		} else {
			slog.Info("gitsync: pass succeeded")
			metrics.SyncPasses.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Interval):
		}
	}
}

func (s *Synchronizer) pass(ctx context.Context) error {
	if err := s.pullUpstream(ctx); err != nil {
		return fmt.Errorf("pull upstream: %w", err)
	}
	if err := s.pushOrigin(ctx); err != nil {
		return fmt.Errorf("push origin: %w", err)
	}

	snap, err := index.BuildSnapshot(s.cfg.IndexDir)
	if err != nil {
		return fmt.Errorf("rebuild snapshot: %w", err)
	}
	s.store.Swap(snap)
	return nil
}

func (s *Synchronizer) pullUpstream(ctx context.Context) error {
	if err := runGit(ctx, s.cfg.IndexDir, "fetch", "upstream", "--quiet"); err != nil {
		return err
	}
	return runGit(ctx, s.cfg.IndexDir, "rebase", "upstream/master", "master", "--quiet")
}

func (s *Synchronizer) pushOrigin(ctx context.Context) error {
	return runGit(ctx, s.cfg.IndexDir, "push", "--force", "origin", "--quiet")
}

// runGit invokes the system git binary. dir is the working directory
// (empty means the caller's own cwd, used only for the initial clone).
func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

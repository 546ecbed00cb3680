// Package index maintains the in-memory projection of the crates.io-index
// clone: an immutable Snapshot mapping crate identities to their
// authoritative checksum, published atomically so readers never observe
// a partial merge.
package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cratesmirror/mirror/internal/crate"
)

// Snapshot is an immutable projection of the index. Never mutate a
// Snapshot after BuildSnapshot returns it; build a new one and Swap it in.
type Snapshot map[crate.Identity]crate.Checksum

// indexLine is one JSON-lines record from a crates.io-index file.
type indexLine struct {
	Name  string `json:"name"`
	Vers  string `json:"vers"`
	Cksum string `json:"cksum"`
}

// Store holds the current Snapshot behind an atomic pointer: Lookup never
// blocks a concurrent Swap and vice versa, and every Lookup sees one
// whole snapshot, never a mix of two.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates an empty Store. Lookups against it miss until the
// first Swap.
func NewStore() *Store {
	s := &Store{}
	empty := make(Snapshot)
	s.current.Store(&empty)
	return s
}

// Lookup returns the checksum for id under the currently published
// snapshot.
func (s *Store) Lookup(id crate.Identity) (crate.Checksum, bool) {
	snap := *s.current.Load()
	c, ok := snap[id]
	return c, ok
}

// Snapshot returns the currently published snapshot, for callers (the
// pre-fetcher) that need to range over the whole mapping. The returned map must be treated as read-only.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Swap atomically replaces the published snapshot. Old snapshots are
// dropped once no reader holds a reference to them — ordinary Go GC,
// since Snapshot is a plain map behind a pointer.
func (s *Store) Swap(snap Snapshot) {
	s.current.Store(&snap)
}

// BuildSnapshot walks indexDir and returns the Snapshot it describes.
// Minimum depth 1: files directly at the root are skipped, since the
// root only holds config.json. Any directory or file entry whose name
// contains "." is skipped entirely — this is what filters out ".git"
// and similar, and is preserved even though it would also skip a
// hypothetical crate name containing a dot, since upstream's naming
// rules guarantee that never happens. Each remaining regular file is
// parsed as JSON-lines.
func BuildSnapshot(indexDir string) (Snapshot, error) {
	snap := make(Snapshot)

	entries, err := os.ReadDir(indexDir)
	if err != nil {
		return nil, fmt.Errorf("index: read %s: %w", indexDir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue // min_depth >= 1: skip files directly at the index root
		}
		if strings.Contains(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(indexDir, e.Name())
		if err := walkShardDir(dir, snap); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

// walkShardDir recurses through one top-level shard directory (e.g. "se",
// which holds "rd/serde"), skipping any further directory entries whose name
// contains a dot, and parsing every regular file it finds as JSON-lines.
func walkShardDir(dir string, snap Snapshot) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("index: read %s: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if strings.Contains(e.Name(), ".") {
				continue
			}
			if err := walkShardDir(path, snap); err != nil {
				return err
			}
			continue
		}
		if strings.Contains(e.Name(), ".") {
			continue
		}
		parseIndexFile(path, snap)
	}
	return nil
}

// parseIndexFile reads one index file's JSON-lines records into snap. A
// malformed line is an IndexParseError condition: every skipped line is
// logged with the offending file, line number, and reason, and parsing
// continues with the next line rather than aborting the file.
func parseIndexFile(path string, snap Snapshot) {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("index: open file failed", "path", path, "err", err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec indexLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			slog.Warn("index: skipping malformed line", "path", path, "line", lineNo, "reason", "invalid JSON", "err", err)
			continue
		}
		if rec.Name == "" || rec.Vers == "" || rec.Cksum == "" {
			slog.Warn("index: skipping malformed line", "path", path, "line", lineNo, "reason", "missing name, vers, or cksum")
			continue
		}
		checksum, err := crate.ParseChecksum(rec.Cksum)
		if err != nil {
			slog.Warn("index: skipping malformed line", "path", path, "line", lineNo, "reason", "invalid checksum", "err", err)
			continue
		}
		snap[crate.Identity{Name: rec.Name, Version: rec.Vers}] = checksum
	}
	if err := scanner.Err(); err != nil {
		slog.Error("index: scan error", "path", path, "err", err)
	}
}

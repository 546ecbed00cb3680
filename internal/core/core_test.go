package core

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not found in PATH")
	}
}

func runGitT(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func TestNewOpensStoreAndWiresCoordinator(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		StorePath:    filepath.Join(dir, "contents.db"),
		IndexDir:     filepath.Join(dir, "index"),
		SyncInterval: time.Minute,
		MaxPending:   16,
	}

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 16, c.Coordinator.MaxPending())
	assert.Nil(t, c.Prefetcher, "prefetcher stays disabled when PrefetchInterval is zero")
}

func TestNewEnablesPrefetcherWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		StorePath:        filepath.Join(dir, "contents.db"),
		IndexDir:         filepath.Join(dir, "index"),
		SyncInterval:     time.Minute,
		MaxPending:       16,
		PrefetchInterval: time.Second,
	}

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Prefetcher)
}

func TestInitIndexClonesAndBuildsInitialSnapshot(t *testing.T) {
	requireGit(t)

	upstream := t.TempDir()
	runGitT(t, upstream, "init", "--initial-branch=master")
	runGitT(t, upstream, "config", "user.email", "upstream@example.com")
	runGitT(t, upstream, "config", "user.name", "upstream")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "config.json"), []byte(`{"dl":"https://old.example.com"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(upstream, "se", "rd"), 0o755))
	cksum := strings.Repeat("a", 64)
	require.NoError(t, os.WriteFile(
		filepath.Join(upstream, "se", "rd", "serde"),
		[]byte(`{"name":"serde","vers":"1.0.0","cksum":"`+cksum+`"}`+"\n"),
		0o644,
	))
	runGitT(t, upstream, "add", "-A")
	runGitT(t, upstream, "commit", "-m", "initial index")

	origin := t.TempDir()
	runGitT(t, origin, "init", "--bare", "--initial-branch=master")

	dir := t.TempDir()
	cfg := Config{
		StorePath:     filepath.Join(dir, "contents.db"),
		IndexDir:      filepath.Join(dir, "index"),
		IndexUpstream: upstream,
		IndexOrigin:   origin,
		DownloadURL:   "https://dl.example.com",
		SyncInterval:  time.Minute,
		AuthorName:    "Mirror Bot",
		AuthorEmail:   "mirror@example.com",
		MaxPending:    16,
	}
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.InitIndex(t.Context()))

	snap := c.Index.Snapshot()
	assert.NotEmpty(t, snap)
}

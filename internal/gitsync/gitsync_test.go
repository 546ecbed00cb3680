package gitsync

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratesmirror/mirror/internal/index"
)

// requireGit skips the test if the git binary is unavailable, so the
// suite degrades gracefully on a stripped-down CI image.
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

// newUpstreamFixture builds a local git repo on branch master with a
// config.json and one index entry, standing in for the upstream
// crates.io-index clone target.
func newUpstreamFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGitT(t, dir, "init", "--initial-branch=master")
	runGitT(t, dir, "config", "user.email", "upstream@example.com")
	runGitT(t, dir, "config", "user.name", "upstream")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"dl":"https://old.example.com","api":"https://old-api.example.com"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "se", "rd"), 0o755))
	cksum := strings.Repeat("a", 64)
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "se", "rd", "serde"),
		[]byte(`{"name":"serde","vers":"1.0.0","cksum":"`+cksum+`"}`+"\n"),
		0o644,
	))
	runGitT(t, dir, "add", "-A")
	runGitT(t, dir, "commit", "-m", "initial index")
	return dir
}

// newOriginFixture builds a bare repo to act as the push destination.
func newOriginFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGitT(t, dir, "init", "--bare", "--initial-branch=master")
	return dir
}

func TestInitClonesAndRewritesConfig(t *testing.T) {
	requireGit(t)

	upstream := newUpstreamFixture(t)
	origin := newOriginFixture(t)
	indexDir := filepath.Join(t.TempDir(), "index")

	cfg := Config{
		IndexDir:    indexDir,
		Upstream:    upstream,
		Origin:      origin,
		DL:          "https://dl.example.com",
		API:         "https://api.example.com",
		Interval:    time.Minute,
		AuthorName:  "Mirror Bot",
		AuthorEmail: "mirror@example.com",
	}
	s := New(cfg, index.NewStore())

	require.NoError(t, s.Init(context.Background()))

	// .git now exists; a second Init call must be a no-op.
	_, err := os.Stat(filepath.Join(indexDir, ".git"))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))

	raw, err := os.ReadFile(filepath.Join(indexDir, "config.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "https://dl.example.com", doc["dl"])
	assert.Equal(t, "https://api.example.com", doc["api"])
}

func TestPullAndPushCycle(t *testing.T) {
	requireGit(t)

	upstream := newUpstreamFixture(t)
	origin := newOriginFixture(t)
	indexDir := filepath.Join(t.TempDir(), "index")

	cfg := Config{
		IndexDir:    indexDir,
		Upstream:    upstream,
		Origin:      origin,
		DL:          "https://dl.example.com",
		API:         "https://api.example.com",
		Interval:    time.Minute,
		AuthorName:  "Mirror Bot",
		AuthorEmail: "mirror@example.com",
	}
	idxStore := index.NewStore()
	s := New(cfg, idxStore)
	require.NoError(t, s.Init(context.Background()))

	require.NoError(t, s.pass(context.Background()))

	// After the pass, the snapshot reflects the upstream index entry.
	snap := idxStore.Snapshot()
	assert.NotEmpty(t, snap)

	// And origin's bare repo now carries the pushed master ref.
	cmd := exec.Command("git", "log", "-1", "--format=%s", "master")
	cmd.Dir = origin
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "update download url")
}

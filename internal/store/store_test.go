package store

import (
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratesmirror/mirror/internal/crate"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contents.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetAbsent(t *testing.T) {
	s := openTemp(t)
	_, ok := s.Get(crate.Checksum{})
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	s := openTemp(t)
	data := []byte("hello crate tarball")
	sum := crate.Checksum(sha256.Sum256(data))

	replaced, err := s.Put(sum, data)
	require.NoError(t, err)
	assert.False(t, replaced)

	got, ok := s.Get(sum)
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestPutExistingKeyIsReplacedNotError(t *testing.T) {
	s := openTemp(t)
	data := []byte("identical bytes")
	sum := crate.Checksum(sha256.Sum256(data))

	_, err := s.Put(sum, data)
	require.NoError(t, err)

	replaced, err := s.Put(sum, data)
	require.NoError(t, err)
	assert.True(t, replaced)
}

func TestInvariantGetMatchesChecksum(t *testing.T) {
	s := openTemp(t)
	data := []byte("the quick brown fox")
	sum := crate.Checksum(sha256.Sum256(data))
	_, err := s.Put(sum, data)
	require.NoError(t, err)

	got, ok := s.Get(sum)
	require.True(t, ok)
	assert.Equal(t, sum, crate.Checksum(sha256.Sum256(got)))
}

package crate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChecksumRoundTrip(t *testing.T) {
	hexStr := strings.Repeat("ab", ChecksumSize)
	c, err := ParseChecksum(hexStr)
	require.NoError(t, err)
	assert.Equal(t, hexStr, c.String())
}

func TestParseChecksumBadLength(t *testing.T) {
	_, err := ParseChecksum("abcd")
	assert.Error(t, err)
}

func TestIdentityCaseSensitive(t *testing.T) {
	a := Identity{Name: "Serde", Version: "1.0.0"}
	b := Identity{Name: "serde", Version: "1.0.0"}
	assert.NotEqual(t, a, b)
}

func TestShardPath(t *testing.T) {
	cases := []struct {
		name string
		want []string
	}{
		{"a", []string{"1", "a"}},
		{"ab", []string{"2", "ab"}},
		{"abc", []string{"3", "a", "abc"}},
		{"serde", []string{"se", "rd", "serde"}},
		{"Serde", []string{"se", "rd", "serde"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ShardPath(tc.name), "name=%s", tc.name)
	}
}

func TestBytesSizeString(t *testing.T) {
	assert.Equal(t, "512 B", BytesSize(512).String())
	assert.Equal(t, "1.000 KB", BytesSize(1024).String())
	assert.Equal(t, "1.000 MB", BytesSize(1024*1024).String())
	assert.Equal(t, "1.000 GB", BytesSize(1024*1024*1024).String())
}

func TestMetadataString(t *testing.T) {
	m := Metadata{Identity: Identity{Name: "serde", Version: "1.0.0"}}
	assert.Contains(t, m.String(), "serde-1.0.0[")
}

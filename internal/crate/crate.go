// Package crate holds the value types shared across the mirror: crate
// identities, their authoritative metadata, and the on-disk shard layout
// of the crates.io-index.
package crate

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ChecksumSize is the width of a SHA-256 digest in bytes.
const ChecksumSize = 32

// Checksum is the binary form of a crate's SHA-256. Hex is only used at
// the edges: index files and log lines.
type Checksum [ChecksumSize]byte

// String renders the checksum as lowercase hex, for logs.
func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// ParseChecksum decodes a 64-character hex string, as found in a
// crates.io-index JSON line's "cksum" field.
func ParseChecksum(hexStr string) (Checksum, error) {
	var c Checksum
	if len(hexStr) != ChecksumSize*2 {
		return c, fmt.Errorf("crate: checksum must be %d hex chars, got %d", ChecksumSize*2, len(hexStr))
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return c, fmt.Errorf("crate: decode checksum: %w", err)
	}
	copy(c[:], b)
	return c, nil
}

// Identity names a crate release. Equality and map-key hashing are
// case-sensitive on both fields, matching the upstream index's own
// identity rules; only the on-disk shard path is lowercased (see
// ShardPath).
type Identity struct {
	Name    string
	Version string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s-%s", i.Name, i.Version)
}

// Metadata is a crate identity plus the checksum the index authoritatively
// assigns to it. Two Metadata values with the same Identity but different
// Checksum are distinct tasks to the fetch coordinator.
type Metadata struct {
	Identity
	Checksum Checksum
}

func (m Metadata) String() string {
	return fmt.Sprintf("%s-%s[%s]", m.Name, m.Version, m.Checksum)
}

// ShardPath returns the path, relative to an index checkout root, at
// which a crate named n's index file lives:
//
//	len 1       -> 1/n
//	len 2       -> 2/n
//	len 3       -> 3/n[0]/n
//	len >= 4    -> n[0:2]/n[2:4]/n
//
// The name is lowercased first: the index filesystem path is derived
// from a lowercased name even though identity comparisons elsewhere
// stay case-sensitive.
func ShardPath(name string) []string {
	lower := strings.ToLower(name)
	switch {
	case len(lower) == 1:
		return []string{"1", lower}
	case len(lower) == 2:
		return []string{"2", lower}
	case len(lower) == 3:
		return []string{"3", lower[:1], lower}
	default:
		return []string{lower[0:2], lower[2:4], lower}
	}
}

// BytesSize renders a byte count the way the original mirror's log lines
// do: whichever of B/KB/MB/GB keeps the value readable.
type BytesSize int64

func (b BytesSize) String() string {
	const unit = 1024
	n := float64(b)
	switch {
	case b < unit:
		return fmt.Sprintf("%d B", int64(b))
	case b < unit*unit:
		return fmt.Sprintf("%.3f KB", n/unit)
	case b < unit*unit*unit:
		return fmt.Sprintf("%.3f MB", n/(unit*unit))
	default:
		return fmt.Sprintf("%.3f GB", n/(unit*unit*unit))
	}
}

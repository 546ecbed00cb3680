//go:build crates_debug

package store

import (
	"bytes"
	"log/slog"

	"github.com/cratesmirror/mirror/internal/crate"
)

// debugAssertReplace checks, only in builds tagged crates_debug, that a
// replace at an existing checksum key never rewrites different bytes.
// SHA-256 collision resistance guarantees this cannot happen; this is a
// cheap tripwire for that guarantee, not a runtime safety net, so it is
// compiled out of release builds.
func debugAssertReplace(checksum crate.Checksum, existing, incoming []byte) {
	if !bytes.Equal(existing, incoming) {
		slog.Error("store: BUG same checksum mapped to different bytes", "checksum", checksum.String())
	}
}

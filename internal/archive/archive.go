// Package archive implements the operator-triggered backup feature: a
// single .tar.zst snapshot of the content store's bbolt file.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Snapshot writes a .tar.zst archive at destPath containing a single
// entry for the bbolt database file at dbPath. The file is copied byte
// for byte without opening it through bbolt and without taking any lock,
// so writes made to the store during the copy are not coordinated with;
// if the file grows past the size recorded at the start, the copy fails.
func Snapshot(dbPath, destPath string) error {
	fi, err := os.Stat(dbPath)
	if err != nil {
		return fmt.Errorf("archive: stat store file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("archive: create destination dir: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("archive: create archive file: %w", err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("archive: new zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	in, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("archive: open store file: %w", err)
	}
	defer in.Close()

	hdr := &tar.Header{
		Name:    filepath.Base(dbPath),
		Mode:    0o644,
		Size:    fi.Size(),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: write tar header: %w", err)
	}
	if _, err := io.Copy(tw, in); err != nil {
		return fmt.Errorf("archive: copy store contents: %w", err)
	}

	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cratesmirror/mirror/internal/crate"
	"github.com/cratesmirror/mirror/internal/index"
	"github.com/cratesmirror/mirror/internal/store"
)

// sidecarEntry is one exported record per crate release: its identity,
// checksum, and whether the mirror currently holds its tarball. The
// entries come from a snapshot this command builds from the index
// checkout on disk with index.BuildSnapshot, the same parser the
// synchronizer uses; a running server's in-memory snapshot is not read,
// so the export reflects the checkout as it is when the command runs.
type sidecarEntry struct {
	Name     string `json:"name"`
	Version  string `json:"vers"`
	Checksum string `json:"cksum"`
	Cached   bool   `json:"cached"`
}

var exportIndexCmd = &cobra.Command{
	Use:   "export-index",
	Short: "Export one sidecar JSON file per crate release, with cache status",
	RunE:  runExportIndex,
}

func init() {
	flags := exportIndexCmd.Flags()
	flags.String("index-dir", "crates.io-index", "Local checkout directory for the index")
	flags.String("store-path", "contents.db", "Path to the bbolt content store file")
	flags.String("out", "sidecars", "Output directory for sidecar files")
	flags.Int("concurrency", defaultExportConcurrency(), "Number of concurrent sidecar writers")
}

func defaultExportConcurrency() int {
	n := runtime.NumCPU() * 4
	if n > 64 {
		n = 64
	}
	if n < 1 {
		n = 1
	}
	return n
}

func runExportIndex(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	indexDir, _ := flags.GetString("index-dir")
	storePath, _ := flags.GetString("store-path")
	outDir, _ := flags.GetString("out")
	concurrency, _ := flags.GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = defaultExportConcurrency()
	}

	snap, err := index.BuildSnapshot(indexDir)
	if err != nil {
		return fmt.Errorf("export-index: build snapshot: %w", err)
	}
	if len(snap) == 0 {
		return fmt.Errorf("export-index: no entries found under %s", indexDir)
	}

	st, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("export-index: %w", err)
	}
	defer st.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("export-index: %w", err)
	}

	type job struct {
		id       crate.Identity
		checksum crate.Checksum
	}
	jobs := make(chan job, concurrency*2)
	errCh := make(chan error, concurrency)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			if err := writeSidecar(outDir, st, j.id, j.checksum); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go worker()
	}

	for id, checksum := range snap {
		jobs <- job{id: id, checksum: checksum}
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return fmt.Errorf("export-index: %w", err)
	}

	fmt.Printf("exported %d sidecar files to %s\n", len(snap), outDir)
	return nil
}

func writeSidecar(outDir string, st *store.Store, id crate.Identity, checksum crate.Checksum) error {
	_, cached := st.Get(checksum)

	entry := sidecarEntry{
		Name:     id.Name,
		Version:  id.Version,
		Checksum: checksum.String(),
		Cached:   cached,
	}
	body, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	shard := crate.ShardPath(id.Name)
	dir := filepath.Join(append([]string{outDir}, shard[:len(shard)-1]...)...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	fileName := fmt.Sprintf("%s-%s.json", shard[len(shard)-1], id.Version)
	return os.WriteFile(filepath.Join(dir, fileName), body, 0o644)
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cratesmirror/mirror/internal/archive"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the content store into a .tar.zst archive",
	RunE:  runBackup,
}

func init() {
	flags := backupCmd.Flags()
	flags.String("store-path", "contents.db", "Path to the bbolt content store file")
	flags.String("out", "", "Destination archive path (default: backup-<timestamp>.tar.zst)")
}

func runBackup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	storePath, _ := flags.GetString("store-path")
	out, _ := flags.GetString("out")
	if out == "" {
		out = fmt.Sprintf("backup-%s.tar.zst", time.Now().Format("20060102-150405"))
	}

	if err := archive.Snapshot(storePath, out); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Println("wrote", out)
	return nil
}

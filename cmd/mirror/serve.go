package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cratesmirror/mirror/internal/core"
	"github.com/cratesmirror/mirror/internal/fetchworker"
	"github.com/cratesmirror/mirror/internal/httpapi"
	"github.com/cratesmirror/mirror/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror: fetch workers, index sync, pre-fetcher, and the download endpoint",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("store-path", "contents.db", "Path to the bbolt content store file")
	flags.String("index-dir", "crates.io-index", "Local checkout directory for the index")
	flags.String("index-upstream", "https://github.com/rust-lang/crates.io-index.git", "Upstream index git URL")
	flags.String("index-origin", "", "Origin remote git URL the rewritten index is pushed to")
	flags.String("download-url", "", "Public download base URL rewritten into the index's config.json dl field")
	flags.String("api-url", "", "Public API base URL rewritten into the index's config.json api field")
	flags.Duration("sync-interval", 5*time.Minute, "Interval between index sync passes")
	flags.String("author-name", "Mirror Bot", "Git author name used for index rewrite commits")
	flags.String("author-email", "mirror@example.com", "Git author email used for index rewrite commits")
	flags.String("url-template", "https://static.crates.io/crates/{crate}/{crate}-{version}.crate", "Upstream tarball URL template")
	flags.Int("workers", 8, "Number of concurrent fetch workers")
	flags.Duration("fetch-timeout", 30*time.Second, "Per-download HTTP timeout")
	flags.Int("max-pending", 256, "Maximum concurrent in-flight fetch tasks")
	flags.Duration("prefetch-interval", 0, "Enable the pre-fetcher with this pacing interval (0 disables it)")
	flags.String("listen", ":8080", "Download endpoint listen address")
	flags.String("metrics-listen", ":9090", "Metrics endpoint listen address (empty disables it)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	cfg := core.Config{}
	cfg.StorePath, _ = flags.GetString("store-path")
	cfg.IndexDir, _ = flags.GetString("index-dir")
	cfg.IndexUpstream, _ = flags.GetString("index-upstream")
	cfg.IndexOrigin, _ = flags.GetString("index-origin")
	cfg.DownloadURL, _ = flags.GetString("download-url")
	cfg.APIBaseURL, _ = flags.GetString("api-url")
	cfg.SyncInterval, _ = flags.GetDuration("sync-interval")
	cfg.AuthorName, _ = flags.GetString("author-name")
	cfg.AuthorEmail, _ = flags.GetString("author-email")
	cfg.URLTemplate, _ = flags.GetString("url-template")
	cfg.Workers, _ = flags.GetInt("workers")
	cfg.FetchTimeout, _ = flags.GetDuration("fetch-timeout")
	cfg.MaxPending, _ = flags.GetInt("max-pending")
	cfg.PrefetchInterval, _ = flags.GetDuration("prefetch-interval")
	listen, _ := flags.GetString("listen")
	cfg.MetricsAddr, _ = flags.GetString("metrics-listen")

	cc, err := core.New(cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer cc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cc.InitIndex(ctx); err != nil {
		return fmt.Errorf("serve: initial index sync: %w", err)
	}

	tmpl, err := fetchworker.NewURLTemplate(cfg.URLTemplate)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	pool := fetchworker.NewPool(cfg.Workers, cc.Store, cc.Coordinator, tmpl, cfg.FetchTimeout)

	metrics.Serve(cfg.MetricsAddr)

	go pool.Run(ctx)
	go cc.GitSync.Run(ctx)
	if cc.Prefetcher != nil {
		go cc.Prefetcher.Run(ctx)
	}

	api := httpapi.New(cc.Index, cc.Store, cc.Coordinator)
	httpSrv := &http.Server{Addr: listen, Handler: api.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("serve: listening", "addr", listen)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cromap-crawler/internal/api"
	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var (
		headless   bool
		statusAddr string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the directory and write the deduplicated export",
		Long: `Walks the directory from the configured base URL in batches, serving
pages from the fetch cache when possible. The fetch cache is persisted on exit
even when the crawl is interrupted; the export is written only after the
frontier drains.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if cmd.Flags().Changed("headless") {
				cfg.Headless.Enabled = headless
			}
			if statusAddr != "" {
				cfg.Server.Enabled = true
				cfg.Server.Addr = statusAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			rt = &runtime{cfg: cfg, logger: rt.logger}
			return runCrawl(cmd.Context(), rt)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "fetch pages with headless Chrome instead of plain HTTP")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve /healthz, /metrics and /v1/stats on this address while crawling")
	return cmd
}

func runCrawl(parent context.Context, rt *runtime) (err error) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	logger := a.Logger()
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()
	defer func() {
		if perr := a.PersistCache(context.WithoutCancel(ctx)); perr != nil {
			err = errors.Join(err, perr)
		}
	}()

	engine, err := a.NewEngine()
	if err != nil {
		return err
	}

	if rt.cfg.Server.Enabled {
		shutdown := startStatusServer(rt.cfg.Server.Addr, api.NewServer(engine, a.Index(), a.RunID(), logger.Named("api")), logger)
		defer shutdown()
	}

	stats, err := a.Crawl(ctx, engine)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("crawl interrupted; export not written",
			zap.Int("pending", stats.Pending),
			zap.Int("admitted", stats.Admitted))
		return nil
	case errors.Is(err, crawler.ErrPersist):
		return fmt.Errorf("crawl aborted: %w", err)
	case err != nil:
		return err
	}

	logger.Info("crawl command finished",
		zap.Int("pages_fetched", stats.Fetched),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Int("records", a.Index().Count()),
		zap.Int("failed", stats.Failed))
	return nil
}

func startStatusServer(addr string, s *api.Server, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	s.SetReady(true)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown error", zap.Error(err))
		}
	}
}

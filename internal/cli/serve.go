package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/scheduler"
	"github.com/lazypower/hypermem/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server with scheduled maintenance and feed polling",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	db, eng, pipe, err := openPipeline()
	if err != nil {
		return err
	}
	defer db.Close()

	srv := server.New(eng, pipe, server.Options{
		Version:      VersionString(),
		CacheTTL:     cfg.Server.ContextCacheTTL.Duration,
		CacheSize:    cfg.Server.ContextCacheMax,
		UploadDir:    cfg.Ingest.UploadDir,
		FeedInterval: cfg.Ingest.FeedInterval.Duration,
	})

	sched := scheduler.New()
	err = sched.Add("maintenance", cfg.Schedule.Maintenance, func(ctx context.Context) error {
		res, err := eng.RunMaintenance(ctx)
		if errors.Is(err, engine.ErrSweepRunning) {
			return nil
		}
		if err != nil {
			return err
		}
		if res.Decayed > 0 || res.Pruned > 0 {
			srv.PurgeContext()
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = sched.Add("feeds", cfg.Schedule.Feeds, func(ctx context.Context) error {
		results, err := pipe.IngestDueFeeds(ctx)
		for _, r := range results {
			if r.Created > 0 {
				srv.Invalidate(r.CommunityID)
			}
		}
		return err
	})
	if err != nil {
		return err
	}

	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("db", db.Path).Strs("jobs", sched.Jobs()).Msg("hypermem serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	sched.Start()

	select {
	case <-done:
		log.Info().Msg("shutting down")
	case err := <-errc:
		sched.Stop()
		return fmt.Errorf("server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = httpServer.Shutdown(ctx)
	sched.Stop()
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/schedule-live/internal/broadcast"
	"github.com/dgnsrekt/schedule-live/internal/config"
	"github.com/dgnsrekt/schedule-live/internal/data"
	"github.com/dgnsrekt/schedule-live/internal/live"
	"github.com/dgnsrekt/schedule-live/internal/metrics"
	"github.com/dgnsrekt/schedule-live/internal/server"
	"github.com/dgnsrekt/schedule-live/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live update server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
}

// openSource returns the snapshot source for the configured mode. The
// reloadable source is nil when the mode does not support reloads.
func openSource(ctx context.Context, cfg *config.Config, loc *time.Location) (data.SnapshotSource, *data.ReloadableSource, error) {
	switch cfg.Data.Mode {
	case config.DataModeMemory:
		store, err := data.LoadMemoryStore(cfg.Data.Dir, loc, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("memory store ready", zap.Strings("tenants", store.Tenants()))
		reloadable := data.NewReloadableSource(store)
		return reloadable, reloadable, nil

	case config.DataModePostgres:
		pool, err := data.NewPool(ctx, cfg.Data.DSN, cfg.Data.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		store := data.NewPostgresStore(pool, loc)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown data mode %q", cfg.Data.Mode)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	loc, err := cfg.Data.Location()
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("dataMode", cfg.Data.Mode),
		zap.String("timezone", loc.String()),
		zap.Duration("batchInterval", cfg.Live.BatchInterval),
		zap.Duration("livenessTimeout", cfg.Live.LivenessTimeout),
		zap.Duration("sweepInterval", cfg.Live.SweepInterval),
	)

	clock := clockwork.NewRealClock()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	registry := live.NewRegistry(clock, m, logger)
	batcher := live.NewBatcher(registry, clock, cfg.Live.BatchInterval, cfg.Live.FlushConcurrency, m, logger)
	monitor := live.NewMonitor(registry, clock, cfg.Live.SweepInterval, cfg.Live.LivenessTimeout, m, logger)

	start := time.Now()
	source, reloadable, err := openSource(ctx, cfg, loc)
	if err != nil {
		return fmt.Errorf("opening data source: %w", err)
	}
	logger.Info("data source ready", zap.Duration("duration", time.Since(start)))

	cache, err := data.NewCachedSource(source, cfg.Data.CacheMaxCost, cfg.Data.CacheTTL)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("creating snapshot cache: %w", err)
	}
	defer cache.Close()

	var reloader *server.ReloadManager
	if reloadable != nil {
		reloader = server.NewReloadManager(reloadable, cache, cfg.Data.Dir, loc, clock, logger)
	}

	broadcaster := broadcast.New(batcher, cache, clock, logger)

	sessions := ws.NewHandler(registry, cache, clock, ws.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxConnsPerUser: cfg.Live.MaxConnsPerUser,
		HandshakeRate:   cfg.Live.HandshakeRate,
		HandshakeBurst:  cfg.Live.HandshakeBurst,
		SendBuffer:      cfg.Live.SendBuffer,
		ReadLimit:       cfg.Live.ReadLimit,
		WriteWait:       cfg.Live.WriteWait,
		Location:        loc,
	}, m, logger)

	router := server.NewRouter(server.Deps{
		Registry:       registry,
		Sessions:       sessions,
		Broadcaster:    broadcaster,
		Source:         cache,
		Reloader:       reloader,
		Gatherer:       promReg,
		Clock:          clock,
		Location:       loc,
		DataMode:       cfg.Data.Mode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)

		// deliver what is still pending before the sockets go away
		batcher.Stop()
		closed := sessions.CloseAll(websocket.CloseGoingAway, "server shutting down")
		logger.Info("live connections closed", zap.Int("count", closed))

		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/memlog/internal/archive"
	"github.com/alfredjeanlab/memlog/internal/config"
	"github.com/alfredjeanlab/memlog/internal/events"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/mapper"
	"github.com/alfredjeanlab/memlog/internal/metrics"
	"github.com/alfredjeanlab/memlog/internal/server"
	"github.com/alfredjeanlab/memlog/internal/store"
	"github.com/alfredjeanlab/memlog/internal/store/memory"
	"github.com/alfredjeanlab/memlog/internal/store/mongo"
	"github.com/alfredjeanlab/memlog/internal/store/postgres"
	"github.com/alfredjeanlab/memlog/internal/store/sqlite"
	"github.com/alfredjeanlab/memlog/internal/window"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the memlog HTTP and gRPC server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing store", "err", err)
			}
		}()

		m := metrics.New()

		var bus events.Publisher = &events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			bus = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events disabled (MEMLOG_NATS_URL not set)")
		}
		hub := server.NewEventHub()
		publisher := events.Multi{bus, hub}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing publisher", "err", err)
			}
		}()

		archiver, scheduler := newArchiver(ctx, cfg, st, publisher, m, logger)

		opts := []window.Option{
			window.WithPublisher(publisher),
			window.WithMetrics(m),
			window.WithLogger(logger),
		}
		if scheduler != nil {
			opts = append(opts, window.WithArchiver(scheduler))
		}
		svc := window.New(st, mapper.New(logger, m), opts...)
		lis := listener.New(st, publisher, m, logger)

		rs := server.NewRecordServer(server.Options{
			Store:     st,
			Window:    svc,
			Listener:  lis,
			Archiver:  archiver,
			Publisher: publisher,
			Hub:       hub,
			Metrics:   m,
			Logger:    logger,
		})
		limiter := server.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer limiter.Stop()
		grpcServer := server.NewGRPCServer(rs, server.GRPCOptions{AuthToken: cfg.AuthToken, Limiter: limiter})
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           rs.NewHTTPHandler(cfg.AuthToken, limiter),
			ReadHeaderTimeout: 10 * time.Second,
		}

		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			return grpcServer.Serve(grpcLis)
		})
		g.Go(func() error {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		if cfg.NATSURL != "" {
			g.Go(func() error {
				return runListener(gctx, cfg, lis, logger)
			})
		}
		if scheduler != nil {
			scheduler.Start()
			logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval)
		}

		logger.Info("memlog server started",
			"store", cfg.Store,
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")

			if scheduler != nil {
				scheduler.Stop()
				logger.Info("archive scheduler stopped")
			}

			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "err", err)
			}
			logger.Info("HTTP server stopped")
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	case config.StoreSQLite:
		return sqlite.New(cfg.DatabaseURL, logger)
	case config.StoreMongo:
		return mongo.New(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
	case config.StoreMemory:
		logger.Warn("using in-memory store; records are lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// newArchiver builds the archiver from the configured destinations. The
// scheduler is nil unless background archiving is enabled.
func newArchiver(ctx context.Context, cfg *config.Config, st store.Store, p events.Publisher, m *metrics.Metrics, logger *slog.Logger) (*archive.Archiver, *archive.Scheduler) {
	var dests []archive.Destination
	if cfg.ArchiveS3Bucket != "" {
		s3Dest, err := archive.NewS3Destination(ctx, archive.S3Options{
			Bucket:   cfg.ArchiveS3Bucket,
			Prefix:   cfg.ArchiveS3Prefix,
			Region:   cfg.ArchiveS3Region,
			Endpoint: cfg.ArchiveS3Endpoint,
		})
		if err != nil {
			logger.Error("S3 archive destination unavailable", "err", err)
		} else {
			dests = append(dests, s3Dest)
		}
	}
	if cfg.ArchiveDir != "" {
		dests = append(dests, archive.NewFileDestination(cfg.ArchiveDir))
	}
	if len(dests) == 0 {
		return nil, nil
	}
	for _, d := range dests {
		logger.Info("archive destination enabled", "destination", d)
	}

	a := archive.New(st, dests, p, m, logger)
	if !cfg.ArchiveEnabled() {
		return a, nil
	}
	return a, archive.NewScheduler(a, cfg.ArchiveInterval)
}

// runListener feeds observed requests from NATS into the listener until ctx
// is cancelled.
func runListener(ctx context.Context, cfg *config.Config, lis *listener.Listener, logger *slog.Logger) error {
	sub, err := events.NewNATSSubscriber(cfg.NATSURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("listener disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("listener reconnected to NATS")
		}),
	)
	if err != nil {
		return err
	}
	defer sub.Close()
	return feedListener(ctx, sub, cfg.ListenerSubject, lis, logger)
}

func feedListener(ctx context.Context, sub events.Subscriber, subject string, lis *listener.Listener, logger *slog.Logger) error {
	ch, cancel, err := sub.Subscribe(subject)
	if err != nil {
		return err
	}
	defer cancel()

	logger.Info("listener subscribed", "subject", subject)
	if err := lis.Run(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

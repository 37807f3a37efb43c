package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/fieldsync/internal/client"
	"github.com/austindbirch/fieldsync/internal/config"
	"github.com/austindbirch/fieldsync/internal/connectivity"
	"github.com/austindbirch/fieldsync/internal/db"
	"github.com/austindbirch/fieldsync/internal/deadletter"
	"github.com/austindbirch/fieldsync/internal/health"
	"github.com/austindbirch/fieldsync/internal/logging"
	"github.com/austindbirch/fieldsync/internal/metrics"
	"github.com/austindbirch/fieldsync/internal/queue"
	"github.com/austindbirch/fieldsync/internal/replay"
	"github.com/austindbirch/fieldsync/internal/server"
	"github.com/austindbirch/fieldsync/internal/store"
	"github.com/austindbirch/fieldsync/internal/store/postgres"
	"github.com/austindbirch/fieldsync/internal/store/sqlite"
	"github.com/austindbirch/fieldsync/internal/tracing"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	logging.SetDefaultService(cfg.AppName)
	logger := logging.New(cfg.AppName)

	if err := cfg.Validate(); err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, cfg.AppName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Plain().WithError(err).WithField("backend", cfg.Store.Backend).Fatal("store open failed")
	}
	defer closeStore()

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	q := queue.New(st, cfg.Store.Key)
	if n, err := q.Len(ctx); err != nil {
		logger.Plain().WithError(err).Fatal("queue unreadable")
	} else {
		metrics.SetQueueDepth(n)
		logger.Plain().WithField("queued", n).WithField("backend", cfg.Store.Backend).Info("queue loaded")
	}

	var prober connectivity.Prober
	if cfg.Connectivity.ProbeURL != "" {
		prober = connectivity.HTTPProber{URL: cfg.Connectivity.ProbeURL}
	}
	monitor := connectivity.NewMonitor(connectivity.Options{
		Prober:      prober,
		Interval:    cfg.Connectivity.ProbeInterval,
		Timeout:     cfg.Connectivity.ProbeTimeout,
		StartOnline: cfg.Connectivity.StartOnline,
		Logger:      logger,
	})

	sink, closeSink, err := openSink(cfg, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("dead letter sink failed")
	}
	defer closeSink()

	sender := client.NewHTTPSender(cfg.API.BaseURL, cfg.API.RequestTimeout)
	api := client.New(sender, q, monitor, logger)
	replayer := replay.New(q, sender, replay.Policy{
		MaxAttempts:   cfg.Replay.MaxAttempts,
		DropPermanent: cfg.Replay.DropPermanent,
	}, sink, logger)

	// gRPC server: standard health only
	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	health.SetUpstream(hs, monitor.Online())

	monitor.Subscribe(func(online bool) {
		health.SetUpstream(hs, online)
		replayer.OnConnectivity(online)
	})

	srv := server.New(server.Options{
		Client:       api,
		Queue:        q,
		Replayer:     replayer,
		Connectivity: monitor,
		Health:       health.HTTPHandler(st, monitor, q.Len),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       logger,
	})
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: srv, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("gRPC listen: %w", err)
		}
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("gRPC listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		logger.Plain().WithField("addr", cfg.HTTPPort).Info("HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		grpcSrv.GracefulStop()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	// Actions left over from a previous run would otherwise wait for the
	// next offline/online cycle.
	if monitor.Online() {
		go replayer.OnConnectivity(true)
	}

	if err := g.Wait(); err != nil {
		logger.Plain().WithError(err).Error("agent stopped with error")
		return
	}
	logger.Plain().Info("agent stopped")
}

// openStore returns the configured queue backend and its cleanup func.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "file":
		s, err := store.NewFile(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Store.Path, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
		s, err := sqlite.Open(filepath.Join(cfg.Store.Path, "fieldsync.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// openSink publishes dead letters to NSQ when enabled, otherwise to the log.
func openSink(cfg config.Config, logger *logging.Logger) (deadletter.Sink, func(), error) {
	if !cfg.Replay.PublishDLQ {
		return deadletter.LogSink{Logger: logger}, func() {}, nil
	}
	s, err := deadletter.NewNSQSink(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

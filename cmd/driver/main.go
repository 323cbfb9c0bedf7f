package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/example/driver-client/internal/backend"
	"github.com/example/driver-client/internal/config"
	"github.com/example/driver-client/internal/coordinator"
	"github.com/example/driver-client/internal/geo"
	httpapi "github.com/example/driver-client/internal/http"
	"github.com/example/driver-client/internal/location"
	"github.com/example/driver-client/internal/logging"
	"github.com/example/driver-client/internal/models"
	"github.com/example/driver-client/internal/presenter"
	"github.com/example/driver-client/internal/realtime"
	"github.com/example/driver-client/internal/routing"
	"github.com/example/driver-client/internal/storage"
	"github.com/example/driver-client/internal/telemetry"
)

func main() {
	var configPath, driverID, httpAddr, logLevel string
	pflag.StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults to $DRIVER_CONFIG)")
	pflag.StringVar(&driverID, "driver-id", "", "driver id, overrides DRIVER_ID")
	pflag.StringVar(&httpAddr, "http-addr", "", "control API listen address, overrides HTTP_ADDR")
	pflag.StringVar(&logLevel, "log-level", "", "debug, info, warn or error, overrides LOG_LEVEL")
	pflag.Parse()

	cfg, err := config.LoadClientConfig(configPath, func(c *config.ClientConfig) {
		if driverID != "" {
			c.DriverID = driverID
		}
		if httpAddr != "" {
			c.HTTPAddr = httpAddr
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}

	logger := logging.NewLogger(cfg.LogLevel).With("driver_id", cfg.DriverID)
	if err := run(cfg, logger); err != nil {
		logger.Error("driver agent stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ClientConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
	}

	var cache routing.DistanceCache = routing.NewCache(cfg.DistanceCacheTTL)
	if rc != nil {
		cache = routing.NewRedisCache(rc, cfg.DistanceCacheTTL)
	}
	distance := &routing.CachedService{Remote: routing.NewOSRMClient(cfg.RoutingURL), Cache: cache, Logger: logger}

	journal := openJournal(ctx, cfg, logger)
	if c, ok := journal.(interface{ Close() error }); ok {
		defer c.Close()
	}

	var sinks []telemetry.Sink
	if len(cfg.KafkaBrokers) > 0 {
		ks := telemetry.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	if rc != nil {
		sinks = append(sinks, telemetry.NewRedisSink(rc, cfg.RedisGeoKey))
	}
	mirror := telemetry.NewFanout(logger, 128, sinks...)
	mirror.Start(context.Background())
	defer mirror.Close()

	rt, err := realtime.NewClient(cfg.SocketURL, cfg.DriverID, logger)
	if err != nil {
		return err
	}
	src := location.NewSimulatedSource(models.Coord{Lat: cfg.StartLat, Lng: cfg.StartLng}, cfg.SimulatedSpeedMps, time.Now().UnixNano())
	sampler := location.NewSampler(src, cfg.SampleInterval, cfg.EmitInterval, uint(cfg.GeohashPrecision))

	feed := presenter.NewFeed(100)
	peers := geo.NewIndex()
	coord := coordinator.New(coordinator.Config{
		DriverID:    cfg.DriverID,
		Backend:     backend.NewClient(cfg.APIBaseURL, cfg.BackendTimeout, logger),
		Distance:    distance,
		Emitter:     rt,
		Tracker:     sampler,
		Presenter:   presenter.Multi{presenter.NewLog(logger), feed},
		Journal:     journal,
		Telemetry:   mirror,
		Peers:       peers,
		Logger:      logger,
		CallTimeout: cfg.BackendTimeout,
	})

	// the loop and realtime client outlive ctx so shutdown can still go offline
	loopCtx, stopLoop := context.WithCancel(context.Background())
	rtCtx, stopRT := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = coord.Run(loopCtx)
	}()

	if err := coord.Reconcile(ctx); err != nil {
		logger.Warn("startup reconciliation failed", "error", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rt.Run(rtCtx, coord)
	}()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(coord, feed, journal, peers, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control api shutdown", "error", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Warn("could not go offline on shutdown", "error", err)
	}
	stopRT()
	stopLoop()
	wg.Wait()
	return runErr
}

// openJournal prefers postgres when configured and falls back to memory.
func openJournal(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) storage.TripJournal {
	if cfg.PGDSN == "" {
		return storage.NewMemoryJournal(0)
	}
	pj, err := storage.NewPostgresJournal(cfg.PGDSN)
	if err != nil {
		logger.Warn("postgres unavailable, trip journal kept in memory", "error", err)
		return storage.NewMemoryJournal(0)
	}
	// optional migration: run migrations/001_create_trip_events.sql if requested
	if cfg.RunMigrations {
		path := filepath.Join("migrations", "001_create_trip_events.sql")
		if err := pj.Migrate(ctx, path); err != nil {
			logger.Error("migration failed", "error", err)
		} else {
			logger.Info("migration applied", "file", filepath.Base(path))
		}
	}
	return pj
}

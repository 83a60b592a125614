package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ckoopmann/wrapped-fcash/internal/beacon"
	"github.com/ckoopmann/wrapped-fcash/internal/config"
	"github.com/ckoopmann/wrapped-fcash/internal/event"
	"github.com/ckoopmann/wrapped-fcash/internal/factory"
	"github.com/ckoopmann/wrapped-fcash/internal/ingestion"
	"github.com/ckoopmann/wrapped-fcash/internal/observability"
	"github.com/ckoopmann/wrapped-fcash/internal/persistence"
	"github.com/ckoopmann/wrapped-fcash/internal/registry"
	"github.com/ckoopmann/wrapped-fcash/internal/server"
)

// Well-known sandbox addresses. Deterministic so wrapper addresses derived
// through the factory stay stable across restarts.
var (
	simAddress     = common.HexToAddress("0x0000000000000000000000000000000000000101")
	beaconAddress  = common.HexToAddress("0x0000000000000000000000000000000000000102")
	factoryAddress = common.HexToAddress("0x0000000000000000000000000000000000000103")
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	logger := observability.NewLogger("wfcashd")
	logger.Info().Msg("wfcashd starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	errChan := make(chan error, 8)

	// --- Postgres (optional) ---
	var db *sql.DB
	startSequence := int64(0)
	if cfg.Postgres.Enabled {
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal().Err(err).Msg("postgres ping")
		}
		logger.Info().Msg("postgres connected")

		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")

		startSequence, err = persistence.NewEventLogWriter(db).LastSequence(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("read last sequence")
		}
		logger.Info().Int64("sequence", startSequence).Msg("resuming event sequence")
	}

	// --- Event pipeline ---
	// Persist channel blocks (no event loss), publish channel drops.
	var persistChan chan event.Envelope
	var publishChan chan event.Envelope
	if cfg.Postgres.Enabled {
		persistChan = make(chan event.Envelope, 1024)
	}
	if cfg.NATS.Enabled {
		publishChan = make(chan event.Envelope, 4096)
	}
	sink := event.NewChannelSink(startSequence, persistChan, publishChan).
		WithMetrics(metrics.PublishDrops, metrics.PersistBackpressure)

	if cfg.Postgres.Enabled {
		worker := persistence.NewWorker(db, persistChan, cfg.Postgres.BatchSize,
			time.Duration(cfg.Postgres.FlushMS)*time.Millisecond, metrics)
		go func() {
			errChan <- worker.Run(ctx)
		}()
	}

	// --- NATS (optional) ---
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		logger.Info().Msg("nats connected")

		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}

		publisher := ingestion.NewOutboundPublisher(js, publishChan)
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	}

	// --- Sandbox venue, beacon, factory ---
	clock := registry.SystemClock{}
	sim := registry.NewSim(simAddress, clock)

	now := clock.Now().Unix()
	for _, cur := range cfg.Sim.Currencies {
		rate0, err := cur.ParseAssetRate0()
		if err != nil {
			logger.Fatal().Err(err).Msg("parse asset rate")
		}
		sim.AddCurrency(cur.ID, cur.Symbol, cur.UnderlyingDecimals, rate0, cur.AssetYield)

		for _, days := range cfg.Sim.TenorDays {
			maturity := uint64(now + int64(days)*86400)
			if err := sim.ListMarket(cur.ID, maturity, cfg.Sim.OracleRate); err != nil {
				logger.Fatal().Err(err).Msg("list market")
			}
			logger.Info().
				Str("currency", cur.Symbol).
				Uint64("maturity", maturity).
				Msg("market listed")
		}
	}

	b, err := beacon.New(beaconAddress, sim)
	if err != nil {
		logger.Fatal().Err(err).Msg("new beacon")
	}
	f, err := factory.New(factoryAddress, b, clock, sink, metrics, observability.NewLogger("factory"))
	if err != nil {
		logger.Fatal().Err(err).Msg("new factory")
	}

	// --- HTTP API ---
	svc := server.NewService(f, b, healthChecker, metrics, observability.NewLogger("http"))
	apiServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: svc.Handler(),
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metricsMux,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().Int64("sequence", startSequence).Msg("wfcashd ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	healthChecker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: api server shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: metrics server shutdown: %v", err)
	}

	// Stop emitters before the workers so channel closes are safe, then let
	// the persistence worker drain.
	cancel()
	if persistChan != nil {
		close(persistChan)
	}
	if publishChan != nil {
		close(publishChan)
	}
	time.Sleep(100 * time.Millisecond)

	logger.Info().Msg("wfcashd shutdown complete")
}

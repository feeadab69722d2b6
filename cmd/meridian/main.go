// Package main is the entry point for the Meridian trading node. It wires
// the message bus, the data and execution engines, the venue adapters, the
// ops HTTP API and the maintenance runner, then runs until signalled.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/clients/paper"
	"github.com/meridianhq/meridian/internal/clients/streamfeed"
	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/config"
	"github.com/meridianhq/meridian/internal/data"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/execution"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/runner"
	"github.com/meridianhq/meridian/internal/server"
	"github.com/meridianhq/meridian/internal/store"
	"github.com/meridianhq/meridian/internal/strategy"
	"github.com/meridianhq/meridian/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	log.Info().Str("trader_id", cfg.TraderID).Str("data_dir", cfg.DataDir).Msg("starting meridian")

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:    cfg.StorePath(),
		Profile: store.ProfileLedger,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open execution store")
	}

	clk := clock.NewLiveClock()
	cache := store.NewCache(log)
	bus := messaging.NewBus(cfg.BusCapacity, log)

	dataEngine := data.NewEngine(bus, log)
	execEngine := execution.NewEngine(bus, clk, cache, log)

	// The paper venue is the default execution client: orders for venues
	// without a live adapter fill there.
	paperClient := paper.New(paper.Config{
		Venue:           "PAPER",
		AccountID:       domain.AccountID(cfg.TraderID + "-PAPER"),
		Currency:        domain.USDT,
		StartingBalance: decimal.NewFromInt(100_000),
	}, bus, clk, log)
	if err := execEngine.RegisterClient(paperClient); err != nil {
		log.Fatal().Err(err).Msg("failed to register paper client")
	}
	execEngine.RegisterDefaultClient(paperClient)

	if cfg.FeedURL != "" {
		feed := streamfeed.New(streamfeed.Config{
			URL:           cfg.FeedURL,
			Venue:         domain.Venue(cfg.FeedVenue),
			SubscribeRate: cfg.FeedSubscribeRate,
		}, bus, clk, log)
		if err := dataEngine.RegisterClient(feed); err != nil {
			log.Fatal().Err(err).Msg("failed to register market data feed")
		}
		dataEngine.RegisterDefaultClient(feed)
	}

	bus.Start()

	ctx := context.Background()
	if err := dataEngine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start data engine")
	}
	if err := execEngine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start execution engine")
	}

	var strategies []*strategy.Strategy
	if cfg.DevMode {
		s, err := startDemoStrategy(ctx, cfg, st, bus, dataEngine, execEngine, paperClient, clk, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start demo strategy")
		}
		strategies = append(strategies, s)
	}

	srv := server.New(server.Config{Log: log, Port: cfg.Port, Store: st})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()

	var backup *store.BackupService
	if cfg.Backup.Enabled {
		backup, err = store.NewBackupService(ctx, st, store.BackupConfig{
			Dir:             filepath.Join(cfg.DataDir, "backups"),
			Keep:            cfg.Backup.RetentionDays,
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKey,
			SecretAccessKey: cfg.Backup.SecretKey,
			Prefix:          cfg.TraderID,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init backup service")
		}
	}

	maint := runner.New(runner.Config{
		SnapshotSchedule:   cfg.SnapshotSchedule,
		CheckpointSchedule: cfg.CheckpointSchedule,
		BackupSchedule:     cfg.Backup.Schedule,
	}, bus, st, cache, backup, log)
	for _, s := range strategies {
		maint.RegisterStrategy(s)
	}
	if err := maint.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start maintenance runner")
	}

	log.Info().Int("port", cfg.Port).Msg("meridian running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop order: strategies first so their stop-time commands still reach
	// the venues, then a final snapshot while the cache is intact, then the
	// engines, the ops server, the bus and last the store.
	for _, s := range strategies {
		if err := s.Stop(); err != nil {
			log.Error().Err(err).Str("strategy_id", string(s.ID())).Msg("strategy stop failed")
		}
	}
	if err := maint.Snapshot(); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	}
	bus.Flush()
	maint.Stop()

	if err := execEngine.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("execution engine stop failed")
	}
	if err := dataEngine.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("data engine stop failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops server shutdown failed")
	}
	bus.Stop()

	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("store close failed")
	}
	log.Info().Msg("meridian stopped")
}

// startDemoStrategy runs the built-in EMA crossover against the paper venue
// in dev mode, restoring any state a previous run persisted.
func startDemoStrategy(ctx context.Context, cfg *config.Config, st store.Store,
	bus *messaging.Bus, dataEngine *data.Engine, execEngine *execution.Engine,
	venue *paper.Client, clk clock.Clock, log zerolog.Logger) (*strategy.Strategy, error) {

	barType := domain.BarType{
		InstrumentID: domain.NewInstrumentID("BTCUSDT", domain.Venue(cfg.FeedVenue)),
		Step:         1,
		Aggregation:  domain.BarAggregationMinute,
	}
	trader, err := newEMACrossTrader(barType, decimal.RequireFromString("0.01"), 10, 20, venue, log)
	if err != nil {
		return nil, err
	}

	s, err := strategy.New(strategy.Config{
		Name:               "EMACross",
		Tag:                "001",
		FlattenOnStop:      true,
		CancelOrdersOnStop: true,
	}, trader, clk, log)
	if err != nil {
		return nil, err
	}
	trader.Bind(s)

	if err := s.Register(bus, dataEngine, execEngine); err != nil {
		return nil, err
	}
	if state, ok, err := st.LoadStrategyState(ctx, s.ID()); err != nil {
		log.Error().Err(err).Str("strategy_id", string(s.ID())).Msg("strategy state load failed")
	} else if ok {
		if err := s.Load(state); err != nil {
			log.Error().Err(err).Str("strategy_id", string(s.ID())).Msg("strategy state restore failed")
		} else {
			log.Info().Str("strategy_id", string(s.ID())).Msg("strategy state restored")
		}
	}
	return s, s.Start()
}

// Package runner schedules store maintenance: periodic snapshots of the
// live trading state, WAL checkpoints and off-site backup uploads.
package runner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
	"github.com/meridianhq/meridian/internal/store"
	"github.com/meridianhq/meridian/internal/strategy"
)

const jobTimeout = 2 * time.Minute

// Config carries the cron specs for the maintenance jobs. An empty spec
// disables its job.
type Config struct {
	SnapshotSchedule   string
	CheckpointSchedule string
	BackupSchedule     string
}

// Runner owns the maintenance cron. The snapshot job runs on the bus
// dispatch goroutine because it reads the cache; checkpoints and backups
// only touch the store connection and run on the cron's goroutine.
type Runner struct {
	log   zerolog.Logger
	cfg   Config
	bus   *messaging.Bus
	store store.Store
	cache *store.Cache
	cron  *cron.Cron

	backup     *store.BackupService
	strategies []*strategy.Strategy

	// account events already persisted this session, per account
	persisted map[domain.AccountID]int
}

// New creates a maintenance runner. backup may be nil when off-site
// backups are disabled.
func New(cfg Config, bus *messaging.Bus, st store.Store, cache *store.Cache,
	backup *store.BackupService, log zerolog.Logger) *Runner {
	return &Runner{
		log:       log.With().Str("component", "runner").Logger(),
		cfg:       cfg,
		bus:       bus,
		store:     st,
		cache:     cache,
		cron:      cron.New(),
		backup:    backup,
		persisted: make(map[domain.AccountID]int),
	}
}

// RegisterStrategy adds a strategy whose state the snapshot job persists.
// Call before Start.
func (r *Runner) RegisterStrategy(s *strategy.Strategy) {
	r.strategies = append(r.strategies, s)
}

// Start registers the snapshot endpoint and starts the cron
func (r *Runner) Start() error {
	r.bus.Register(messaging.EndpointSnapshot, func(any) {
		r.snapshot()
	})

	if r.cfg.SnapshotSchedule != "" {
		if err := r.addJob(r.cfg.SnapshotSchedule, "snapshot", func(context.Context) error {
			return r.Snapshot()
		}); err != nil {
			return err
		}
	}
	if r.cfg.CheckpointSchedule != "" {
		if err := r.addJob(r.cfg.CheckpointSchedule, "wal_checkpoint", r.store.WALCheckpoint); err != nil {
			return err
		}
	}
	if r.backup != nil && r.cfg.BackupSchedule != "" {
		if err := r.addJob(r.cfg.BackupSchedule, "backup", func(ctx context.Context) error {
			_, err := r.backup.Backup(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	r.cron.Start()
	r.log.Info().Msg("maintenance runner started")
	return nil
}

// Stop halts the cron, waiting for a running job to finish, and
// deregisters the snapshot endpoint.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.bus.Deregister(messaging.EndpointSnapshot)
	r.log.Info().Msg("maintenance runner stopped")
}

// Snapshot queues a snapshot on the bus. Callers who need it completed
// (shutdown) should flush the bus afterwards.
func (r *Runner) Snapshot() error {
	return r.bus.Send(messaging.EndpointSnapshot, struct{}{})
}

func (r *Runner) addJob(schedule, name string, run func(context.Context) error) error {
	_, err := r.cron.AddFunc(schedule, func() {
		started := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if err := run(ctx); err != nil {
			r.log.Error().Err(err).Str("job", name).Msg("maintenance job failed")
			return
		}
		r.log.Debug().Str("job", name).Dur("took", time.Since(started)).Msg("maintenance job completed")
	})
	if err != nil {
		return err
	}
	r.log.Info().Str("job", name).Str("schedule", schedule).Msg("maintenance job registered")
	return nil
}

// snapshot persists the live state: instruments, every cached order and
// position per strategy, any account events not yet written, and each
// strategy's saved state. SaveOrder appends only unpersisted events and the
// rest are upserts, so running it again after a partial failure is safe.
func (r *Runner) snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	var failures int

	for _, id := range r.cache.InstrumentIDs() {
		if instrument, ok := r.cache.Instrument(id); ok {
			if err := r.store.SaveInstrument(ctx, instrument); err != nil {
				failures++
				r.log.Error().Err(err).Str("instrument_id", string(id)).Msg("instrument snapshot failed")
			}
		}
	}

	for _, s := range r.strategies {
		for _, ord := range r.cache.OrdersForStrategy(s.ID()) {
			if err := r.store.SaveOrder(ctx, ord); err != nil {
				failures++
				r.log.Error().Err(err).Str("client_order_id", string(ord.ClientOrderID())).
					Msg("order snapshot failed")
			}
		}
		for _, pos := range r.cache.PositionsForStrategy(s.ID()) {
			if err := r.store.SavePosition(ctx, pos); err != nil {
				failures++
				r.log.Error().Err(err).Str("position_id", string(pos.ID())).
					Msg("position snapshot failed")
			}
		}
		if err := r.store.SaveStrategyState(ctx, s.ID(), s.Save()); err != nil {
			failures++
			r.log.Error().Err(err).Str("strategy_id", string(s.ID())).
				Msg("strategy state snapshot failed")
		}
	}

	for _, id := range r.cache.AccountIDs() {
		va, ok := r.cache.Account(id)
		if !ok {
			continue
		}
		events := va.Base().Events()
		for _, event := range events[r.persisted[id]:] {
			if err := r.store.SaveAccountEvent(ctx, event); err != nil {
				failures++
				r.log.Error().Err(err).Str("account_id", string(id)).Msg("account snapshot failed")
				break
			}
			r.persisted[id]++
		}
	}

	if failures > 0 {
		r.log.Warn().Int("failures", failures).Msg("snapshot completed with failures")
		return
	}
	r.log.Info().
		Int("strategies", len(r.strategies)).
		Int("orders", r.cache.OrderCount()).
		Int("positions", r.cache.PositionCount()).
		Msg("snapshot completed")
}

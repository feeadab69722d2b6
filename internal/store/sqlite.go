package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// Profile selects the durability/speed trade-off for a database
type Profile string

const (
	// ProfileLedger - maximum safety for the trading audit trail
	ProfileLedger Profile = "ledger"
	// ProfileCache - maximum speed for ephemeral data
	ProfileCache Profile = "cache"
	// ProfileStandard - balanced configuration
	ProfileStandard Profile = "standard"
)

// SQLiteConfig holds the store configuration
type SQLiteConfig struct {
	Path    string
	Profile Profile
}

// SQLiteStore persists the execution state: order event logs, position and
// account snapshots, instrument definitions, and strategy state. Event rows
// are append-only; snapshot rows are upserts keyed by identifier. Records
// are encoded as msgpack blobs of their flat record shape.
type SQLiteStore struct {
	db   *sql.DB
	log  zerolog.Logger
	path string
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	id         TEXT PRIMARY KEY,
	record     BLOB NOT NULL,
	updated_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	strategy_id     TEXT NOT NULL,
	instrument_id   TEXT NOT NULL,
	status          TEXT NOT NULL,
	record          BLOB NOT NULL,
	updated_ns      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy_id);

CREATE TABLE IF NOT EXISTS order_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	client_order_id TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	record          BLOB NOT NULL,
	ts_event        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(client_order_id, id);

CREATE TABLE IF NOT EXISTS positions (
	position_id   TEXT PRIMARY KEY,
	strategy_id   TEXT NOT NULL,
	instrument_id TEXT NOT NULL,
	is_open       INTEGER NOT NULL,
	record        BLOB NOT NULL,
	updated_ns    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy_id);

CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	record     BLOB NOT NULL,
	updated_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	record     BLOB NOT NULL,
	ts_event   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_account_events_account ON account_events(account_id, id);

CREATE TABLE IF NOT EXISTS strategy_state (
	strategy_id TEXT PRIMARY KEY,
	record      BLOB NOT NULL,
	updated_ns  INTEGER NOT NULL
);
`

// NewSQLiteStore opens (and migrates) the store at the configured path.
// Paths with a file: prefix are passed through untouched so tests can run
// against in-memory databases.
func NewSQLiteStore(cfg SQLiteConfig, log zerolog.Logger) (*SQLiteStore, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve store path to absolute: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileLedger
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	configureConnectionPool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	if err := WithTransaction(conn, func(tx *sql.Tx) error {
		_, err := tx.Exec(schema)
		return err
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}

	s := &SQLiteStore{
		db:   conn,
		log:  log.With().Str("component", "store").Logger(),
		path: cfg.Path,
	}
	s.log.Info().Str("path", cfg.Path).Str("profile", string(cfg.Profile)).Msg("store opened")
	return s, nil
}

// buildConnectionString creates the SQLite connection string with
// profile-specific PRAGMAs. WAL mode applies to every profile.
func buildConnectionString(path string, profile Profile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	connStr := path + sep + "_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)" // Fsync after every write
		connStr += "&_pragma=auto_vacuum(NONE)" // Never shrink (append-only)

	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
		connStr += "&_pragma=auto_vacuum(FULL)"
		connStr += "&_pragma=temp_store(MEMORY)"

	case ProfileStandard:
		connStr += "&_pragma=synchronous(NORMAL)" // Fsync at checkpoints
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)" // Checkpoint every 1000 pages
	connStr += "&_pragma=cache_size(-64000)"       // 64MB cache (negative = KB)

	return connStr
}

func configureConnectionPool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if profile == ProfileCache {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
	}
}

// WithTransaction executes fn within a transaction, handling begin, commit,
// rollback, and panic recovery. A panic inside fn is converted to an error
// after the rollback.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// SaveOrder appends the order's unpersisted events and upserts its snapshot
// row. Event rows already written are never touched, so replaying a save
// after a partial failure is harmless.
func (s *SQLiteStore) SaveOrder(ctx context.Context, ord *order.Order) error {
	events := ord.Events()
	snapshot, err := msgpack.Marshal(orderRecord(ord))
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", ord.ClientOrderID(), err)
	}

	return WithTransaction(s.db, func(tx *sql.Tx) error {
		var have int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM order_events WHERE client_order_id = ?",
			string(ord.ClientOrderID())).Scan(&have); err != nil {
			return err
		}
		if have > len(events) {
			return fmt.Errorf("%w: order %s has %d persisted events but only %d in memory",
				domain.ErrStateMismatch, ord.ClientOrderID(), have, len(events))
		}

		for _, ev := range events[have:] {
			blob, err := msgpack.Marshal(ev.Record())
			if err != nil {
				return fmt.Errorf("failed to encode order event: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO order_events (client_order_id, event_type, record, ts_event) VALUES (?, ?, ?, ?)",
				string(ord.ClientOrderID()), ev.EventType(), blob, ev.TsEvent()); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (client_order_id, strategy_id, instrument_id, status, record, updated_ns)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(client_order_id) DO UPDATE SET
				status = excluded.status,
				record = excluded.record,
				updated_ns = excluded.updated_ns`,
			string(ord.ClientOrderID()), string(ord.StrategyID()), string(ord.InstrumentID()),
			ord.Status().String(), snapshot, ord.LastEvent().TsEvent())
		return err
	})
}

// LoadOrderEvents returns an order's event log in applied order
func (s *SQLiteStore) LoadOrderEvents(ctx context.Context, id domain.ClientOrderID) ([]order.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT record FROM order_events WHERE client_order_id = ? ORDER BY id", string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load order events for %s: %w", id, err)
	}
	defer rows.Close()

	var events []order.Event
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var rec map[string]any
		if err := msgpack.Unmarshal(blob, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode order event for %s: %w", id, err)
		}
		ev, err := order.EventFromRecord(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListOrders returns the snapshot records of every persisted order
func (s *SQLiteStore) ListOrders(ctx context.Context) ([]map[string]any, error) {
	return s.listRecords(ctx, "SELECT record FROM orders ORDER BY client_order_id")
}

// SavePosition upserts the position's snapshot row
func (s *SQLiteStore) SavePosition(ctx context.Context, pos *position.Position) error {
	blob, err := msgpack.Marshal(pos.Record())
	if err != nil {
		return fmt.Errorf("failed to encode position %s: %w", pos.ID(), err)
	}
	isOpen := 0
	if pos.IsOpen() {
		isOpen = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (position_id, strategy_id, instrument_id, is_open, record, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			is_open = excluded.is_open,
			record = excluded.record,
			updated_ns = excluded.updated_ns`,
		string(pos.ID()), string(pos.StrategyID()), string(pos.InstrumentID()),
		isOpen, blob, pos.LastNs())
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", pos.ID(), err)
	}
	return nil
}

// ListPositions returns the snapshot records of every persisted position
func (s *SQLiteStore) ListPositions(ctx context.Context) ([]map[string]any, error) {
	return s.listRecords(ctx, "SELECT record FROM positions ORDER BY position_id")
}

// SaveAccountEvent appends an account state event and upserts the account's
// snapshot row with it.
func (s *SQLiteStore) SaveAccountEvent(ctx context.Context, event account.State) error {
	blob, err := msgpack.Marshal(event.Record())
	if err != nil {
		return fmt.Errorf("failed to encode account event for %s: %w", event.AccountID, err)
	}
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO account_events (account_id, record, ts_event) VALUES (?, ?, ?)",
			string(event.AccountID), blob, event.TsEvent()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (account_id, record, updated_ns)
			VALUES (?, ?, ?)
			ON CONFLICT(account_id) DO UPDATE SET
				record = excluded.record,
				updated_ns = excluded.updated_ns`,
			string(event.AccountID), blob, event.TsEvent())
		return err
	})
}

// LoadAccountEvents returns an account's state event log in applied order
func (s *SQLiteStore) LoadAccountEvents(ctx context.Context, id domain.AccountID) ([]account.State, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT record FROM account_events WHERE account_id = ? ORDER BY id", string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load account events for %s: %w", id, err)
	}
	defer rows.Close()

	var events []account.State
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var rec map[string]any
		if err := msgpack.Unmarshal(blob, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode account event for %s: %w", id, err)
		}
		ev, err := account.StateFromRecord(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListAccounts returns the latest state record of every persisted account
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]map[string]any, error) {
	return s.listRecords(ctx, "SELECT record FROM accounts ORDER BY account_id")
}

// SaveInstrument upserts an instrument definition
func (s *SQLiteStore) SaveInstrument(ctx context.Context, instrument domain.Instrument) error {
	blob, err := msgpack.Marshal(instrument.Record())
	if err != nil {
		return fmt.Errorf("failed to encode instrument %s: %w", instrument.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instruments (id, record, updated_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record = excluded.record,
			updated_ns = excluded.updated_ns`,
		string(instrument.ID), blob, instrument.TsInit)
	if err != nil {
		return fmt.Errorf("failed to save instrument %s: %w", instrument.ID, err)
	}
	return nil
}

// LoadInstruments returns every persisted instrument definition
func (s *SQLiteStore) LoadInstruments(ctx context.Context) ([]domain.Instrument, error) {
	recs, err := s.listRecords(ctx, "SELECT record FROM instruments ORDER BY id")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Instrument, 0, len(recs))
	for _, rec := range recs {
		instrument, err := domain.InstrumentFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, instrument)
	}
	return out, nil
}

// SaveStrategyState upserts a strategy's persisted state map
func (s *SQLiteStore) SaveStrategyState(ctx context.Context, id domain.StrategyID, state map[string]any) error {
	blob, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode strategy state for %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategy_state (strategy_id, record, updated_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			record = excluded.record,
			updated_ns = excluded.updated_ns`,
		string(id), blob, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save strategy state for %s: %w", id, err)
	}
	return nil
}

// LoadStrategyState returns a strategy's persisted state map; ok is false
// when the strategy has never saved state.
func (s *SQLiteStore) LoadStrategyState(ctx context.Context, id domain.StrategyID) (map[string]any, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT record FROM strategy_state WHERE strategy_id = ?", string(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load strategy state for %s: %w", id, err)
	}
	var state map[string]any
	if err := msgpack.Unmarshal(blob, &state); err != nil {
		return nil, false, fmt.Errorf("failed to decode strategy state for %s: %w", id, err)
	}
	return state, true, nil
}

// ListStrategyStates returns every strategy's latest saved state wrapped
// with its id and save time.
func (s *SQLiteStore) ListStrategyStates(ctx context.Context) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT strategy_id, record, updated_ns FROM strategy_state ORDER BY strategy_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list strategy states: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id        string
			blob      []byte
			updatedNs int64
		)
		if err := rows.Scan(&id, &blob, &updatedNs); err != nil {
			return nil, err
		}
		var state map[string]any
		if err := msgpack.Unmarshal(blob, &state); err != nil {
			return nil, fmt.Errorf("failed to decode strategy state for %s: %w", id, err)
		}
		out = append(out, map[string]any{
			"strategy_id": id,
			"state":       state,
			"updated_ns":  updatedNs,
		})
	}
	return out, rows.Err()
}

// HealthCheck pings the database and runs an integrity check
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	var integrityResult string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		return fmt.Errorf("store integrity check query failed: %w", err)
	}
	if integrityResult != "ok" {
		return fmt.Errorf("store integrity check failed: %s", integrityResult)
	}
	return nil
}

// WALCheckpoint truncates the WAL file to keep it from growing unbounded
func (s *SQLiteStore) WALCheckpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store WAL checkpoint failed: %w", err)
	}
	return nil
}

// Vacuum reclaims space and reduces fragmentation. Expensive; run it in
// maintenance windows only.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("store vacuum failed: %w", err)
	}
	return nil
}

// VacuumInto writes an atomic optimized snapshot of the database to path,
// free of WAL side files.
func (s *SQLiteStore) VacuumInto(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", path)); err != nil {
		return fmt.Errorf("store vacuum into %s failed: %w", path, err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) listRecords(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var rec map[string]any
		if err := msgpack.Unmarshal(blob, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// orderRecord is the queryable snapshot shape of an order: identity and
// current state, numerics as decimal strings, absent optionals as nulls.
func orderRecord(ord *order.Order) map[string]any {
	rec := map[string]any{
		"client_order_id": string(ord.ClientOrderID()),
		"strategy_id":     string(ord.StrategyID()),
		"instrument_id":   string(ord.InstrumentID()),
		"side":            ord.Side().String(),
		"order_type":      ord.Type().String(),
		"time_in_force":   ord.TimeInForce().String(),
		"quantity":        ord.Quantity().String(),
		"filled_qty":      ord.FilledQty().String(),
		"status":          ord.Status().String(),
		"event_count":     int64(ord.EventCount()),
		"price":           nil,
		"avg_px":          nil,
		"position_id":     nil,
		"venue_order_id":  nil,
	}
	if px, ok := ord.Price(); ok {
		rec["price"] = px.String()
	}
	if avgPx, ok := ord.AvgPx(); ok {
		rec["avg_px"] = avgPx.String()
	}
	if posID, ok := ord.PositionID(); ok {
		rec["position_id"] = string(posID)
	}
	if venueID, ok := ord.VenueOrderID(); ok {
		rec["venue_order_id"] = string(venueID)
	}
	return rec
}

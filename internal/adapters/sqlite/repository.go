package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// insertChunkSize bounds the rows per multi-value INSERT so the statement
// stays under SQLite's bind-variable limit (999 by default, 13 columns here).
const insertChunkSize = 50

var validExchangeName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Repository implements ports.CandleRepository using SQLite. Each exchange
// gets its own table ("<exchange>_candles") with a unique index on
// (symbol, interval, open_time).
type Repository struct {
	db     *sql.DB
	table  string
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath   string
	Exchange string // Table namespace, e.g. "binance". Defaults to "binance".
	Logger   ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/candles.db" // Default path
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "binance"
	}
	if !validExchangeName.MatchString(exchange) {
		return nil, fmt.Errorf("%w: invalid exchange name %q", ports.ErrConfigurationError, cfg.Exchange)
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath, "exchange": exchange})

	repo := &Repository{db: db, table: exchange + "_candles", logger: cfg.Logger}

	// Initialize schema (consider moving to a separate migration tool/step)
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates the candle table if it doesn't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		close_time INTEGER NOT NULL,
		quote_volume REAL NOT NULL DEFAULT 0,
		trade_count INTEGER NOT NULL DEFAULT 0,
		taker_buy_volume REAL NOT NULL DEFAULT 0,
		taker_buy_quote_volume REAL NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_key ON %[1]s (symbol, interval, open_time);
	`, r.table)

	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Upsert inserts new candles and overwrites existing ones, keyed by
// (symbol, interval, open_time). Incoming candles are deduplicated by open
// time first (last write wins), existence is probed per key, then all new
// rows go out in batched multi-value INSERTs and all existing rows in
// batched UPDATEs, inside one transaction. Re-ingesting the same candles
// yields Created=0 and leaves the row values unchanged.
func (r *Repository) Upsert(ctx context.Context, symbol, interval string, candles []*domain.Candle) (ports.UpsertResult, error) {
	var res ports.UpsertResult
	if len(candles) == 0 {
		return res, nil
	}

	deduped := dedupeByOpenTime(candles)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback() // No-op after a successful commit.

	existsQuery := fmt.Sprintf(`SELECT 1 FROM %s WHERE symbol = ? AND interval = ? AND open_time = ?`, r.table)
	existsStmt, err := tx.PrepareContext(ctx, existsQuery)
	if err != nil {
		return res, fmt.Errorf("failed to prepare existence probe: %w", err)
	}
	defer existsStmt.Close()

	var toInsert, toUpdate []*domain.Candle
	for _, c := range deduped {
		var one int
		err := existsStmt.QueryRowContext(ctx, symbol, interval, c.OpenTime).Scan(&one)
		switch {
		case err == sql.ErrNoRows:
			toInsert = append(toInsert, c)
		case err != nil:
			return res, fmt.Errorf("failed to probe candle %s/%s@%d: %w: %w", symbol, interval, c.OpenTime, ports.ErrQueryFailed, err)
		default:
			toUpdate = append(toUpdate, c)
		}
	}

	if err := r.batchInsert(ctx, tx, symbol, interval, toInsert); err != nil {
		return res, err
	}
	if err := r.batchUpdate(ctx, tx, symbol, interval, toUpdate); err != nil {
		return res, err
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit upsert for %s/%s: %w", symbol, interval, err)
	}

	res.Created = len(toInsert)
	res.Updated = len(toUpdate)
	r.logger.Debug(ctx, "Candles upserted", map[string]interface{}{
		"symbol": symbol, "interval": interval, "created": res.Created, "updated": res.Updated,
	})
	return res, nil
}

func (r *Repository) batchInsert(ctx context.Context, tx *sql.Tx, symbol, interval string, candles []*domain.Candle) error {
	for start := 0; start < len(candles); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(candles) {
			end = len(candles)
		}
		chunk := candles[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*13)
		for _, c := range chunk {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				symbol, interval, c.OpenTime,
				c.Open, c.High, c.Low, c.Close, c.Volume,
				c.CloseTime, c.QuoteVolume, c.TradeCount,
				c.TakerBuyVolume, c.TakerBuyQuoteVolume)
		}

		query := fmt.Sprintf(`
		INSERT INTO %s (symbol, interval, open_time, open, high, low, close, volume,
		                close_time, quote_volume, trade_count, taker_buy_volume, taker_buy_quote_volume)
		VALUES %s`, r.table, strings.Join(placeholders, ", "))

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert %d candles for %s/%s: %w", len(chunk), symbol, interval, err)
		}
	}
	return nil
}

func (r *Repository) batchUpdate(ctx context.Context, tx *sql.Tx, symbol, interval string, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
	UPDATE %s
	SET open = ?, high = ?, low = ?, close = ?, volume = ?, close_time = ?,
	    quote_volume = ?, trade_count = ?, taker_buy_volume = ?, taker_buy_quote_volume = ?
	WHERE symbol = ? AND interval = ? AND open_time = ?`, r.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare candle update: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseTime,
			c.QuoteVolume, c.TradeCount, c.TakerBuyVolume, c.TakerBuyQuoteVolume,
			symbol, interval, c.OpenTime); err != nil {
			return fmt.Errorf("failed to update candle %s/%s@%d: %w: %w", symbol, interval, c.OpenTime, ports.ErrUpdateFailed, err)
		}
	}
	return nil
}

// FindRange retrieves candles for the inclusive window, ordered by open time.
func (r *Repository) FindRange(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*domain.Candle, error) {
	query := fmt.Sprintf(`
	SELECT symbol, interval, open_time, open, high, low, close, volume,
	       close_time, quote_volume, trade_count, taker_buy_volume, taker_buy_quote_volume
	FROM %s
	WHERE symbol = ? AND interval = ? AND open_time BETWEEN ? AND ?
	ORDER BY open_time ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s/%s: %w: %w", symbol, interval, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	candles := make([]*domain.Candle, 0)
	var lastOpen int64 = -1
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle during FindRange: %w", err)
		}
		if c.OpenTime == lastOpen {
			continue // Unique index makes this unreachable for one table, kept for read-path dedup semantics.
		}
		lastOpen = c.OpenTime
		candles = append(candles, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candle rows: %w", err)
	}
	return candles, nil
}

// OpenTimes retrieves the distinct open times present in the window, ascending.
func (r *Repository) OpenTimes(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]int64, error) {
	query := fmt.Sprintf(`
	SELECT DISTINCT open_time FROM %s
	WHERE symbol = ? AND interval = ? AND open_time BETWEEN ? AND ?
	ORDER BY open_time ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query open times for %s/%s: %w: %w", symbol, interval, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	times := make([]int64, 0)
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan open time: %w", err)
		}
		times = append(times, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open time rows: %w", err)
	}
	return times, nil
}

// CountRange counts distinct open times present in the window.
func (r *Repository) CountRange(ctx context.Context, symbol, interval string, startMs, endMs int64) (int64, error) {
	query := fmt.Sprintf(`
	SELECT COUNT(DISTINCT open_time) FROM %s
	WHERE symbol = ? AND interval = ? AND open_time BETWEEN ? AND ?`, r.table)

	var count int64
	err := r.db.QueryRowContext(ctx, query, symbol, interval, startMs, endMs).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count candles for %s/%s: %w: %w", symbol, interval, ports.ErrQueryFailed, err)
	}
	return count, nil
}

// dedupeByOpenTime collapses duplicate open times within one batch, keeping
// the last occurrence (last write wins), and returns the result ordered by
// open time ascending.
func dedupeByOpenTime(candles []*domain.Candle) []*domain.Candle {
	byTime := make(map[int64]*domain.Candle, len(candles))
	for _, c := range candles {
		byTime[c.OpenTime] = c
	}
	out := make([]*domain.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCandle scans a row into a domain.Candle struct.
func scanCandle(s scanner) (*domain.Candle, error) {
	c := &domain.Candle{}
	err := s.Scan(
		&c.Symbol, &c.Interval, &c.OpenTime,
		&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		&c.CloseTime, &c.QuoteVolume, &c.TradeCount,
		&c.TakerBuyVolume, &c.TakerBuyQuoteVolume)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	return c, nil
}

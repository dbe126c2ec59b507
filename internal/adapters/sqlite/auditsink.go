package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"riskGate/internal/domain"
	"riskGate/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// AuditSink implements the ports.AuditSink interface using SQLite.
// Writes are best-effort from the engine's point of view: callers log
// and discard the returned error.
type AuditSink struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite audit sink.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewAuditSink creates a new SQLite audit sink.
func NewAuditSink(cfg Config) (*AuditSink, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite audit sink: %w", ports.ErrConfigurationError)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/audit.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite audit sink initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite audit sink initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite audit sink initialization failed")
		return nil, err
	}

	// SQLite benefits from a single connection on the Go side.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	sink := &AuditSink{db: db, logger: cfg.Logger}
	if err := sink.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize audit schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite audit sink initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite audit sink initialized", map[string]interface{}{"path": dbPath})
	return sink, nil
}

// initializeSchema creates tables if they don't exist.
func (s *AuditSink) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS order_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL,
		stop_price REAL,
		status TEXT NOT NULL,
		strategy TEXT,
		filled_quantity REAL NOT NULL,
		avg_fill_price REAL NOT NULL,
		commission REAL NOT NULL,
		reject_reason TEXT,
		logged_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cancellation_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		reason TEXT,
		logged_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS modification_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		price REAL,
		quantity REAL NOT NULL,
		status TEXT NOT NULL,
		logged_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_order_audit_order_id ON order_audit (order_id);
	CREATE INDEX IF NOT EXISTS idx_order_audit_symbol ON order_audit (symbol, logged_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema execution failed: %w", err)
	}
	return nil
}

// LogOrder records an order snapshot.
func (s *AuditSink) LogOrder(ctx context.Context, order *domain.Order) error {
	const q = `INSERT INTO order_audit
		(order_id, symbol, side, order_type, quantity, price, stop_price, status, strategy,
		 filled_quantity, avg_fill_price, commission, reject_reason, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		order.ID, order.Symbol, string(order.Side), string(order.Type), order.Quantity,
		order.Price, order.StopPrice, string(order.Status), order.Strategy,
		order.FilledQuantity, order.AvgFillPrice, order.Commission, order.RejectReason, time.Now())
	if err != nil {
		return fmt.Errorf("insert order audit row: %v: %w", err, ports.ErrAuditWriteFailed)
	}
	return nil
}

// LogOrderCancellation records a confirmed cancellation.
func (s *AuditSink) LogOrderCancellation(ctx context.Context, orderID, reason string) error {
	const q = `INSERT INTO cancellation_audit (order_id, reason, logged_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, orderID, reason, time.Now()); err != nil {
		return fmt.Errorf("insert cancellation audit row: %v: %w", err, ports.ErrAuditWriteFailed)
	}
	return nil
}

// LogOrderModification records a confirmed modification.
func (s *AuditSink) LogOrderModification(ctx context.Context, order *domain.Order) error {
	const q = `INSERT INTO modification_audit (order_id, price, quantity, status, logged_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, order.ID, order.Price, order.Quantity, string(order.Status), time.Now())
	if err != nil {
		return fmt.Errorf("insert modification audit row: %v: %w", err, ports.ErrAuditWriteFailed)
	}
	return nil
}

// OrderAuditCount returns how many audit rows exist for an order.
func (s *AuditSink) OrderAuditCount(ctx context.Context, orderID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_audit WHERE order_id = ?`, orderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count order audit rows: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *AuditSink) Close() error {
	return s.db.Close()
}

package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

const rowsTable = "ovsdb_rows"

// SQLConfig describes a MySQL/TiDB connection. DSN wins over the individual fields.
type SQLConfig struct {
	DSN          string
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	MaxOpenConns int
}

var tlsOnce sync.Once // TLS config may only be registered once per process

// FormatDSN builds the driver DSN. Remote hosts get TLS with ServerName set.
func (c SQLConfig) FormatDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == "" {
		port = "4000"
	}
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if c.Host != "" && c.Host != "127.0.0.1" && c.Host != "localhost" {
		cfg.TLSConfig = "tidb"
	}
	return cfg.FormatDSN()
}

// SQLStore keeps every row as a JSON document in a single MySQL/TiDB table
type SQLStore struct {
	db           *sql.DB
	logger       *zap.SugaredLogger
	maxRetries   int
	retryBackoff time.Duration
}

// OpenSQL connects to MySQL/TiDB and makes sure the rows table exists
func OpenSQL(ctx context.Context, cfg SQLConfig, logger *zap.SugaredLogger) (*SQLStore, error) {
	if cfg.DSN == "" && cfg.Host != "" && cfg.Host != "127.0.0.1" && cfg.Host != "localhost" {
		tlsOnce.Do(func() {
			if err := mysql.RegisterTLSConfig("tidb", &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: cfg.Host,
			}); err != nil {
				logger.Warnw("Failed to register TLS config", "error", err)
			}
		})
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// MaxIdleConns must equal MaxOpenConns to avoid reconnect churn
	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 20
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)

	s := NewSQLStore(db, logger)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database handle
func NewSQLStore(db *sql.DB, logger *zap.SugaredLogger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLStore{
		db:           db,
		logger:       logger,
		maxRetries:   3,
		retryBackoff: 100 * time.Millisecond,
	}
}

// EnsureSchema creates the rows table if it is missing
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+rowsTable+` (
		tbl VARCHAR(64) NOT NULL,
		uuid CHAR(36) NOT NULL,
		data JSON NOT NULL,
		PRIMARY KEY (tbl, uuid)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", rowsTable, classify(err))
	}
	return nil
}

// Snapshot loads every row
func (s *SQLStore) Snapshot(ctx context.Context) (replica.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tbl, uuid, data FROM "+rowsTable)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	snap := make(replica.Snapshot)
	for rows.Next() {
		var table, id string
		var data []byte
		if err := rows.Scan(&table, &id, &data); err != nil {
			return nil, classify(err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, fmt.Errorf("row %s/%s: %w", table, id, err)
		}
		if snap[table] == nil {
			snap[table] = make(map[string]map[string]any)
		}
		snap[table][id] = row
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return snap, nil
}

// Transact applies ops in one SQL transaction, retrying on deadlock
func (s *SQLStore) Transact(ctx context.Context, ops []replica.Op) error {
	err := s.withRetry(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			if err := applyOp(ctx, tx, op); err != nil {
				return err
			}
		}
		return nil
	})
	return classify(err)
}

// Ping checks the connection
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDisconnected, err)
	}
	return nil
}

// Close closes the database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func applyOp(ctx context.Context, tx *sql.Tx, op replica.Op) error {
	var (
		res sql.Result
		err error
	)
	switch op.Kind {
	case replica.OpInsert:
		data, merr := json.Marshal(op.Row)
		if merr != nil {
			return merr
		}
		res, err = tx.ExecContext(ctx, "INSERT INTO "+rowsTable+" (tbl, uuid, data) VALUES (?, ?, ?)",
			op.Table, op.UUID, string(data))
	case replica.OpUpdate:
		data, merr := json.Marshal(op.Row)
		if merr != nil {
			return merr
		}
		res, err = tx.ExecContext(ctx, "UPDATE "+rowsTable+" SET data = ? WHERE tbl = ? AND uuid = ?",
			string(data), op.Table, op.UUID)
	case replica.OpDelete:
		res, err = tx.ExecContext(ctx, "DELETE FROM "+rowsTable+" WHERE tbl = ? AND uuid = ?",
			op.Table, op.UUID)
	default:
		return fmt.Errorf("unknown op %d", op.Kind)
	}
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Table, op.UUID, err)
	}
	if op.Kind != replica.OpInsert {
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s %s/%s: row does not exist", op.Kind, op.Table, op.UUID)
		}
	}
	return nil
}

// withTransaction runs fn in a transaction, rolling back on error or panic
func (s *SQLStore) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withRetry retries deadlocked transactions with exponential backoff
func (s *SQLStore) withRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.withTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isDeadlock(err) {
			return err
		}
		if attempt < s.maxRetries-1 {
			backoff := s.retryBackoff * time.Duration(1<<uint(attempt))
			s.logger.Warnw("Deadlock detected, retrying", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", s.maxRetries, lastErr)
}

// isDeadlock reports MySQL/TiDB 1213 (deadlock) and 1205 (lock wait timeout)
func isDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "lock wait timeout")
}

// classify maps connection failures to ErrDisconnected
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrDisconnected, err)
	}
	return err
}

// decodeRow unmarshals a JSON row keeping integers as int64
func decodeRow(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	for k, v := range row {
		row[k] = normalizeNumbers(v)
	}
	return row, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	}
	return v
}

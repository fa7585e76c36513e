package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertAuditEntry = `
	INSERT INTO audit_logs (id, timestamp, duration_ns, request_id, method,
		path, status_code, provider, model, error_type, data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING
`

// PostgreSQLStore implements LogStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the audit_logs table if needed and starts
// the retention cleanup goroutine when retention is configured.
func NewPostgreSQLStore(pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT DEFAULT 0,
			request_id TEXT,
			method TEXT,
			path TEXT,
			status_code INTEGER DEFAULT 0,
			provider TEXT,
			model TEXT,
			error_type TEXT,
			data JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_logs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_logs(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_logs(status_code)",
		"CREATE INDEX IF NOT EXISTS idx_audit_provider ON audit_logs(provider)",
		"CREATE INDEX IF NOT EXISTS idx_audit_model ON audit_logs(model)",
		"CREATE INDEX IF NOT EXISTS idx_audit_data_gin ON audit_logs USING GIN (data)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch persists entries. Small batches go as individual inserts;
// anything larger is pipelined through a pgx batch so the round trips
// collapse into one.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	if len(entries) < 10 {
		return s.writeBatchSmall(ctx, entries)
	}

	return s.writeBatchLarge(ctx, entries)
}

func (s *PostgreSQLStore) writeBatchSmall(ctx context.Context, entries []*LogEntry) error {
	for _, e := range entries {
		if _, err := s.pool.Exec(ctx, insertAuditEntry, entryArgs(e)...); err != nil {
			slog.Warn("failed to insert audit entry", "error", err, "id", e.ID)
		}
	}
	return nil
}

func (s *PostgreSQLStore) writeBatchLarge(ctx context.Context, entries []*LogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertAuditEntry, entryArgs(e)...)
	}

	results := s.pool.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			slog.Warn("failed to insert audit entry in batch", "error", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close audit batch: %w", err)
	}

	return nil
}

// entryArgs flattens an entry into the insert parameter order. A nil
// data slice lands as JSONB NULL.
func entryArgs(e *LogEntry) []interface{} {
	return []interface{}{
		e.ID,
		e.Timestamp,
		e.DurationNs,
		e.RequestID,
		e.Method,
		e.Path,
		e.StatusCode,
		e.Provider,
		e.Model,
		e.ErrorType,
		marshalLogData(e.Data, e.ID),
	}
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The pool stays open; the storage
// layer owns it.
func (s *PostgreSQLStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.pool.Exec(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to clean up old audit entries", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old audit entries", "deleted", result.RowsAffected())
	}
}

//go:build integration

// Package dbassert reads audit trail state back out of the backing
// stores so integration tests can assert on what the gateway recorded.
package dbassert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"chatgate/internal/auditlog"
)

// AuditEntry is a stored audit row in backend-neutral form.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	DurationNs int64
	RequestID  string
	Method     string
	Path       string
	StatusCode int
	Provider   string
	Model      string
	ErrorType  string
	Data       *auditlog.LogData
}

// QueryPostgres returns the audit entries recorded for a request ID.
func QueryPostgres(t *testing.T, pool *pgxpool.Pool, requestID string) []AuditEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := `
		SELECT id, timestamp, duration_ns, request_id, method, path,
		       status_code, provider, model, error_type, data
		FROM audit_logs
		WHERE request_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := pool.Query(ctx, query, requestID)
	require.NoError(t, err, "failed to query audit entries")
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var dataJSON []byte
		err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.DurationNs,
			&entry.RequestID, &entry.Method, &entry.Path,
			&entry.StatusCode, &entry.Provider, &entry.Model,
			&entry.ErrorType, &dataJSON,
		)
		require.NoError(t, err, "failed to scan audit row")

		if dataJSON != nil {
			var data auditlog.LogData
			require.NoError(t, json.Unmarshal(dataJSON, &data), "failed to unmarshal audit data")
			entry.Data = &data
		}
		entries = append(entries, entry)
	}
	require.NoError(t, rows.Err(), "error iterating audit rows")

	return entries
}

// CountPostgresByPath returns how many audit entries exist for a path,
// across all requests.
func CountPostgresByPath(t *testing.T, pool *pgxpool.Pool, path string) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs WHERE path = $1", path).Scan(&count)
	require.NoError(t, err, "failed to count audit entries")
	return count
}

// QueryMongo returns the audit entries recorded for a request ID.
func QueryMongo(t *testing.T, db *mongo.Database, requestID string) []AuditEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := db.Collection("audit_logs").Find(ctx, bson.M{"request_id": requestID})
	require.NoError(t, err, "failed to query audit entries")
	defer cursor.Close(ctx)

	var entries []AuditEntry
	for cursor.Next(ctx) {
		var stored auditlog.LogEntry
		require.NoError(t, cursor.Decode(&stored), "failed to decode audit document")

		entries = append(entries, AuditEntry{
			ID:         stored.ID,
			Timestamp:  stored.Timestamp,
			DurationNs: stored.DurationNs,
			RequestID:  stored.RequestID,
			Method:     stored.Method,
			Path:       stored.Path,
			StatusCode: stored.StatusCode,
			Provider:   stored.Provider,
			Model:      stored.Model,
			ErrorType:  stored.ErrorType,
			Data:       stored.Data,
		})
	}
	require.NoError(t, cursor.Err(), "error iterating audit cursor")

	return entries
}

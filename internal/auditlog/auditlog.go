// Package auditlog records one entry per gateway request: who asked,
// which model answered, how long it took, and what came back on the
// stream. Entries carry metadata only; message text never enters the
// trail.
package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// LogStore persists audit entries to a storage backend.
type LogStore interface {
	// WriteBatch persists a batch of entries. Implementations must not
	// retain the slice after returning.
	WriteBatch(ctx context.Context, entries []*LogEntry) error

	// Flush forces any pending writes to complete.
	Flush(ctx context.Context) error

	// Close releases store resources. It does not close the underlying
	// database connection, which belongs to the storage layer.
	Close() error
}

// LogEntry is a single audited request. Commonly filtered fields live at
// the top level so the SQL stores can index them; everything else rides
// in Data as a JSON blob.
type LogEntry struct {
	ID         string    `json:"id" bson:"_id"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	DurationNs int64     `json:"duration_ns" bson:"duration_ns"`
	RequestID  string    `json:"request_id" bson:"request_id"`
	Method     string    `json:"method" bson:"method"`
	Path       string    `json:"path" bson:"path"`
	StatusCode int       `json:"status_code" bson:"status_code"`
	Provider   string    `json:"provider,omitempty" bson:"provider,omitempty"`
	Model      string    `json:"model,omitempty" bson:"model,omitempty"`
	ErrorType  string    `json:"error_type,omitempty" bson:"error_type,omitempty"`
	Data       *LogData  `json:"data,omitempty" bson:"data,omitempty"`
}

// LogData is the non-indexed remainder of an entry. Stream fields are
// filled after the relay finishes; the content digest is a hex xxhash of
// the relayed text, enough to correlate or deduplicate responses without
// retaining them.
type LogData struct {
	ClientIP      string `json:"client_ip,omitempty" bson:"client_ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	UserSubject   string `json:"user_subject,omitempty" bson:"user_subject,omitempty"`
	Fragments     int    `json:"fragments,omitempty" bson:"fragments,omitempty"`
	StreamBytes   int64  `json:"stream_bytes,omitempty" bson:"stream_bytes,omitempty"`
	ContentDigest string `json:"content_digest,omitempty" bson:"content_digest,omitempty"`
	InputTokens   int    `json:"input_tokens,omitempty" bson:"input_tokens,omitempty"`
	OutputTokens  int    `json:"output_tokens,omitempty" bson:"output_tokens,omitempty"`
	TotalTokens   int    `json:"total_tokens,omitempty" bson:"total_tokens,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty" bson:"error_message,omitempty"`
}

// marshalLogData serializes Data for the SQL stores. A nil Data stays
// nil so the column is NULL rather than the string "null".
func marshalLogData(data *LogData, entryID string) []byte {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		slog.Warn("failed to marshal audit data", "entry_id", entryID, "error", err)
		return nil
	}
	return b
}

// Config holds audit logging configuration.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool

	// BufferSize is the number of entries to buffer before writes block.
	BufferSize int

	// FlushInterval is how often buffered entries are flushed.
	FlushInterval time.Duration

	// RetentionDays is how long to keep entries (0 = forever).
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}

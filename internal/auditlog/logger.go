package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LoggerInterface is implemented by both the real and the noop logger.
type LoggerInterface interface {
	Write(entry *LogEntry)
	Config() Config
	Close() error
}

// Logger buffers entries in a channel and flushes them to the store in
// batches, either when the batch fills or on a timer. Writes never block
// the request path.
type Logger struct {
	store         LogStore
	config        Config
	buffer        chan *LogEntry
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // in-flight Write calls
	flushInterval time.Duration
	closed        atomic.Bool
}

// NewLogger creates a Logger and starts its background flush goroutine.
func NewLogger(store LogStore, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		config:        cfg,
		buffer:        make(chan *LogEntry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues an entry for async writing. If the buffer is full or the
// logger is closed the entry is dropped; the audit trail must never stall
// a request.
func (l *Logger) Write(entry *LogEntry) {
	if entry == nil {
		return
	}

	if l.closed.Load() {
		return
	}

	// Registering the write keeps Close from tearing down the buffer
	// while a send is in progress.
	l.writes.Add(1)
	defer l.writes.Done()

	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		requestID := entry.RequestID
		if requestID == "" {
			requestID = "unknown"
		}
		slog.Warn("audit buffer full, dropping entry",
			"request_id", requestID,
			"path", entry.Path,
		)
	}
}

// Config returns the logger configuration.
func (l *Logger) Config() Config {
	return l.config
}

// Close stops the flush loop, drains the buffer, and closes the store.
// It is idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	// Wait for in-flight Write calls before closing the buffer.
	l.writes.Wait()

	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*LogEntry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*LogEntry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*LogEntry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			// Drain whatever is still queued, then flush the store.
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush audit store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*LogEntry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger satisfies LoggerInterface when audit logging is disabled.
type NoopLogger struct{}

// Write does nothing.
func (l *NoopLogger) Write(_ *LogEntry) {}

// Config returns a disabled config.
func (l *NoopLogger) Config() Config {
	return Config{Enabled: false}
}

// Close does nothing.
func (l *NoopLogger) Close() error {
	return nil
}

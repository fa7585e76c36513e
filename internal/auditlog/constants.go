package auditlog

// BatchFlushThreshold is the number of buffered entries that triggers an
// immediate flush. When the batch reaches this size it is written to
// storage without waiting for the timer.
const BatchFlushThreshold = 100

type contextKey string

// LogEntryKey is the echo context key the middleware stores the entry
// under, so handlers can enrich it before it is written.
const LogEntryKey contextKey = "auditlog_entry"

package auditlog

import "time"

// CleanupInterval is how often the SQL stores delete entries older than
// the retention window. The Mongo store relies on a TTL index instead.
const CleanupInterval = 1 * time.Hour

// RunCleanupLoop calls cleanupFn immediately and then at CleanupInterval
// until stop is closed.
func RunCleanupLoop(stop <-chan struct{}, cleanupFn func()) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}

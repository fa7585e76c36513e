// Package usage observes relayed chat streams. It counts the fragments and
// bytes that actually reach the caller, digests the relayed content, and
// picks token counts out of the upstream events that carry them. Nothing in
// this package stores message text.
package usage

// TokenUsage holds the token counts an upstream provider reported for one
// completion.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Stats is a snapshot of one relayed stream.
type Stats struct {
	// Fragments is the number of reads that returned content. With the
	// one-event-per-read streams the adapters produce, this matches the
	// upstream fragment count as long as the relay buffer is larger than
	// a single fragment.
	Fragments int

	// Bytes is the total content length relayed to the caller.
	Bytes int64

	// Digest is the xxhash64 of the relayed content.
	Digest uint64

	// Tokens holds upstream-reported counts; valid only when TokensSeen
	// is true.
	Tokens     TokenUsage
	TokensSeen bool
}

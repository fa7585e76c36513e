package usage

import (
	"io"

	"github.com/cespare/xxhash/v2"
)

// StreamStats wraps a normalized provider stream and records what actually
// goes to the caller: content-bearing reads, byte count, and an xxhash64
// digest of the relayed text. When the wrapped stream implements Reporter,
// upstream token counts land in the snapshot too.
type StreamStats struct {
	io.ReadCloser
	reporter  Reporter
	digest    *xxhash.Digest
	fragments int
	bytes     int64
	closed    bool
}

// NewStreamStats wraps stream.
func NewStreamStats(stream io.ReadCloser) *StreamStats {
	s := &StreamStats{
		ReadCloser: stream,
		digest:     xxhash.New(),
	}
	if r, ok := stream.(Reporter); ok {
		s.reporter = r
	}
	return s
}

// Read relays from the wrapped stream and folds the returned content into
// the running stats.
func (s *StreamStats) Read(p []byte) (int, error) {
	n, err := s.ReadCloser.Read(p)
	if n > 0 {
		s.fragments++
		s.bytes += int64(n)
		s.digest.Write(p[:n])
	}
	return n, err
}

// Close closes the wrapped stream. Double close is safe.
func (s *StreamStats) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ReadCloser.Close()
}

// Stats snapshots what has been relayed so far. Callers take it after the
// relay loop ends.
func (s *StreamStats) Stats() Stats {
	st := Stats{
		Fragments: s.fragments,
		Bytes:     s.bytes,
		Digest:    s.digest.Sum64(),
	}
	if s.reporter != nil {
		st.Tokens, st.TokensSeen = s.reporter.TokenUsage()
	}
	return st
}

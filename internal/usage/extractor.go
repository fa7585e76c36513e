package usage

import "github.com/tidwall/gjson"

// Reporter is implemented by provider streams that see token usage in the
// upstream events they consume. It is discovered by type assertion, so
// providers keep returning a plain io.ReadCloser.
type Reporter interface {
	TokenUsage() (TokenUsage, bool)
}

// Extractor accumulates token counts from raw upstream event payloads.
// Provider stream readers feed every decoded event through Scan; the zero
// value is ready to use. Not safe for concurrent use, matching the
// single-reader discipline of the streams that embed it.
type Extractor struct {
	tokens TokenUsage
	seen   bool
}

// Scan inspects one raw event payload for token counts. The probed paths
// cover the shapes seen on the wire:
//
//	{"usage":{"prompt_tokens":9,"completion_tokens":12,"total_tokens":21}}
//	{"type":"message_start","message":{"usage":{"input_tokens":9}}}
//	{"type":"message_delta","usage":{"output_tokens":12}}
//
// Later events win field by field, which matches providers that report
// cumulative counts in their closing events.
func (e *Extractor) Scan(data []byte) {
	e.scanInt(data, "usage.prompt_tokens", &e.tokens.InputTokens)
	e.scanInt(data, "usage.input_tokens", &e.tokens.InputTokens)
	e.scanInt(data, "message.usage.input_tokens", &e.tokens.InputTokens)
	e.scanInt(data, "usage.completion_tokens", &e.tokens.OutputTokens)
	e.scanInt(data, "usage.output_tokens", &e.tokens.OutputTokens)
	e.scanInt(data, "message.usage.output_tokens", &e.tokens.OutputTokens)
	e.scanInt(data, "usage.total_tokens", &e.tokens.TotalTokens)
}

func (e *Extractor) scanInt(data []byte, path string, dst *int) {
	if r := gjson.GetBytes(data, path); r.Type == gjson.Number {
		*dst = int(r.Int())
		e.seen = true
	}
}

// TokenUsage returns the accumulated counts. The bool reports whether any
// scanned event carried usage at all. A missing total is filled from the
// per-direction counts.
func (e *Extractor) TokenUsage() (TokenUsage, bool) {
	t := e.tokens
	if t.TotalTokens == 0 {
		t.TotalTokens = t.InputTokens + t.OutputTokens
	}
	return t, e.seen
}

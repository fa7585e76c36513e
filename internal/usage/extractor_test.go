package usage

import "testing"

func TestExtractorOpenAITailChunk(t *testing.T) {
	var e Extractor

	e.Scan([]byte(`{"id":"chatcmpl-123","choices":[{"delta":{"content":"Hi"}}],"usage":null}`))
	e.Scan([]byte(`{"id":"chatcmpl-123","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":12,"total_tokens":21}}`))

	tokens, seen := e.TokenUsage()
	if !seen {
		t.Fatal("expected usage to be seen")
	}
	if tokens.InputTokens != 9 {
		t.Errorf("InputTokens = %d, want 9", tokens.InputTokens)
	}
	if tokens.OutputTokens != 12 {
		t.Errorf("OutputTokens = %d, want 12", tokens.OutputTokens)
	}
	if tokens.TotalTokens != 21 {
		t.Errorf("TotalTokens = %d, want 21", tokens.TotalTokens)
	}
}

func TestExtractorClaudeEvents(t *testing.T) {
	var e Extractor

	// message_start carries input tokens, message_delta reports cumulative
	// output tokens. The last delta wins.
	e.Scan([]byte(`{"type":"message_start","message":{"id":"msg_01","usage":{"input_tokens":9,"output_tokens":1}}}`))
	e.Scan([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`))
	e.Scan([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":12}}`))

	tokens, seen := e.TokenUsage()
	if !seen {
		t.Fatal("expected usage to be seen")
	}
	if tokens.InputTokens != 9 {
		t.Errorf("InputTokens = %d, want 9", tokens.InputTokens)
	}
	if tokens.OutputTokens != 12 {
		t.Errorf("OutputTokens = %d, want 12", tokens.OutputTokens)
	}
	// No total on the wire: filled from the per-direction counts.
	if tokens.TotalTokens != 21 {
		t.Errorf("TotalTokens = %d, want 21", tokens.TotalTokens)
	}
}

func TestExtractorNoUsage(t *testing.T) {
	var e Extractor

	e.Scan([]byte(`{"choices":[{"delta":{"content":"Hello"}}]}`))
	e.Scan([]byte(`{"type":"ping"}`))
	e.Scan([]byte(`not json`))

	if _, seen := e.TokenUsage(); seen {
		t.Error("expected no usage to be seen")
	}
}

func TestExtractorIgnoresNonNumericUsage(t *testing.T) {
	var e Extractor

	e.Scan([]byte(`{"usage":null}`))
	e.Scan([]byte(`{"usage":{"prompt_tokens":null,"completion_tokens":"12"}}`))

	if _, seen := e.TokenUsage(); seen {
		t.Error("expected non-numeric usage fields to be ignored")
	}
}

//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// defaultFragments is the scripted completion every stream returns
// unless a test overrides it.
var defaultFragments = []string{"Hello", " from", " the", " mock"}

// MockProviderServer simulates the upstream LLM APIs. It answers the
// OpenAI chat completions path and the Anthropic messages path with
// scripted SSE streams and records every request it receives.
type MockProviderServer struct {
	server *httptest.Server

	mu        sync.Mutex
	requests  []RecordedRequest
	fragments []string
	failCode  int
	failBody  string
}

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Path    string
	Headers http.Header
	Body    []byte
}

// NewMockProviderServer creates a mock upstream serving both provider
// wire formats.
func NewMockProviderServer() *MockProviderServer {
	m := &MockProviderServer{fragments: defaultFragments}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the server URL.
func (m *MockProviderServer) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockProviderServer) Close() {
	m.server.Close()
}

// SetFragments overrides the scripted completion for subsequent streams.
func (m *MockProviderServer) SetFragments(fragments ...string) {
	m.mu.Lock()
	m.fragments = fragments
	m.mu.Unlock()
}

// FailNext makes the next request fail with the given status and body.
func (m *MockProviderServer) FailNext(code int, body string) {
	m.mu.Lock()
	m.failCode = code
	m.failBody = body
	m.mu.Unlock()
}

// LastRequest returns the most recently recorded request.
func (m *MockProviderServer) LastRequest() (RecordedRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Reset clears recorded requests and restores the default script.
func (m *MockProviderServer) Reset() {
	m.mu.Lock()
	m.requests = nil
	m.fragments = defaultFragments
	m.failCode = 0
	m.failBody = ""
	m.mu.Unlock()
}

func (m *MockProviderServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	failCode, failBody := m.failCode, m.failBody
	m.failCode, m.failBody = 0, ""
	fragments := m.fragments
	m.mu.Unlock()

	if failCode != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failCode)
		_, _ = w.Write([]byte(failBody))
		return
	}

	switch r.URL.Path {
	case "/v1/chat/completions":
		m.streamOpenAI(w, fragments)
	case "/v1/messages":
		m.streamClaude(w, fragments)
	default:
		http.NotFound(w, r)
	}
}

// streamOpenAI writes a delta-event SSE stream: one content chunk per
// fragment, a trailing usage chunk, then the [DONE] marker.
func (m *MockProviderServer) streamOpenAI(w http.ResponseWriter, fragments []string) {
	flusher := beginSSE(w)

	for _, fragment := range fragments {
		chunk := map[string]interface{}{
			"id":     "chatcmpl-e2e",
			"object": "chat.completion.chunk",
			"choices": []map[string]interface{}{
				{"index": 0, "delta": map[string]string{"content": fragment}},
			},
		}
		writeSSE(w, "", chunk)
		flusher.Flush()
	}

	usage := map[string]interface{}{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion.chunk",
		"choices": []map[string]interface{}{},
		"usage": map[string]int{
			"prompt_tokens":     12,
			"completion_tokens": len(fragments),
			"total_tokens":      12 + len(fragments),
		},
	}
	writeSSE(w, "", usage)
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// streamClaude writes a typed-event SSE stream: message_start with the
// input count, one content_block_delta per fragment, a message_delta
// with the output count, then message_stop.
func (m *MockProviderServer) streamClaude(w http.ResponseWriter, fragments []string) {
	flusher := beginSSE(w)

	writeSSE(w, "message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":    "msg-e2e",
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 1},
		},
	})
	flusher.Flush()

	for _, fragment := range fragments {
		writeSSE(w, "content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]string{"type": "text_delta", "text": fragment},
		})
		flusher.Flush()
	}

	writeSSE(w, "message_delta", map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]string{"stop_reason": "end_turn"},
		"usage": map[string]int{"output_tokens": len(fragments)},
	})
	writeSSE(w, "message_stop", map[string]string{"type": "message_stop"})
	flusher.Flush()
}

func beginSSE(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return w.(http.Flusher)
}

func writeSSE(w io.Writer, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

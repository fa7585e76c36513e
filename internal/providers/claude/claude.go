// Package claude provides Anthropic Claude API integration for the chat
// gateway.
package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"chatgate/internal/core"
	"chatgate/internal/llmclient"
	"chatgate/internal/providers"
	"chatgate/internal/usage"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// supportedModels is the fixed list the gateway accepts for Claude.
var supportedModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
}

func init() {
	// Self-register with the factory
	providers.Register("claude", func(credential string) core.Provider {
		return New(credential)
	})
}

// Provider implements the core.Provider interface for Claude
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Claude provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.New(llmclient.Config{
		ProviderName: "claude",
		BaseURL:      defaultBaseURL,
	}, p.setHeaders)
	return p
}

// NewWithHTTPClient creates a new Claude provider with a custom HTTP client
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.Config{
		ProviderName: "claude",
		BaseURL:      defaultBaseURL,
	}, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// SupportedModels returns the models the gateway relays to Claude
func (p *Provider) SupportedModels() []string {
	models := make([]string, len(supportedModels))
	copy(models, supportedModels)
	return models
}

// IsModelSupported reports whether the model is in the supported list
func (p *Provider) IsModelSupported(model string) bool {
	for _, m := range supportedModels {
		if m == model {
			return true
		}
	}
	return false
}

// messageRequest is the Anthropic Messages API request body
type messageRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildRequest maps gateway messages onto the Anthropic wire format.
// The system message moves to the top-level system field, other
// messages are flattened to plain text. Claude's Messages API takes no
// image attachments here, so image parts are dropped with a warning.
func buildRequest(messages []core.Message, model string, maxTokens int, stream bool) messageRequest {
	req := messageRequest{
		Model:     model,
		Messages:  make([]message, 0, len(messages)),
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = core.DefaultMaxTokens
	}

	dropped := 0
	for _, msg := range messages {
		dropped += msg.ImageCount()
		if msg.Role == core.RoleSystem {
			req.System = msg.Text()
			continue
		}
		req.Messages = append(req.Messages, message{Role: msg.Role, Content: msg.Text()})
	}
	if dropped > 0 {
		slog.Warn("dropping image attachments not supported by claude", "count", dropped)
	}

	return req
}

// StreamChatCompletion starts a streaming completion and returns a
// reader of plain text fragments (caller must close)
func (p *Provider) StreamChatCompletion(ctx context.Context, messages []core.Message, model string, maxTokens int) (io.ReadCloser, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildRequest(messages, model, maxTokens, true),
	})
	if err != nil {
		return nil, err
	}
	return newStreamReader(body), nil
}

// streamEvent is an Anthropic SSE event. Only content_block_delta
// events carry text; message_stop ends the stream.
type streamEvent struct {
	Type  string       `json:"type"`
	Delta *streamDelta `json:"delta,omitempty"`
}

type streamDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// streamReader converts the Anthropic typed-event SSE stream into plain
// text fragments. Each Read returns the text of at most one upstream
// event; events without text are skipped after being scanned for token
// usage (message_start and message_delta carry the counts).
type streamReader struct {
	reader *bufio.Reader
	body   io.ReadCloser
	buffer []byte
	tokens usage.Extractor
	closed bool
}

func newStreamReader(body io.ReadCloser) *streamReader {
	return &streamReader{
		reader: bufio.NewReader(body),
		body:   body,
		buffer: make([]byte, 0, 1024),
	}
}

func (sr *streamReader) Read(p []byte) (n int, err error) {
	if sr.closed {
		return 0, io.EOF
	}

	// If we have buffered data, return it first
	if len(sr.buffer) > 0 {
		n = copy(p, sr.buffer)
		sr.buffer = sr.buffer[n:]
		return n, nil
	}

	for {
		line, err := sr.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				sr.closed = true
				_ = sr.body.Close()
				return 0, io.EOF
			}
			return 0, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}

		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		sr.tokens.Scan(data)

		var event streamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta == nil || event.Delta.Text == "" {
				continue
			}
			sr.buffer = append(sr.buffer, event.Delta.Text...)
			n = copy(p, sr.buffer)
			sr.buffer = sr.buffer[n:]
			return n, nil
		case "message_stop":
			sr.closed = true
			_ = sr.body.Close()
			return 0, io.EOF
		default:
			continue
		}
	}
}

func (sr *streamReader) Close() error {
	sr.closed = true
	return sr.body.Close()
}

// TokenUsage reports the counts scanned from the stream's envelope
// events, if any arrived.
func (sr *streamReader) TokenUsage() (usage.TokenUsage, bool) {
	return sr.tokens.TokenUsage()
}

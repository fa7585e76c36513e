// Package openai provides OpenAI API integration for the chat gateway.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"chatgate/internal/core"
	"chatgate/internal/llmclient"
	"chatgate/internal/providers"
	"chatgate/internal/usage"
)

const defaultBaseURL = "https://api.openai.com/v1"

// supportedModels is the fixed list the gateway accepts for OpenAI.
var supportedModels = []string{
	"gpt-4o-mini",
	"gpt-4o",
	"gpt-4-turbo",
	"gpt-4",
	"gpt-3.5-turbo",
}

func init() {
	// Self-register with the factory
	providers.Register("openai", func(credential string) core.Provider {
		return New(credential)
	})
}

// Provider implements the core.Provider interface for OpenAI
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new OpenAI provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.New(llmclient.Config{
		ProviderName: "openai",
		BaseURL:      defaultBaseURL,
	}, p.setHeaders)
	return p
}

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.Config{
		ProviderName: "openai",
		BaseURL:      defaultBaseURL,
	}, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	// Forward request ID if present in context using OpenAI's X-Client-Request-Id header.
	// OpenAI requires ASCII-only characters and max 512 bytes, otherwise returns 400.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

// isValidClientRequestID checks if the request ID is valid for OpenAI's X-Client-Request-Id header.
// OpenAI requires: ASCII characters only, max 512 characters.
func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// SupportedModels returns the models the gateway relays to OpenAI
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

// chatRequest is the JSON body for the chat completions endpoint
type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
}

// streamOptions asks the API to append a usage chunk to the stream. The
// chunk carries no content, so it never surfaces as a fragment.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatMessage carries either a plain string or content parts
type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// convertMessages maps gateway messages onto the OpenAI wire format.
// Messages without parts stay plain strings; multimodal messages become
// part arrays with images inlined as data URLs.
func convertMessages(messages []core.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			out = append(out, chatMessage{Role: msg.Role, Content: msg.Content})
			continue
		}

		parts := make([]contentPart, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch part.Type {
			case core.PartTypeText:
				parts = append(parts, contentPart{Type: "text", Text: part.Text})
			case core.PartTypeImage:
				parts = append(parts, contentPart{
					Type:     "image_url",
					ImageURL: &imageURL{URL: "data:image/jpeg;base64," + part.Image},
				})
			}
		}
		out = append(out, chatMessage{Role: msg.Role, Content: parts})
	}
	return out
}

// StreamChatCompletion starts a streaming completion and returns a
// reader of plain text fragments (caller must close)
func (p *Provider) StreamChatCompletion(ctx context.Context, messages []core.Message, model string, maxTokens int) (io.ReadCloser, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body: chatRequest{
			Model:         model,
			Messages:      convertMessages(messages),
			Stream:        true,
			StreamOptions: &streamOptions{IncludeUsage: true},
			MaxTokens:     maxTokens,
		},
	})
	if err != nil {
		return nil, err
	}
	return newStreamReader(body), nil
}

// streamChunk is the part of an SSE delta event the gateway cares about
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// streamReader converts the OpenAI delta SSE stream into plain text
// fragments. Each Read returns the content of at most one upstream
// event; events without content are skipped after being scanned for
// token usage.
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
		if bytes.Equal(data, []byte("[DONE]")) {
			sr.closed = true
			_ = sr.body.Close()
			return 0, io.EOF
		}
		sr.tokens.Scan(data)

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		sr.buffer = append(sr.buffer, chunk.Choices[0].Delta.Content...)
		n = copy(p, sr.buffer)
		sr.buffer = sr.buffer[n:]
		return n, nil
	}
}

func (sr *streamReader) Close() error {
	sr.closed = true
	return sr.body.Close()
}

// TokenUsage reports the counts from the stream's usage chunk, if one
// arrived.
func (sr *streamReader) TokenUsage() (usage.TokenUsage, bool) {
	return sr.tokens.TokenUsage()
}

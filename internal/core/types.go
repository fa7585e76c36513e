package core

import "strings"

// Message roles accepted in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults applied when a chat request omits optional fields.
const (
	DefaultModel     = "gpt-4o-mini"
	DefaultProvider  = "openai"
	DefaultMaxTokens = 4000
)

// Content part types.
const (
	PartTypeText  = "text"
	PartTypeImage = "image"
)

// ContentPart is one element of a multimodal message body. Image parts
// carry the raw base64 payload without a data URI prefix.
type ContentPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Message is a single entry in the normalized conversation handed to a
// provider adapter. Content holds plain text; Parts holds multimodal
// content and takes precedence when non-empty.
type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text flattens the message to plain text: Content when there are no
// parts, otherwise the text parts joined with single spaces.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartTypeText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// ImageCount returns the number of image parts in the message.
func (m Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == PartTypeImage {
			n++
		}
	}
	return n
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	DeveloperMessage string   `json:"developer_message"`
	UserMessage      string   `json:"user_message"`
	Model            string   `json:"model"`
	Provider         string   `json:"provider"`
	APIKey           string   `json:"api_key,omitempty"`
	Images           []string `json:"images,omitempty"`
}

// ApplyDefaults fills in the default model and provider for empty fields.
func (r *ChatRequest) ApplyDefaults() {
	if r.Model == "" {
		r.Model = DefaultModel
	}
	if r.Provider == "" {
		r.Provider = DefaultProvider
	}
}

// BuildMessages converts the request into the normalized conversation:
// one system message built from the developer prompt, then one user
// message carrying the prompt text followed by any attached images in
// their original order.
func (r *ChatRequest) BuildMessages() []Message {
	messages := []Message{
		{Role: RoleSystem, Content: r.DeveloperMessage},
	}

	if len(r.Images) == 0 {
		messages = append(messages, Message{Role: RoleUser, Content: r.UserMessage})
		return messages
	}

	parts := make([]ContentPart, 0, len(r.Images)+1)
	parts = append(parts, ContentPart{Type: PartTypeText, Text: r.UserMessage})
	for _, img := range r.Images {
		parts = append(parts, ContentPart{Type: PartTypeImage, Image: img})
	}
	messages = append(messages, Message{Role: RoleUser, Parts: parts})
	return messages
}

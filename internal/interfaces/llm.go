package interfaces

import (
	"context"
)

// Message is one turn of a provider-agnostic conversation
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ContentRequest is a provider-agnostic content generation request
type ContentRequest struct {
	Messages          []Message
	Model             string
	Temperature       float32
	MaxTokens         int
	SystemInstruction string
}

// ContentResponse is a provider-agnostic content generation response
type ContentResponse struct {
	Text         string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
}

// LLMProvider generates content from a prompt. Any provider supporting
// text-in/structured-text-out is acceptable.
type LLMProvider interface {
	GenerateContent(ctx context.Context, request *ContentRequest) (*ContentResponse, error)
	Close() error
}

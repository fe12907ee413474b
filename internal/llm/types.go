package llm

import (
	"context"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// Message is one prior turn of a conversation. Role is "user" or "model";
// "assistant" is accepted as an alias of "model".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	History     []Message
	JSON        bool
	MaxTokens   int
	Temperature float64
	APIKey      string
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature, APIKey: cfg.APIKey}
}

// Collect runs req to completion and returns the concatenated content.
func Collect(ctx context.Context, g Generator, req Request) (string, error) {
	var b strings.Builder
	err := g.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "model", "assistant":
		return "model"
	default:
		return "user"
	}
}

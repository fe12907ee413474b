package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator answers without a model. JSON requests receive a one-line
// script so the drafting flow can be exercised end to end.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	content := "[mock completion for " + strings.TrimSpace(req.Prompt) + "]"
	if req.JSON {
		data, err := json.Marshal(map[string]any{
			"script": []map[string]string{{"speaker": "Host", "text": content}},
		})
		if err != nil {
			return err
		}
		content = string(data)
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		Latency:   20 * time.Millisecond,
	})
}

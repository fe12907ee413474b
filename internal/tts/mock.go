package tts

import (
	"context"
	"fmt"
	"io"
	"time"
)

type mockSynth struct {
	delay time.Duration
}

// NewMockSynth writes a short text marker instead of audio. Useful for
// exercising the pipeline without a provider.
func NewMockSynth(delay time.Duration) Synthesizer {
	return &mockSynth{delay: delay}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest, w io.Writer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}
	_, err := fmt.Fprintf(w, "mock-audio voice=%s language=%s text=%q\n", req.Voice, req.Language, req.Text)
	return err
}

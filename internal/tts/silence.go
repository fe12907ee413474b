package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	silenceSampleRate = 24000
	perWord           = 400 * time.Millisecond
	minSilence        = 500 * time.Millisecond
)

type silentSynth struct {
	delay time.Duration
}

// NewSilentSynth writes a 16-bit mono WAV of silence sized to the spoken
// length of the text, so the mixer can run for real without a provider.
// The destination must be an io.WriteSeeker (a fragment file).
func NewSilentSynth(delay time.Duration) Synthesizer {
	return &silentSynth{delay: delay}
}

// SpokenLength estimates how long text takes to read aloud.
func SpokenLength(text string) time.Duration {
	d := time.Duration(len(strings.Fields(text))) * perWord
	if d < minSilence {
		return minSilence
	}
	return d
}

func (s *silentSynth) Synthesize(ctx context.Context, req SynthRequest, w io.Writer) error {
	ws, ok := w.(io.WriteSeeker)
	if !ok {
		return errors.New("silent synth needs a seekable destination")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}

	samples := int(SpokenLength(req.Text).Seconds() * silenceSampleRate)
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: silenceSampleRate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(ws, silenceSampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

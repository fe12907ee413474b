package tts

import (
	"context"
	"io"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// SynthRequest contains parameters to synthesize one text chunk.
type SynthRequest struct {
	SessionID  string
	Text       string
	Voice      string
	Language   string
	Credential string
}

// Synthesizer is the contract for producing encoded audio. Implementations
// stream the audio bytes into w and must not retain the credential.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest, w io.Writer) error
}

// LanguageNormalizer rewrites language names the provider does not
// distinguish onto a canonical value.
type LanguageNormalizer struct {
	rules []config.LanguageRule
}

func NewLanguageNormalizer(rules []config.LanguageRule) LanguageNormalizer {
	return LanguageNormalizer{rules: append([]config.LanguageRule(nil), rules...)}
}

// Normalize returns the canonical value of the first rule whose Contains
// substring occurs in language, or language unchanged.
func (n LanguageNormalizer) Normalize(language string) string {
	for _, rule := range n.rules {
		if strings.Contains(language, rule.Contains) {
			return rule.Canonical
		}
	}
	return language
}

package writer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/faults"
	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/logging"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

type cannedGenerator struct {
	reply string
	err   error
	seen  []llm.Request
}

func (g *cannedGenerator) Generate(_ context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	g.seen = append(g.seen, req)
	if g.err != nil {
		return g.err
	}
	return consumer(llm.Chunk{Content: g.reply})
}

func newWriter(gen llm.Generator, requireKey bool) *Writer {
	return New(gen, llm.Request{MaxTokens: 512, Temperature: 0.7}, requireKey, 0, logging.Discard())
}

func TestGenerateScriptTopic(t *testing.T) {
	gen := &cannedGenerator{reply: "```json\n{\"script\":[{\"speaker\":\"Alice\",\"text\":\"Hi\"},{\"speaker\":\"Bob\",\"text\":\"Hello\"}]}\n```"}
	w := newWriter(gen, true)

	lines, err := w.GenerateScript(context.Background(), ScriptRequest{
		InputMode:  InputTopic,
		Topic:      "monsoon cricket",
		Language:   "English (Mix)",
		Duration:   5,
		Speakers:   []script.Speaker{{Name: "Alice"}, {Name: "Bob"}},
		Credential: "key",
	})
	require.NoError(t, err)
	assert.Equal(t, []script.Line{{Speaker: "Alice", Text: "Hi"}, {Speaker: "Bob", Text: "Hello"}}, lines)

	require.Len(t, gen.seen, 1)
	req := gen.seen[0]
	assert.True(t, req.JSON)
	assert.Equal(t, "key", req.APIKey)
	assert.Equal(t, 512, req.MaxTokens)
	assert.Contains(t, req.Prompt, "'monsoon cricket' in English with natural Indian context")
	assert.Contains(t, req.Prompt, "approximately 5 minutes")
	assert.Contains(t, req.Prompt, "Speakers: Alice, Bob.")
}

func TestGenerateScriptContent(t *testing.T) {
	gen := &cannedGenerator{reply: `{"script":[]}`}
	w := newWriter(gen, false)
	_, err := w.GenerateScript(context.Background(), ScriptRequest{
		InputMode: InputContent,
		Content:   "an article",
		Language:  "Pure English",
		Duration:  2,
		Speakers:  []script.Speaker{{Name: "Host"}},
	})
	require.NoError(t, err)
	assert.Contains(t, gen.seen[0].Prompt, "podcast script in strict professional English:\n\nan article")
}

func TestGenerateScriptValidation(t *testing.T) {
	w := newWriter(&cannedGenerator{}, true)
	speakers := []script.Speaker{{Name: "A"}}
	for name, req := range map[string]ScriptRequest{
		"speakers":      {InputMode: InputTopic, Topic: "x", Credential: "k"},
		"inputMode":     {InputMode: "other", Speakers: speakers, Credential: "k"},
		"topic":         {InputMode: InputTopic, Speakers: speakers, Credential: "k"},
		"content":       {InputMode: InputContent, Speakers: speakers, Credential: "k"},
		"llmCredential": {InputMode: InputTopic, Topic: "x", Speakers: speakers},
	} {
		_, err := w.GenerateScript(context.Background(), req)
		var verr *faults.ValidationError
		require.True(t, errors.As(err, &verr), name)
		assert.Equal(t, name, verr.Field)
	}
}

func TestGenerateScriptMalformedReply(t *testing.T) {
	w := newWriter(&cannedGenerator{reply: "not json"}, false)
	_, err := w.GenerateScript(context.Background(), ScriptRequest{InputMode: InputTopic, Topic: "x", Speakers: []script.Speaker{{Name: "A"}}})
	var up *faults.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, "llm", up.Provider)
}

func TestGenerateScriptUsesConfiguredKey(t *testing.T) {
	gen := &cannedGenerator{reply: `{"script":[]}`}
	w := New(gen, llm.Request{APIKey: "configured"}, true, 0, logging.Discard())
	_, err := w.GenerateScript(context.Background(), ScriptRequest{InputMode: InputTopic, Topic: "x", Speakers: []script.Speaker{{Name: "A"}}})
	require.NoError(t, err)
	assert.Equal(t, "configured", gen.seen[0].APIKey)
}

func TestRegenerateLine(t *testing.T) {
	gen := &cannedGenerator{reply: "  A fresh take.\n"}
	w := newWriter(gen, false)
	text, err := w.RegenerateLine(context.Background(), RegenerateRequest{
		Script:   []script.Line{{Speaker: "Alice", Text: "one"}, {Speaker: "Bob", Text: "two"}},
		Index:    1,
		Language: "Hindi",
	})
	require.NoError(t, err)
	assert.Equal(t, "A fresh take.", text)
	assert.Contains(t, gen.seen[0].Prompt, "Regenerate line 1 by Bob. Language: Hindi.")
	assert.Contains(t, gen.seen[0].Prompt, `{"speaker":"Alice","text":"one"}`)
}

func TestRegenerateLineIndexOutOfRange(t *testing.T) {
	w := newWriter(&cannedGenerator{}, false)
	for _, idx := range []int{-1, 1} {
		_, err := w.RegenerateLine(context.Background(), RegenerateRequest{Script: []script.Line{{Speaker: "A", Text: "x"}}, Index: idx})
		assert.Equal(t, "validation", faults.Kind(err))
	}
}

func TestBrainstorm(t *testing.T) {
	gen := &cannedGenerator{reply: "Great, let's lock it in.\nFINAL_TOPIC: Street food of Mumbai"}
	w := newWriter(gen, false)
	history := []llm.Message{{Role: "user", Content: "food?"}, {Role: "model", Content: "Which city?"}}
	reply, err := w.Brainstorm(context.Background(), BrainstormRequest{History: history, UserInput: "Mumbai"})
	require.NoError(t, err)
	assert.Equal(t, "Street food of Mumbai", reply.FinalTopic)
	assert.Equal(t, history, gen.seen[0].History)
	assert.Contains(t, gen.seen[0].Prompt, "FINAL_TOPIC: <topic>\nUser: Mumbai")
}

func TestBrainstormPropagatesUpstreamError(t *testing.T) {
	w := newWriter(&cannedGenerator{err: &faults.UpstreamError{Provider: "llm", Status: 429, Body: "quota"}}, false)
	_, err := w.Brainstorm(context.Background(), BrainstormRequest{UserInput: "x"})
	assert.Equal(t, 429, faults.HTTPStatus(err))
}

func TestStripFence(t *testing.T) {
	for in, want := range map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	} {
		assert.Equal(t, want, StripFence(in), in)
	}
}

func TestFinalTopic(t *testing.T) {
	assert.Equal(t, "", FinalTopic("still thinking"))
	assert.Equal(t, "AI in farming", FinalTopic("ok\n**FINAL_TOPIC:** \"AI in farming\"\n"))
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/faults"
)

func TestGeminiGenerate(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"hello "},{"text":"world"}]}}],
			"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2}}`)
	}))
	defer srv.Close()

	g := NewGeminiGenerator(srv.URL+"/v1beta/", "gemini-2.5-flash", srv.Client())
	var chunks []Chunk
	err := g.Generate(context.Background(), Request{
		Prompt:  "next",
		System:  "be brief",
		History: []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hey"}},
		JSON:    true,
		APIKey:  "secret",
	}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Content)
	assert.Equal(t, 7, chunks[0].PromptTokens)
	assert.Equal(t, 2, chunks[0].CompletionTokens)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "next", got.Contents[2].Parts[0].Text)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "be brief", got.SystemInstruction.Parts[0].Text)
}

func TestGeminiUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	_, err := Collect(context.Background(), NewGeminiGenerator(srv.URL, "m", srv.Client()), Request{Prompt: "x"})
	var up *faults.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, http.StatusForbidden, up.Status)
	assert.Contains(t, up.Body, "API key not valid")
}

func TestOllamaStreamsChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "assistant", req.Messages[0].Role)
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"par"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"tial"},"done":true,"eval_count":3}`+"\n")
	}))
	defer srv.Close()

	text, err := Collect(context.Background(), NewOllamaGenerator(srv.URL, "", srv.Client()), Request{
		Prompt:  "go",
		JSON:    true,
		History: []Message{{Role: "model", Content: "earlier"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
}

func TestExecGenerator(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "llm.sh")
	body := "#!/bin/sh\ncat >/dev/null\nprintf '{\"content\":\"%s\"}' \"$PODCAST_LLM_API_KEY\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	g, err := NewExecGenerator(script)
	require.NoError(t, err)
	text, err := Collect(context.Background(), g, Request{Prompt: "x", APIKey: "k-123"})
	require.NoError(t, err)
	assert.Equal(t, "k-123", text)
}

func TestExecGeneratorFailure(t *testing.T) {
	g, err := NewExecGenerator(`sh -c "echo boom >&2; exit 3"`)
	require.NoError(t, err)
	_, err = Collect(context.Background(), g, Request{Prompt: "x"})
	var tool *faults.ToolError
	require.True(t, errors.As(err, &tool))
	assert.Equal(t, 3, tool.ExitCode)
	assert.Equal(t, "boom", tool.Stderr)
}

func TestNewExecGeneratorRejectsEmpty(t *testing.T) {
	_, err := NewExecGenerator("  ")
	require.Error(t, err)
}

func TestMockGeneratorJSON(t *testing.T) {
	text, err := Collect(context.Background(), NewMockGenerator(), Request{Prompt: "topic", JSON: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, `{"script":[`), text)
}

func TestOptionsFromConfig(t *testing.T) {
	req := OptionsFromConfig(config.LLMConfig{MaxTokens: 100, Temperature: 0.5, APIKey: "k"})
	assert.Equal(t, Request{MaxTokens: 100, Temperature: 0.5, APIKey: "k"}, req)
}

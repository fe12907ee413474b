// Package writer drafts and edits podcast scripts with a language model.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/faults"
	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/logging"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

const (
	InputTopic   = "topic"
	InputContent = "content"
)

type ScriptRequest struct {
	InputMode  string
	Topic      string
	Content    string
	Language   string
	Duration   int
	Speakers   []script.Speaker
	Credential string
}

type RegenerateRequest struct {
	Script     []script.Line
	Index      int
	Language   string
	Credential string
}

type BrainstormRequest struct {
	History    []llm.Message
	UserInput  string
	Credential string
}

type BrainstormReply struct {
	Response   string
	FinalTopic string
}

type Writer struct {
	gen        llm.Generator
	defaults   llm.Request
	requireKey bool
	timeout    time.Duration
	logger     *slog.Logger
}

// New returns a Writer. defaults carries generation limits and the fallback
// API key; when requireKey is set a request without any key is rejected.
func New(gen llm.Generator, defaults llm.Request, requireKey bool, timeout time.Duration, logger *slog.Logger) *Writer {
	return &Writer{
		gen:        gen,
		defaults:   defaults,
		requireKey: requireKey,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "writer")),
	}
}

// LanguageInstruction maps the UI language choices onto prompt wording.
func LanguageInstruction(language string) string {
	switch language {
	case "Pure English":
		return "strict professional English"
	case "English (Mix)":
		return "English with natural Indian context"
	default:
		return language
	}
}

// GenerateScript drafts a full script for the given speakers.
func (w *Writer) GenerateScript(ctx context.Context, req ScriptRequest) ([]script.Line, error) {
	if len(req.Speakers) == 0 {
		return nil, faults.Invalid("speakers", "must contain at least one speaker")
	}
	lang := LanguageInstruction(req.Language)

	var prompt strings.Builder
	switch req.InputMode {
	case InputTopic:
		if strings.TrimSpace(req.Topic) == "" {
			return nil, faults.Invalid("topic", "is required when inputMode is topic")
		}
		fmt.Fprintf(&prompt, "Generate a podcast script about '%s' in %s. It should be approximately %d minutes long. ",
			req.Topic, lang, req.Duration)
	case InputContent:
		if strings.TrimSpace(req.Content) == "" {
			return nil, faults.Invalid("content", "is required when inputMode is content")
		}
		fmt.Fprintf(&prompt, "Transform the following content into a conversational podcast script in %s:\n\n%s\n\nDuration: %d minutes.",
			lang, req.Content, req.Duration)
	default:
		return nil, faults.Invalid("inputMode", "must be %q or %q", InputTopic, InputContent)
	}
	names := make([]string, len(req.Speakers))
	for i, s := range req.Speakers {
		names[i] = s.Name
	}
	fmt.Fprintf(&prompt, " Speakers: %s. Use EXACT speaker names. Return JSON format: {\"script\": [{\"speaker\": \"\", \"text\": \"\"}]}",
		strings.Join(names, ", "))

	reply, err := w.complete(ctx, "generate-script", req.Credential, llm.Request{Prompt: prompt.String(), JSON: true})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Script []script.Line `json:"script"`
	}
	if err := json.Unmarshal([]byte(StripFence(reply)), &parsed); err != nil {
		return nil, &faults.UpstreamError{Provider: "llm", Status: 502, Body: "model returned malformed script: " + err.Error()}
	}
	return parsed.Script, nil
}

// RegenerateLine rewrites the line at req.Index in the context of the whole
// script and returns only its new text.
func (w *Writer) RegenerateLine(ctx context.Context, req RegenerateRequest) (string, error) {
	if req.Index < 0 || req.Index >= len(req.Script) {
		return "", faults.Invalid("index", "%d is out of range for a script of %d lines", req.Index, len(req.Script))
	}
	scriptJSON, err := json.Marshal(req.Script)
	if err != nil {
		return "", err
	}
	target := req.Script[req.Index]
	prompt := fmt.Sprintf("Context:\n%s\n\nRegenerate line %d by %s. Language: %s. Return ONLY the new text.",
		scriptJSON, req.Index, target.Speaker, req.Language)

	reply, err := w.complete(ctx, "regenerate-line", req.Credential, llm.Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

const brainstormInstruction = "You are a creative podcast topic brainstormer. When a final choice is made, end with:\nFINAL_TOPIC: <topic>"

// Brainstorm continues a topic conversation.
func (w *Writer) Brainstorm(ctx context.Context, req BrainstormRequest) (BrainstormReply, error) {
	if strings.TrimSpace(req.UserInput) == "" {
		return BrainstormReply{}, faults.Invalid("userInput", "must not be empty")
	}
	reply, err := w.complete(ctx, "brainstorm", req.Credential, llm.Request{
		Prompt:  brainstormInstruction + "\nUser: " + req.UserInput,
		History: req.History,
	})
	if err != nil {
		return BrainstormReply{}, err
	}
	return BrainstormReply{Response: reply, FinalTopic: FinalTopic(reply)}, nil
}

func (w *Writer) complete(ctx context.Context, op, credential string, req llm.Request) (string, error) {
	req.MaxTokens = w.defaults.MaxTokens
	req.Temperature = w.defaults.Temperature
	req.APIKey = credential
	if req.APIKey == "" {
		req.APIKey = w.defaults.APIKey
	}
	if req.APIKey == "" && w.requireKey {
		return "", faults.Invalid("llmCredential", "is required")
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := llm.Collect(ctx, w.gen, req)
	if err != nil {
		w.logger.Warn("llm generation failed", slog.String("op", op), logging.Err(err))
		return "", err
	}
	w.logger.Info("llm generation complete", slog.String("op", op), slog.Duration("latency", time.Since(start)))
	return reply, nil
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\\s*```$")

// StripFence removes a surrounding markdown code fence, optionally tagged
// with a language.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

var finalTopicPattern = regexp.MustCompile(`(?m)^\s*\**FINAL_TOPIC:\**\s*(.+?)\s*$`)

// FinalTopic extracts the topic from a "FINAL_TOPIC: <topic>" line.
func FinalTopic(reply string) string {
	m := finalTopicPattern.FindStringSubmatch(reply)
	if m == nil {
		return ""
	}
	return strings.Trim(m[1], "*\"' ")
}

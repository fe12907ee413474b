package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/faults"
)

const maxErrorBody = 64 << 10

type httpSynth struct {
	endpoint string
	client   *http.Client
}

type httpRequest struct {
	Input    string `json:"input"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

// NewHTTPSynth calls a bearer-authenticated JSON synthesis endpoint that
// answers 200 with raw audio bytes. A nil client uses http.DefaultClient;
// deadlines come from the request context.
func NewHTTPSynth(endpoint string, client *http.Client) Synthesizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSynth{endpoint: endpoint, client: client}
}

func (h *httpSynth) Synthesize(ctx context.Context, req SynthRequest, w io.Writer) error {
	body, err := json.Marshal(httpRequest{Input: req.Text, Voice: req.Voice, Language: req.Language})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &faults.UpstreamError{Provider: "tts", Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read tts audio: %w", err)
	}
	return nil
}

package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/faults"
	"github.com/mattn/go-shellwords"
)

// execSynth runs a local engine once per chunk. The engine reads one JSON
// request on stdin and writes JSON lines carrying base64 audio on stdout.
// The credential, when present, is exported as PODCAST_TTS_API_KEY.
type execSynth struct {
	cmd []string
}

type execRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
}

func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest, w io.Writer) error {
	data, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice, Language: req.Language})
	if err != nil {
		return err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	if req.Credential != "" {
		cmd.Env = append(cmd.Environ(), "PODCAST_TTS_API_KEY="+req.Credential)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}

	// abort stops an engine we've stopped reading from so Wait can't block.
	abort := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			abort()
			return fmt.Errorf("decode tts exec response: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			abort()
			return fmt.Errorf("decode tts exec audio: %w", err)
		}
		if _, err := w.Write(audio); err != nil {
			abort()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		abort()
		return fmt.Errorf("read tts exec output: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return &faults.ToolError{Tool: base, ExitCode: exitCode, Stderr: strings.TrimSpace(stderr.String()), Cause: err}
	}
	return nil
}

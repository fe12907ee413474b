// Package mixer concatenates ordered audio fragments into one file through
// an external media tool.
package mixer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/faults"
	"github.com/mattn/go-shellwords"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Job describes one concatenation. Fragments are already in final order.
type Job struct {
	Fragments    []string
	Channels     int
	ManifestPath string
	OutputPath   string
}

// Mixer produces Job.OutputPath from Job.Fragments.
type Mixer interface {
	Concatenate(ctx context.Context, job Job) error
}

// RunFunc executes a command and reports its stderr and exit code.
type RunFunc func(ctx context.Context, name string, args []string) (stderr []byte, exitCode int, err error)

type FFmpeg struct {
	cmd     []string
	quality string
	timeout time.Duration
	run     RunFunc
}

// NewFFmpeg parses command (binary plus leading flags) with shell quoting
// rules. A zero timeout means none beyond the caller's context.
func NewFFmpeg(command, quality string, timeout time.Duration) (*FFmpeg, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse mixer command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("mixer command empty")
	}
	return &FFmpeg{cmd: args, quality: quality, timeout: timeout, run: runCommand}, nil
}

// WithRunner swaps the command executor.
func (f *FFmpeg) WithRunner(run RunFunc) *FFmpeg {
	f.run = run
	return f
}

func (f *FFmpeg) Concatenate(ctx context.Context, job Job) error {
	ctx, span := otel.Tracer("github.com/loqalabs/loqa-podcast/mixer").Start(ctx, "mixer.concatenate")
	defer span.End()
	span.SetAttributes(attribute.Int("fragments", len(job.Fragments)), attribute.Int("channels", job.Channels))

	if len(job.Fragments) == 0 {
		return errors.New("mixer: no fragments")
	}
	if err := WriteManifest(job.ManifestPath, job.Fragments); err != nil {
		return err
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := append(append([]string{}, f.cmd[1:]...), f.Args(job)...)
	stderr, code, err := f.run(ctx, f.cmd[0], args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		toolErr := &faults.ToolError{Tool: filepath.Base(f.cmd[0]), ExitCode: code, Stderr: strings.TrimSpace(string(stderr)), Cause: err}
		span.RecordError(toolErr)
		span.SetStatus(codes.Error, "mix failed")
		return toolErr
	}
	return nil
}

// Args are the tool arguments for job: concat demuxer over the manifest,
// audio stream only, requested channel count.
func (f *FFmpeg) Args(job Job) []string {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", job.ManifestPath,
		"-map", "0:a",
		"-ac", strconv.Itoa(job.Channels),
	}
	if f.quality != "" {
		args = append(args, "-q:a", f.quality)
	}
	return append(args, "-y", job.OutputPath)
}

// WriteManifest writes one `file '<name>'` line per fragment, in order.
// Names are relative to the manifest's directory when possible.
func WriteManifest(path string, fragments []string) error {
	dir := filepath.Dir(path)
	var buf bytes.Buffer
	for _, frag := range fragments {
		name := frag
		if rel, err := filepath.Rel(dir, frag); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
		fmt.Fprintf(&buf, "file '%s'\n", strings.ReplaceAll(name, "'", `'\''`))
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args []string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}
	return stderr.Bytes(), code, err
}

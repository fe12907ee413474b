package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/faults"
	"github.com/loqalabs/loqa-podcast/internal/logging"
	"github.com/loqalabs/loqa-podcast/internal/mixer"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/session"
	"github.com/loqalabs/loqa-podcast/internal/tts"
)

// funcSynth adapts a function to tts.Synthesizer.
type funcSynth func(ctx context.Context, req tts.SynthRequest, w io.Writer) error

func (f funcSynth) Synthesize(ctx context.Context, req tts.SynthRequest, w io.Writer) error {
	return f(ctx, req, w)
}

// recordingMixer writes the output file and remembers what it was given.
type recordingMixer struct {
	mu   sync.Mutex
	jobs []mixer.Job
	err  error
}

func (m *recordingMixer) Concatenate(_ context.Context, job mixer.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	if m.err != nil {
		return m.err
	}
	if err := mixer.WriteManifest(job.ManifestPath, job.Fragments); err != nil {
		return err
	}
	return os.WriteFile(job.OutputPath, []byte("mixed"), 0o644)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(_ context.Context, evt Event) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func newStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), "mp3")
	require.NoError(t, err)
	return store
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func englishOpts() Options {
	return Options{
		MaxChars:  script.DefaultMaxChars,
		Languages: tts.NewLanguageNormalizer([]config.LanguageRule{{Contains: "English", Canonical: "English"}}),
	}
}

func TestPlanExpandsLinesInOrder(t *testing.T) {
	speakers := []script.Speaker{{Name: "Alice", Voice: "v1", Language: "English"}, {Name: "Bob", Voice: "v2", Language: "Hindi"}}
	lines := []script.Line{
		{Speaker: "alice", Text: "one two three four"},
		{Speaker: "Narrator", Text: "   "},
		{Speaker: "Narrator", Text: "five six"},
	}

	jobs := Plan("s1", lines, speakers, 9)
	require.Len(t, jobs, 3)
	assert.Equal(t, Job{SessionID: "s1", Line: 0, Chunk: 0, Speaker: "Alice", Text: "one two", Voice: "v1", Language: "English"}, jobs[0])
	assert.Equal(t, Job{SessionID: "s1", Line: 0, Chunk: 1, Speaker: "Alice", Text: "three", Voice: "v1", Language: "English"}, jobs[1])
	// unknown speaker at line 2 falls back to speakers[2 % 2]
	assert.Equal(t, "Alice", jobs[2].Speaker)
	assert.Equal(t, 2, jobs[2].Line)
	assert.Equal(t, 0, jobs[2].Chunk)
}

func TestOrderSortsByLineThenChunk(t *testing.T) {
	got := Order([]Fragment{
		{Line: 2, Chunk: 1, Path: "2_1"},
		{Line: 0, Chunk: 1, Path: "0_1"},
		{Line: 1, Chunk: 0, Path: "1_0"},
		{Line: 0, Chunk: 0, Path: "0_0"},
		{Line: 2, Chunk: 0, Path: "2_0"},
		{Line: 1, Chunk: 1, Path: "1_1"},
	})
	assert.Equal(t, []string{"0_0", "0_1", "1_0", "1_1", "2_0", "2_1"}, got)
}

func TestRunOrdersFragmentsDespiteScrambledCompletion(t *testing.T) {
	store := newStore(t)
	mix := &recordingMixer{}

	// earlier jobs finish later
	synth := funcSynth(func(ctx context.Context, req tts.SynthRequest, w io.Writer) error {
		var line, chunk int
		if _, err := fmt.Sscanf(req.Text, "L%dC%d", &line, &chunk); err != nil {
			return err
		}
		delay := time.Duration(6-(line*2+chunk)) * 15 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		_, err := io.WriteString(w, req.Text)
		return err
	})

	opts := englishOpts()
	opts.MaxChars = 4
	o := New(synth, mix, store, opts, logging.Discard())

	speakers := []script.Speaker{{Name: "A", Voice: "va", Language: "English"}}
	lines := []script.Line{
		{Speaker: "A", Text: "L0C0 L0C1"},
		{Speaker: "A", Text: "L1C0 L1C1"},
		{Speaker: "A", Text: "L2C0 L2C1"},
	}
	res, err := o.Run(context.Background(), Request{Script: lines, Speakers: speakers, Channels: script.Stereo, Credential: "k"})
	require.NoError(t, err)
	require.Len(t, mix.jobs, 1)

	var keys []string
	for _, p := range mix.jobs[0].Fragments {
		keys = append(keys, strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), res.SessionID+"_"), ".mp3"))
	}
	assert.Equal(t, []string{"0_0", "0_1", "1_0", "1_1", "2_0", "2_1"}, keys)
	assert.Equal(t, 6, res.Jobs)
}

func TestRunFailsWholeRequestOnUpstreamError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "broken") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid voice"))
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(20 * time.Millisecond):
		}
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	store := newStore(t)
	mix := &recordingMixer{}
	events := &eventLog{}
	o := New(tts.NewHTTPSynth(srv.URL, srv.Client()), mix, store, englishOpts(), logging.Discard(), events)

	speakers := []script.Speaker{{Name: "A", Voice: "va", Language: "English"}}
	lines := []script.Line{
		{Speaker: "A", Text: "first line"},
		{Speaker: "A", Text: "this one is broken"},
		{Speaker: "A", Text: "third line"},
		{Speaker: "A", Text: "fourth line"},
	}
	_, err := o.Run(context.Background(), Request{Script: lines, Speakers: speakers, Channels: script.Mono, Credential: "k"})
	require.Error(t, err)

	var up *faults.UpstreamError
	require.True(t, errors.As(err, &up), "expected upstream error, got %v", err)
	assert.Equal(t, http.StatusBadRequest, up.Status)
	assert.Equal(t, "invalid voice", up.Body)

	assert.Empty(t, mix.jobs, "mixer must not run after a failed fragment")
	assert.Empty(t, dirEntries(t, store.Dir()), "no fragment or output may remain")
	assert.Equal(t, []string{EventStarted, EventFailed}, events.types())
	assert.Equal(t, "upstream", events.events[1].ErrorKind)
}

func TestRunCleansUpWhenMixerFails(t *testing.T) {
	store := newStore(t)
	mix := &recordingMixer{err: &faults.ToolError{Tool: "ffmpeg", ExitCode: 1, Stderr: "bad input"}}
	synth := tts.NewMockSynth(0)
	o := New(synth, mix, store, englishOpts(), logging.Discard())

	_, err := o.Run(context.Background(), Request{
		Script:   []script.Line{{Speaker: "A", Text: "hello"}},
		Speakers: []script.Speaker{{Name: "A", Voice: "v"}},
	})
	var tool *faults.ToolError
	require.True(t, errors.As(err, &tool), "expected tool error, got %v", err)
	assert.Equal(t, "bad input", tool.Stderr)
	assert.Empty(t, dirEntries(t, store.Dir()))
}

func TestRunPassesChannelCountAndNormalizedLanguage(t *testing.T) {
	for _, tc := range []struct {
		layout   script.ChannelLayout
		channels int
	}{{script.Mono, 1}, {script.Stereo, 2}, {"surround", 2}} {
		store := newStore(t)
		mix := &recordingMixer{}
		var languages sync.Map
		synth := funcSynth(func(_ context.Context, req tts.SynthRequest, w io.Writer) error {
			languages.Store(req.Language, true)
			assert.Equal(t, "cred", req.Credential)
			_, err := io.WriteString(w, "x")
			return err
		})
		o := New(synth, mix, store, englishOpts(), logging.Discard())

		_, err := o.Run(context.Background(), Request{
			Script:     []script.Line{{Speaker: "A", Text: "hi"}, {Speaker: "B", Text: "hey"}},
			Speakers:   []script.Speaker{{Name: "A", Voice: "v1", Language: "Pure English"}, {Name: "B", Voice: "v2", Language: "English (Mix)"}},
			Channels:   tc.layout,
			Credential: "cred",
		})
		require.NoError(t, err)
		require.Len(t, mix.jobs, 1)
		assert.Equal(t, tc.channels, mix.jobs[0].Channels)

		var seen []string
		languages.Range(func(k, _ any) bool { seen = append(seen, k.(string)); return true })
		assert.Equal(t, []string{"English"}, seen)
	}
}

func TestRunEndToEnd(t *testing.T) {
	store := newStore(t)
	mix := &recordingMixer{}
	events := &eventLog{}
	o := New(tts.NewMockSynth(time.Millisecond), mix, store, englishOpts(), logging.Discard(), events)

	res, err := o.Run(context.Background(), Request{
		Script: []script.Line{{Speaker: "Alice", Text: "Hello world"}, {Speaker: "Bob", Text: "Hi there"}},
		Speakers: []script.Speaker{
			{Name: "Alice", Voice: "v1", Language: "English"},
			{Name: "Bob", Voice: "v2", Language: "English"},
		},
		Channels:   script.Stereo,
		Credential: "key",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Jobs)
	assert.Equal(t, "podcast_"+res.SessionID+".mp3", res.Filename)
	assert.Equal(t, []string{res.Filename}, dirEntries(t, store.Dir()), "only the final output is retained")
	require.Len(t, mix.jobs, 1)
	assert.Len(t, mix.jobs[0].Fragments, 2)
	assert.Equal(t, []string{EventStarted, EventCompleted}, events.types())
	assert.Equal(t, res.Filename, events.events[1].Filename)
}

func TestRunRespectsConcurrencyCap(t *testing.T) {
	var inflight, peak atomic.Int32
	synth := funcSynth(func(ctx context.Context, _ tts.SynthRequest, w io.Writer) error {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		_, err := io.WriteString(w, "x")
		return err
	})

	opts := englishOpts()
	opts.MaxConcurrency = 2
	o := New(synth, &recordingMixer{}, newStore(t), opts, logging.Discard())

	var lines []script.Line
	for i := 0; i < 8; i++ {
		lines = append(lines, script.Line{Speaker: "A", Text: fmt.Sprintf("line %d", i)})
	}
	_, err := o.Run(context.Background(), Request{Script: lines, Speakers: []script.Speaker{{Name: "A", Voice: "v"}}})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunAppliesCallTimeout(t *testing.T) {
	synth := funcSynth(func(ctx context.Context, _ tts.SynthRequest, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	})
	opts := englishOpts()
	opts.CallTimeout = 20 * time.Millisecond
	store := newStore(t)
	o := New(synth, &recordingMixer{}, store, opts, logging.Discard())

	_, err := o.Run(context.Background(), Request{
		Script:   []script.Line{{Speaker: "A", Text: "slow"}},
		Speakers: []script.Speaker{{Name: "A", Voice: "v"}},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", faults.Kind(err))
	assert.Empty(t, dirEntries(t, store.Dir()))
}

func TestRunRejectsInvalidInput(t *testing.T) {
	events := &eventLog{}
	o := New(tts.NewMockSynth(0), &recordingMixer{}, newStore(t), englishOpts(), logging.Discard(), events)

	_, err := o.Run(context.Background(), Request{Speakers: []script.Speaker{{Name: "A", Voice: "v"}}})
	var verr *faults.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "script", verr.Field)

	_, err = o.Run(context.Background(), Request{
		Script:   []script.Line{{Speaker: "A", Text: "  "}},
		Speakers: []script.Speaker{{Name: "A", Voice: "v"}},
	})
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason, "no speakable text")
	assert.Empty(t, events.types(), "rejected requests must not leave a partial timeline")
}

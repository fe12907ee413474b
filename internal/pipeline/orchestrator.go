// Package pipeline turns a multi-speaker script into one audio file: it
// fans chunk synthesis out to the TTS provider, re-establishes narration
// order, and hands the fragments to the mixer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/faults"
	"github.com/loqalabs/loqa-podcast/internal/logging"
	"github.com/loqalabs/loqa-podcast/internal/mixer"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/session"
	"github.com/loqalabs/loqa-podcast/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentation = "github.com/loqalabs/loqa-podcast/pipeline"

// Request is one audio-generation request.
type Request struct {
	Script     []script.Line
	Speakers   []script.Speaker
	Channels   script.ChannelLayout
	Credential string
}

// Result locates the retained output of a successful run.
type Result struct {
	SessionID string
	Filename  string
	Path      string
	Jobs      int
	Duration  time.Duration
}

type Options struct {
	// MaxChars bounds the text of a single provider call.
	MaxChars int
	// MaxConcurrency caps in-flight provider calls per request; 0 is
	// unbounded.
	MaxConcurrency int
	// CallTimeout bounds each provider call; 0 disables it.
	CallTimeout time.Duration
	Languages   tts.LanguageNormalizer
}

type Orchestrator struct {
	synth    tts.Synthesizer
	mixer    mixer.Mixer
	store    *session.Store
	opts     Options
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  instruments
	now      func() time.Time
}

type instruments struct {
	fragments        metric.Int64Counter
	fragmentDuration metric.Float64Histogram
	sessions         metric.Int64Counter
	mixDuration      metric.Float64Histogram
}

func New(synth tts.Synthesizer, mix mixer.Mixer, store *session.Store, opts Options, logger *slog.Logger, recorders ...Recorder) *Orchestrator {
	if opts.MaxChars <= 0 {
		opts.MaxChars = script.DefaultMaxChars
	}
	o := &Orchestrator{
		synth:    synth,
		mixer:    mix,
		store:    store,
		opts:     opts,
		recorder: Recorders(recorders),
		logger:   logger.With(slog.String("component", "pipeline")),
		tracer:   otel.Tracer(instrumentation),
		now:      time.Now,
	}
	if err := o.initMetrics(otel.Meter(instrumentation)); err != nil {
		o.logger.Warn("failed to initialize metrics", logging.Err(err))
		_ = o.initMetrics(noop.NewMeterProvider().Meter(instrumentation))
	}
	return o
}

func (o *Orchestrator) initMetrics(meter metric.Meter) error {
	var err error
	if o.metrics.fragments, err = meter.Int64Counter("podcast.fragments",
		metric.WithDescription("Synthesized fragments by outcome")); err != nil {
		return err
	}
	if o.metrics.fragmentDuration, err = meter.Float64Histogram("podcast.fragment.duration",
		metric.WithUnit("ms"), metric.WithDescription("Provider call latency per fragment")); err != nil {
		return err
	}
	if o.metrics.sessions, err = meter.Int64Counter("podcast.sessions",
		metric.WithDescription("Audio sessions by outcome")); err != nil {
		return err
	}
	if o.metrics.mixDuration, err = meter.Float64Histogram("podcast.mix.duration",
		metric.WithUnit("ms"), metric.WithDescription("Mixer latency per session")); err != nil {
		return err
	}
	return nil
}

// Run synthesizes every chunk of req concurrently and mixes the fragments
// in narration order. Any failed fragment fails the whole run: siblings are
// cancelled and no partial output is kept. Session files other than the
// final output are always removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result, err error) {
	if err := script.Validate(req.Script, req.Speakers); err != nil {
		return Result{}, err
	}

	start := o.now()
	sess := o.store.Begin()
	log := o.logger.With(slog.String("session_id", sess.ID))
	channels := req.Channels.Channels()

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("script.lines", len(req.Script)),
		attribute.Int("channels", channels),
	))
	defer span.End()

	jobs := Plan(sess.ID, req.Script, req.Speakers, o.opts.MaxChars)
	if len(jobs) == 0 {
		return Result{}, faults.Invalid("script", "contains no speakable text")
	}
	evt := Event{SessionID: sess.ID, Jobs: len(jobs), Lines: len(req.Script), Channels: channels}

	defer func() {
		if cerr := sess.Cleanup(); cerr != nil {
			log.Warn("session cleanup incomplete", logging.Err(cerr))
		}
		evt.Duration = o.now().Sub(start)
		evt.At = o.now().UTC()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline failed")
			evt.Type, evt.Error, evt.ErrorKind = EventFailed, err.Error(), faults.Kind(err)
			o.metrics.sessions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", "failed")))
			log.Warn("audio generation failed", logging.Err(err), slog.String("kind", evt.ErrorKind))
		} else {
			res.Duration = evt.Duration
			evt.Type, evt.Filename = EventCompleted, res.Filename
			o.metrics.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
			log.Info("audio generation complete", slog.String("filename", res.Filename), slog.Duration("latency", evt.Duration))
		}
		o.recorder.Record(context.WithoutCancel(ctx), evt)
	}()

	evt.Type, evt.At = EventStarted, start.UTC()
	o.recorder.Record(ctx, evt)
	log.Info("audio generation started", slog.Int("jobs", len(jobs)), slog.Int("lines", len(req.Script)))

	fragments, err := o.synthesizeAll(ctx, sess, jobs, req.Credential)
	if err != nil {
		return Result{}, err
	}

	output := sess.OutputPath()
	sess.Track(output)
	mixStart := o.now()
	err = o.mixer.Concatenate(ctx, mixer.Job{
		Fragments:    Order(fragments),
		Channels:     channels,
		ManifestPath: sess.ManifestPath(),
		OutputPath:   output,
	})
	o.metrics.mixDuration.Record(context.WithoutCancel(ctx), float64(o.now().Sub(mixStart).Milliseconds()))
	if err != nil {
		return Result{}, fmt.Errorf("mix session %s: %w", sess.ID, err)
	}
	sess.Keep(output)

	return Result{
		SessionID: sess.ID,
		Filename:  sess.OutputName(),
		Path:      output,
		Jobs:      len(jobs),
	}, nil
}

// synthesizeAll runs every job and returns the fragments in completion
// order. The first failure cancels the rest.
func (o *Orchestrator) synthesizeAll(ctx context.Context, sess *session.Session, jobs []Job, credential string) ([]Fragment, error) {
	g, gctx := errgroup.WithContext(ctx)
	if o.opts.MaxConcurrency > 0 {
		g.SetLimit(o.opts.MaxConcurrency)
	}

	var (
		mu        sync.Mutex
		fragments = make([]Fragment, 0, len(jobs))
	)
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path, err := o.synthesizeFragment(gctx, sess, job, credential)
			if err != nil {
				return fmt.Errorf("fragment %d/%d: %w", job.Line, job.Chunk, err)
			}
			mu.Lock()
			fragments = append(fragments, Fragment{Line: job.Line, Chunk: job.Chunk, Path: path})
			mu.Unlock()
			return nil
		})
	}
	// Wait reports the first failure, not the cancellations it caused.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fragments, nil
}

// synthesizeFragment performs one provider call and persists the audio
// under the job's (line, chunk) key.
func (o *Orchestrator) synthesizeFragment(ctx context.Context, sess *session.Session, job Job, credential string) (path string, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.fragment", trace.WithAttributes(
		attribute.Int("line", job.Line),
		attribute.Int("chunk", job.Chunk),
		attribute.String("voice", job.Voice),
	))
	defer span.End()

	if o.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
	}

	start := o.now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "fragment failed")
		}
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		bg := context.WithoutCancel(ctx)
		o.metrics.fragments.Add(bg, 1, attrs)
		o.metrics.fragmentDuration.Record(bg, float64(o.now().Sub(start).Milliseconds()), attrs)
	}()

	path = sess.FragmentPath(job.Line, job.Chunk)
	f, err := sess.Create(path)
	if err != nil {
		return "", fmt.Errorf("create fragment: %w", err)
	}
	synthErr := o.synth.Synthesize(ctx, tts.SynthRequest{
		SessionID:  job.SessionID,
		Text:       job.Text,
		Voice:      job.Voice,
		Language:   o.opts.Languages.Normalize(job.Language),
		Credential: credential,
	}, f)
	closeErr := f.Close()
	if synthErr != nil {
		return "", synthErr
	}
	if closeErr != nil {
		return "", fmt.Errorf("close fragment: %w", closeErr)
	}
	return path, nil
}

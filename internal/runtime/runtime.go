package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/eventstore"
	"github.com/loqalabs/loqa-podcast/internal/httpapi"
	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/logging"
	"github.com/loqalabs/loqa-podcast/internal/mixer"
	"github.com/loqalabs/loqa-podcast/internal/natsserver"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/protocol"
	"github.com/loqalabs/loqa-podcast/internal/session"
	"github.com/loqalabs/loqa-podcast/internal/tts"
	"github.com/loqalabs/loqa-podcast/internal/writer"
)

const retentionInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	store   *session.Store
	events  *eventstore.Store
	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	api     *httpapi.Server
	closers []func()
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.build(ctx, metricsHandler); err != nil {
		r.close()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", logging.Err(err))
			serveErr <- err
			cancel()
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.retentionLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("temp_dir", r.store.Dir()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", logging.Err(err))
	}
	r.wg.Wait()
	r.close()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", logging.Err(err))
		}
	}

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// build wires every component from config. Resources are registered in
// r.closers and released by close in reverse order.
func (r *Runtime) build(ctx context.Context, metricsHandler http.Handler) error {
	cfg := r.cfg

	store, err := session.NewStore(cfg.Storage.TempDir, cfg.Storage.OutputFormat)
	if err != nil {
		return err
	}
	r.store = store

	events, err := eventstore.Open(ctx, cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.events = events
	r.closers = append(r.closers, func() {
		if err := events.Close(); err != nil {
			r.logger.Warn("event store close failed", logging.Err(err))
		}
	})
	recorders := []pipeline.Recorder{events}

	if cfg.Bus.Enabled {
		publisher, err := r.startBus(ctx)
		if err != nil {
			return err
		}
		recorders = append(recorders, publisher)
	}

	synth, err := buildSynthesizer(cfg.TTS)
	if err != nil {
		return err
	}
	mix, err := mixer.NewFFmpeg(cfg.Mixer.Command, cfg.Mixer.Quality, millis(cfg.Mixer.TimeoutMS))
	if err != nil {
		return err
	}
	orch := pipeline.New(synth, mix, store, pipeline.Options{
		MaxChars:       cfg.TTS.MaxChars,
		MaxConcurrency: cfg.TTS.MaxConcurrency,
		CallTimeout:    millis(cfg.TTS.TimeoutMS),
		Languages:      tts.NewLanguageNormalizer(cfg.TTS.LanguageRules),
	}, r.logger, recorders...)

	gen, err := buildGenerator(cfg.LLM)
	if err != nil {
		return err
	}
	w := writer.New(gen, llm.OptionsFromConfig(cfg.LLM), cfg.LLM.Mode == "gemini", millis(cfg.LLM.TimeoutMS), r.logger)

	r.api = httpapi.New(httpapi.Deps{
		Audio:   orch,
		Writer:  w,
		History: events,
		Outputs: store,
		Metrics: metricsHandler,
		Ready:   r.Ready,
	}, httpapi.Options{
		PublicBaseURL:        cfg.HTTP.PublicBaseURL,
		CORSOrigins:          cfg.HTTP.CORSOrigins,
		MaxBodyBytes:         cfg.HTTP.MaxBodyBytes,
		TTSCredential:        cfg.TTS.APIKey,
		RequireTTSCredential: cfg.TTS.Mode == "http",
	}, r.logger)
	return nil
}

func (r *Runtime) startBus(ctx context.Context) (*bus.Publisher, error) {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	if embedded != nil {
		r.nats = embedded
		r.closers = append(r.closers, embedded.Shutdown)
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.bus = client
	r.closers = append(r.closers, client.Close)

	if err := client.EnsureStream(protocol.StreamAudioSessions, protocol.SubjectAudioWildcard); err != nil {
		r.logger.Warn("session event stream unavailable; publishing without persistence", logging.Err(err))
	}
	return bus.NewPublisher(client), nil
}

func (r *Runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Ready reports whether the runtime is serving and its bus, when enabled,
// is connected.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) retentionLoop(ctx context.Context) {
	r.applyRetention(ctx)
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.applyRetention(ctx)
		}
	}
}

func (r *Runtime) applyRetention(ctx context.Context) {
	if err := r.events.Prune(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("event store prune failed", logging.Err(err))
	}
	hours := r.cfg.Storage.OutputRetentionHours
	if hours <= 0 {
		return
	}
	removed, err := r.store.RemoveOutputsOlderThan(time.Duration(hours)*time.Hour, time.Now())
	if err != nil {
		r.logger.Warn("output retention sweep incomplete", logging.Err(err))
	}
	if removed > 0 {
		r.logger.Info("removed expired outputs", slog.Int("count", removed))
	}
}

func buildSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "http":
		return tts.NewHTTPSynth(cfg.Endpoint, &http.Client{}), nil
	case "exec":
		return tts.NewExecSynth(cfg.Command)
	case "mock":
		return tts.NewSilentSynth(50 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

func buildGenerator(cfg config.LLMConfig) (llm.Generator, error) {
	switch cfg.Mode {
	case "gemini":
		return llm.NewGeminiGenerator(cfg.Endpoint, cfg.Model, &http.Client{}), nil
	case "ollama":
		return llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model, &http.Client{}), nil
	case "exec":
		return llm.NewExecGenerator(cfg.Command)
	case "mock":
		return llm.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

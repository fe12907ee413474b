// Package httpapi exposes the podcast pipeline and script tools over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-podcast/internal/eventstore"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/writer"
)

type AudioGenerator interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type ScriptWriter interface {
	GenerateScript(ctx context.Context, req writer.ScriptRequest) ([]script.Line, error)
	RegenerateLine(ctx context.Context, req writer.RegenerateRequest) (string, error)
	Brainstorm(ctx context.Context, req writer.BrainstormRequest) (writer.BrainstormReply, error)
}

type SessionHistory interface {
	GetSession(ctx context.Context, id string) (eventstore.Session, error)
	ListSessionEvents(ctx context.Context, id string, limit int) ([]eventstore.Event, error)
}

type OutputResolver interface {
	OutputPath(name string) (string, error)
}

type Deps struct {
	Audio   AudioGenerator
	Writer  ScriptWriter
	History SessionHistory
	Outputs OutputResolver
	Metrics http.Handler
	Ready   func() bool
}

type Options struct {
	PublicBaseURL string
	CORSOrigins   []string
	MaxBodyBytes  int64
	// TTSCredential is used when a request carries no providerCredential.
	TTSCredential string
	// RequireTTSCredential rejects requests left without any credential.
	RequireTTSCredential bool
}

type Server struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	engine *gin.Engine
}

func New(deps Deps, opts Options, logger *slog.Logger) *Server {
	s := &Server{deps: deps, opts: opts, logger: logger.With(slog.String("component", "httpapi"))}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(CORS(opts.CORSOrigins))
	r.Use(LimitBody(opts.MaxBodyBytes))

	r.GET("/healthz", s.handleHealth)
	r.GET("/readyz", s.handleReady)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	r.POST("/generate-audio", s.handleGenerateAudio)
	r.GET("/audio/:filename", s.handleAudioFile)
	r.GET("/sessions/:id", s.handleSession)

	r.POST("/generate-script", s.handleGenerateScript)
	r.POST("/regenerate-script-part", s.handleRegenerate)
	r.POST("/brainstorm-topic", s.handleBrainstorm)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Ready == nil || s.deps.Ready() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

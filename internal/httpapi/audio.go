package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-podcast/internal/eventstore"
	"github.com/loqalabs/loqa-podcast/internal/faults"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/script"
)

type generateAudioRequest struct {
	Script             []script.Line        `json:"script"`
	Speakers           []script.Speaker     `json:"speakers"`
	Channels           script.ChannelLayout `json:"channels"`
	ProviderCredential string               `json:"providerCredential"`
}

type generateAudioResponse struct {
	Message   string `json:"message"`
	AudioURL  string `json:"audioUrl"`
	Filename  string `json:"filename"`
	SessionID string `json:"sessionId"`
}

// POST /generate-audio
func (s *Server) handleGenerateAudio(c *gin.Context) {
	var req generateAudioRequest
	if !bindJSON(c, &req) {
		return
	}
	credential := strings.TrimSpace(req.ProviderCredential)
	if credential == "" {
		credential = s.opts.TTSCredential
	}
	if credential == "" && s.opts.RequireTTSCredential {
		abortWithError(c, faults.Invalid("providerCredential", "is required"))
		return
	}

	res, err := s.deps.Audio.Run(c.Request.Context(), pipeline.Request{
		Script:     req.Script,
		Speakers:   req.Speakers,
		Channels:   req.Channels,
		Credential: credential,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, generateAudioResponse{
		Message:   "Audio generated successfully",
		AudioURL:  baseURL(c, s.opts.PublicBaseURL) + "/audio/" + res.Filename,
		Filename:  res.Filename,
		SessionID: res.SessionID,
	})
}

// GET /audio/:filename
func (s *Server) handleAudioFile(c *gin.Context) {
	path, err := s.deps.Outputs.OutputPath(c.Param("filename"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "message": "audio not found", "status": http.StatusNotFound}})
		return
	}
	c.File(path)
}

// GET /sessions/:id
func (s *Server) handleSession(c *gin.Context) {
	notFound := gin.H{"error": gin.H{"kind": "not_found", "message": "session not found", "status": http.StatusNotFound}}
	if s.deps.History == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, notFound)
		return
	}
	id := c.Param("id")
	sess, err := s.deps.History.GetSession(c.Request.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, notFound)
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	events, err := s.deps.History.ListSessionEvents(c.Request.Context(), id, 0)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "events": events})
}

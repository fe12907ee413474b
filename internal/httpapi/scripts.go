package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/writer"
)

type generateScriptRequest struct {
	InputMode     string           `json:"inputMode"`
	Topic         string           `json:"topic"`
	Content       string           `json:"content"`
	Language      string           `json:"language"`
	Duration      int              `json:"duration"`
	Speakers      []script.Speaker `json:"speakers"`
	LLMCredential string           `json:"llmCredential"`
}

type regenerateRequest struct {
	Script        []script.Line `json:"script"`
	Index         int           `json:"index"`
	Language      string        `json:"language"`
	LLMCredential string        `json:"llmCredential"`
}

type brainstormRequest struct {
	History       []llm.Message `json:"history"`
	UserInput     string        `json:"userInput"`
	LLMCredential string        `json:"llmCredential"`
}

// POST /generate-script
func (s *Server) handleGenerateScript(c *gin.Context) {
	var req generateScriptRequest
	if !bindJSON(c, &req) {
		return
	}
	lines, err := s.deps.Writer.GenerateScript(c.Request.Context(), writer.ScriptRequest{
		InputMode:  req.InputMode,
		Topic:      req.Topic,
		Content:    req.Content,
		Language:   req.Language,
		Duration:   req.Duration,
		Speakers:   req.Speakers,
		Credential: req.LLMCredential,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if lines == nil {
		lines = []script.Line{}
	}
	c.JSON(http.StatusOK, gin.H{"script": lines})
}

// POST /regenerate-script-part
func (s *Server) handleRegenerate(c *gin.Context) {
	var req regenerateRequest
	if !bindJSON(c, &req) {
		return
	}
	text, err := s.deps.Writer.RegenerateLine(c.Request.Context(), writer.RegenerateRequest{
		Script:     req.Script,
		Index:      req.Index,
		Language:   req.Language,
		Credential: req.LLMCredential,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"newText": text})
}

// POST /brainstorm-topic
func (s *Server) handleBrainstorm(c *gin.Context) {
	var req brainstormRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := s.deps.Writer.Brainstorm(c.Request.Context(), writer.BrainstormRequest{
		History:    req.History,
		UserInput:  req.UserInput,
		Credential: req.LLMCredential,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	body := gin.H{"response": reply.Response}
	if reply.FinalTopic != "" {
		body["finalTopic"] = reply.FinalTopic
	}
	c.JSON(http.StatusOK, body)
}

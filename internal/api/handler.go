package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gsarma/coderunner/internal/code"
	"github.com/gsarma/coderunner/internal/helper"
	"github.com/gsarma/coderunner/internal/store"
)

// Wire statuses of POST /check.
const (
	statusRunning     = "RUNNING"
	statusFinished    = "FINISHED"
	statusNonexistent = "NONEXISTENT"
)

type Handler struct {
	queries   store.Querier
	responder helper.Responder
	logger    *slog.Logger

	trialPoll    time.Duration
	trialTimeout time.Duration
}

// GetTemplate returns the starter program for ?language= as plain text.
func (h *Handler) GetTemplate(c *gin.Context) {
	language := c.Query("language")
	if language == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "language is required"})
		return
	}
	src, ok := code.Template(language)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unsupported language: " + language})
		return
	}
	c.String(http.StatusOK, src)
}

// Submit queues a run and responds with the execution id as raw text.
//
// Request body:
//
//	{
//	  "code":     "print('hello')",
//	  "language": "Python",
//	  "problem":  "one",
//	  "input":    "optional stdin"
//	}
func (h *Handler) Submit(c *gin.Context) {
	var body struct {
		Code     string `json:"code" binding:"required"`
		Language string `json:"language" binding:"required"`
		Problem  string `json:"problem"`
		Input    string `json:"input"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := code.LanguageID(body.Language); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported language: " + body.Language})
		return
	}

	exec, err := h.queries.CreateExecution(c.Request.Context(), store.CreateExecutionParams{
		Code:     body.Code,
		Language: body.Language,
		Problem:  body.Problem,
		Stdin:    body.Input,
	})
	if err != nil {
		h.logger.Error("queue execution", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue execution"})
		return
	}

	h.logger.Info("execution queued", "execution_id", exec.ID, "language", exec.Language)
	c.String(http.StatusOK, exec.ID.String())
}

// Check reports the state of an execution. The body is the id as a JSON
// string; a bare id is accepted too. Unknown ids are NONEXISTENT, not 404.
func (h *Handler) Check(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1024))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	id, ok := parseExecutionID(raw)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": statusNonexistent})
		return
	}

	exec, err := h.queries.GetExecution(c.Request.Context(), id)
	if errors.Is(err, store.ErrNoRows) {
		c.JSON(http.StatusOK, gin.H{"status": statusNonexistent})
		return
	}
	if err != nil {
		h.logger.Error("load execution", "execution_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution"})
		return
	}

	if exec.Status != store.StatusFinished {
		c.JSON(http.StatusOK, gin.H{"status": statusRunning})
		return
	}
	resp := gin.H{
		"status":     statusFinished,
		"success":    exec.Success,
		"runtime":    exec.RuntimeMs,
		"output":     exec.Output,
		"error":      exec.Error,
		"exitStatus": exec.ExitStatus,
	}
	if exec.Kind == store.KindProblem {
		resp["results"] = caseResults(exec.Cases)
	}
	c.JSON(http.StatusOK, resp)
}

// Message answers a code-helper conversation with plain text.
func (h *Handler) Message(c *gin.Context) {
	var chat helper.Chat
	if err := c.ShouldBindJSON(&chat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(chat.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages is required"})
		return
	}

	reply, err := h.responder.Respond(c.Request.Context(), chat)
	if err != nil {
		h.logger.Error("helper reply", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "code helper unavailable"})
		return
	}
	c.String(http.StatusOK, reply)
}

func parseExecutionID(raw []byte) (uuid.UUID, bool) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(s), &unquoted); err != nil {
			return uuid.Nil, false
		}
		s = unquoted
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

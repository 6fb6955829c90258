package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/gsarma/coderunner/internal/helper"
	"github.com/gsarma/coderunner/internal/store"
)

// Config controls the optional parts of the HTTP surface.
type Config struct {
	// Token, when set, must be sent as a Bearer token on every route.
	Token string
	// AllowedOrigins lists browser origins allowed to call the API.
	// Empty allows any origin.
	AllowedOrigins []string
	// Responder answers /llm/message. Nil uses helper.Explainer.
	Responder helper.Responder
	// TrialTimeout bounds how long /try_problem waits for a verdict before
	// answering 202. Zero means two minutes.
	TrialTimeout time.Duration
	Logger       *slog.Logger
}

func RegisterRoutes(r *gin.Engine, q store.Querier, cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	responder := cfg.Responder
	if responder == nil {
		responder = helper.Explainer{}
	}
	h := &Handler{
		queries:      q,
		responder:    responder,
		logger:       logger,
		trialTimeout: cfg.TrialTimeout,
	}

	// CORS runs on the engine so preflight requests never reach auth.
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	g := r.Group("/")
	if cfg.Token != "" {
		g.Use(TokenAuth(cfg.Token))
	}
	{
		g.GET("/get_template", h.GetTemplate)
		g.POST("/submit", h.Submit)
		g.POST("/check", h.Check)
		g.POST("/add_problem", h.AddProblem)
		g.GET("/get_problems", h.GetProblems)
		g.POST("/try_problem", h.TryProblem)
		g.POST("/llm/message", h.Message)
	}
	return h
}

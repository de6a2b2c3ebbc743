package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/paradox"
	"github.com/MrEthical07/paradox/middleware"
	"github.com/gin-gonic/gin"
)

// Engine is the subset of *paradox.Engine the handlers call.
type Engine interface {
	StartSession(ctx context.Context) (paradox.StartResult, error)
	Respond(ctx context.Context, req paradox.RespondRequest) (paradox.RespondResult, error)
	Health(ctx context.Context) paradox.Health
}

// Handlers binds HTTP requests to engine operations.
type Handlers struct {
	engine Engine
	logger *slog.Logger
}

func NewHandlers(engine Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{engine: engine, logger: logger}
}

var deniedBody = paradox.RespondResult{Accepted: false, Action: paradox.ActionReject}

// HandleStartSession handles POST /session.
//
//	200 OK: StartResult, including action "fallback" when no challenge could be built
//	503 Service Unavailable: session store down
func (h *Handlers) HandleStartSession(c *gin.Context) {
	res, err := h.engine.StartSession(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "start session failed",
			"error", err, "request_id", middleware.RequestID(c))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "service unavailable",
			Code:  "UNAVAILABLE",
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleRespond handles POST /respond.
//
//	200 OK: RespondResult
//	400 Bad Request: malformed body
//	403 Forbidden: any verification denial, with a fixed body
//	503 Service Unavailable: session store down
func (h *Handlers) HandleRespond(c *gin.Context) {
	var body RespondBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.DebugContext(c.Request.Context(), "invalid respond body",
			"error", err, "request_id", middleware.RequestID(c))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	res, err := h.engine.Respond(c.Request.Context(), paradox.RespondRequest{
		Token:   body.Token,
		RoundID: body.RoundID,
		Answer:  body.Answer,
		Meta:    body.Meta,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case paradox.IsDenial(err):
		c.JSON(http.StatusForbidden, deniedBody)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled", Code: "CANCELLED"})
	default:
		h.logger.ErrorContext(c.Request.Context(), "respond failed",
			"error", err, "request_id", middleware.RequestID(c))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "service unavailable",
			Code:  "UNAVAILABLE",
		})
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	health := h.engine.Health(c.Request.Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

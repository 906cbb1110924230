// Package handler implements the `/api/v1/reasoning` HTTP surface of
// spec.md §6: decode a DTO, call reasoningservice.Service, write the
// `{code,message,data,trace_id}` envelope. Grounded on the teacher's
// internal/http/handler package shape (decode -> call service -> respond),
// generalized from its pgconn-duplicate-key special case to apperr's closed
// code taxonomy.
package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"ontoreason.app/engine/internal/http/dto"
	"ontoreason.app/engine/internal/http/middleware"
	"ontoreason.app/engine/internal/reasoningservice"
)

// ReasoningHandler wires the reasoning engine's service layer to gin.
type ReasoningHandler struct {
	svc *reasoningservice.Service
}

func NewReasoningHandler(svc *reasoningservice.Service) *ReasoningHandler {
	return &ReasoningHandler{svc: svc}
}

// CreateSession handles `POST /api/v1/reasoning/sessions`.
func (h *ReasoningHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, validationErr(err))
		return
	}

	result, err := h.svc.CreateSession(c.Request.Context(), middleware.TenantID(c), req.UserInput, req.Metadata)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	middleware.WriteOK(c, result)
}

// GetSession handles `GET /api/v1/reasoning/sessions/{id}`.
func (h *ReasoningHandler) GetSession(c *gin.Context) {
	sessionID, err := middleware.SessionIDParam(c)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	result, err := h.svc.GetSession(c.Request.Context(), middleware.TenantID(c), sessionID)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	middleware.WriteOK(c, result)
}

// Run handles `POST /api/v1/reasoning/sessions/{id}/run`. A waiting_*
// status is still a 200 response (spec.md §7), so both branches use
// WriteOK/WriteWaiting rather than an error path.
func (h *ReasoningHandler) Run(c *gin.Context) {
	sessionID, err := middleware.SessionIDParam(c)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	var req dto.RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, validationErr(err))
			return
		}
	}

	result, err := h.svc.Run(c.Request.Context(), middleware.TenantID(c), sessionID, req.UserInput)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	if strings.HasPrefix(result.Status, "waiting_") {
		middleware.WriteWaiting(c, result)
		return
	}
	middleware.WriteOK(c, result)
}

// Clarify handles `POST /api/v1/reasoning/sessions/{id}/clarify`.
func (h *ReasoningHandler) Clarify(c *gin.Context) {
	sessionID, err := middleware.SessionIDParam(c)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	var req dto.ClarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, validationErr(err))
		return
	}

	result, err := h.svc.Clarify(c.Request.Context(), middleware.TenantID(c), sessionID, req.Answer)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	middleware.WriteOK(c, result)
}

// ListTrace handles `GET /api/v1/reasoning/sessions/{id}/trace`.
func (h *ReasoningHandler) ListTrace(c *gin.Context) {
	sessionID, err := middleware.SessionIDParam(c)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	items, err := h.svc.ListTrace(c.Request.Context(), middleware.TenantID(c), sessionID)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	middleware.WriteOK(c, gin.H{"items": items})
}

// Cancel handles `POST /api/v1/reasoning/sessions/{id}/cancel`.
func (h *ReasoningHandler) Cancel(c *gin.Context) {
	sessionID, err := middleware.SessionIDParam(c)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	var req dto.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.WriteError(c, validationErr(err))
			return
		}
	}

	result, err := h.svc.Cancel(c.Request.Context(), middleware.TenantID(c), sessionID, req.Reason)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	middleware.WriteOK(c, result)
}

// Package middleware carries the gin pipeline shared by every reasoning
// route: panic recovery, structured request logging, and the
// tenant/bearer/trace-id header contract spec.md §6 requires of the
// `/api/v1/reasoning` surface.
//
// Grounded on the teacher's router.SetupRoutes ordering comment ("OTel
// creates span -> Recovery catches panics -> Logger logs with trace
// context") — cmd/server installs the otelgin middleware for the OTel span
// leg, so this package only needs to supply Recovery/Logger/RequireTenant.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/platform/logger"
)

const (
	tenantHeader = "X-Tenant-Id"
	traceHeader  = "X-Trace-Id"
)

// Recovery converts a panic in a handler into a 9000 INTERNAL envelope
// instead of crashing the process, matching the teacher's per-request
// isolation (one goroutine per HTTP request, spec.md §5).
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered", "error", r, "path", c.FullPath())
				WriteError(c, apperr.Internalf(nil, "internal error"))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// Logger logs one line per request on completion, reading the structured
// log fields (tenant id) that RequireTenant put on the request context.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := logger.GetLogFields(c.Request.Context())
		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"tenant_id", fields.TenantID,
		)
	}
}

// RequireTenant enforces spec.md §6's header contract: X-Tenant-Id is
// mandatory, X-Trace-Id is optional (an absent header leaves the trace id
// empty), and a
// bearer token must be present. The token's validity is the external
// authentication shell's concern (§1 non-goal) — this only enforces shape.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(tenantHeader))
		if tenantID == "" {
			WriteError(c, apperr.Validationf("missing required header %s", tenantHeader))
			c.Abort()
			return
		}

		authz := c.GetHeader("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")) == "" {
			WriteError(c, apperr.New(apperr.Validation, "missing bearer token"))
			c.Abort()
			return
		}

		traceID := strings.TrimSpace(c.GetHeader(traceHeader))
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			TenantID: &tenantID,
			TraceID:  &traceID,
			Component: "reasoning.http",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set("tenant_id", tenantID)
		c.Set("trace_id", traceID)
		c.Next()
	}
}

// TenantID reads the validated tenant id set by RequireTenant.
func TenantID(c *gin.Context) string {
	v, _ := c.Get("tenant_id")
	s, _ := v.(string)
	return s
}

// TraceID reads the caller-supplied X-Trace-Id, or "" if absent.
func TraceID(c *gin.Context) string {
	v, _ := c.Get("trace_id")
	s, _ := v.(string)
	return s
}

// SessionIDParam parses the `:id` path parameter as a session id.
func SessionIDParam(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validationf("invalid session id %q", raw)
	}
	return id, nil
}

// envelope is the REST response shape every handler writes, per spec.md §6:
// `{code:int, message:str, data:object, trace_id:str}`.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	TraceID string `json:"trace_id"`
}

// WriteOK writes a success envelope (code=0) with the given data payload.
func WriteOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: 0, Message: "ok", Data: data, TraceID: TraceID(c)})
}

// WriteWaiting writes a 200 response carrying a waiting_* status, per
// spec.md §7 "User-visible failure behavior": suspensions are not errors.
func WriteWaiting(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: 0, Message: "waiting", Data: data, TraceID: TraceID(c)})
}

// WriteError maps err to its apperr.Code (defaulting to INTERNAL for
// untyped errors, per spec.md §7's propagation policy) and writes the
// mapped HTTP status with the error envelope.
func WriteError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.JSON(code.HTTPStatus(), envelope{
		Code:    int(code),
		Message: err.Error(),
		TraceID: TraceID(c),
	})
}

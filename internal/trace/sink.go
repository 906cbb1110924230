// Package trace implements the append-only reasoning trace log: every node
// transition, tool call, and LLM exchange is recorded as a typed event
// against a closed taxonomy, with a best-effort external fan-out that never
// blocks or fails the run it is observing.
//
// Grounded on original_source's services/trace_service.py (the closed event
// set and the session_failed/unknown_event_type rewrite rule) and
// services/observability/langfuse_sink.py (lazy client rebuild behind a
// config-fingerprint check, swallow-all-errors fan-out). The teacher's
// common/otel package contributes the setup-once-behind-a-lock shape this
// sink reuses for its external client.
package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ontoreason.app/engine/internal/platform/id"
)

// EventType is the closed taxonomy every trace event must belong to.
type EventType string

const (
	EventIntentParsed         EventType = "intent_parsed"
	EventAttributesMatched    EventType = "attributes_matched"
	EventOntologiesLocated    EventType = "ontologies_located"
	EventTaskPlanned          EventType = "task_planned"
	EventTaskExecuted         EventType = "task_executed"
	EventClarificationAsked   EventType = "clarification_asked"
	EventRecoveryTriggered    EventType = "recovery_triggered"
	EventSessionCompleted     EventType = "session_completed"
	EventSessionFailed        EventType = "session_failed"
	EventSessionStarted       EventType = "session_started"
	EventMCPCallRequested     EventType = "mcp_call_requested"
	EventMCPCallCompleted     EventType = "mcp_call_completed"
	EventLLMPromptSent        EventType = "llm_prompt_sent"
	EventLLMResponseReceived  EventType = "llm_response_received"
)

var allowedEvents = map[EventType]bool{
	EventIntentParsed:        true,
	EventAttributesMatched:   true,
	EventOntologiesLocated:   true,
	EventTaskPlanned:         true,
	EventTaskExecuted:        true,
	EventClarificationAsked:  true,
	EventRecoveryTriggered:   true,
	EventSessionCompleted:    true,
	EventSessionFailed:       true,
	EventSessionStarted:      true,
	EventMCPCallRequested:    true,
	EventMCPCallCompleted:    true,
	EventLLMPromptSent:       true,
	EventLLMResponseReceived: true,
}

// Event is one durable row in the trace log.
type Event struct {
	ID        int64          `json:"id"`
	SessionID int64          `json:"session_id"`
	TurnID    *int64         `json:"turn_id,omitempty"`
	Step      string         `json:"step"`
	EventType EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	TraceID   string         `json:"trace_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RuntimeConfig governs the external fan-out client. It is re-read from
// Redis on every Emit call; a fingerprint change triggers a client rebuild.
type RuntimeConfig struct {
	Enabled          bool
	WebhookURL       string
	WebhookAuthToken string
	Environment      string
	PayloadMaxChars  int
}

func (c RuntimeConfig) fingerprint() string {
	return fmt.Sprintf("%v|%s|%s|%s|%d", c.Enabled, c.WebhookURL, c.WebhookAuthToken, c.Environment, c.PayloadMaxChars)
}

const runtimeConfigRedisKey = "ontoreason:observability:trace_sink_config"
const defaultPayloadMaxChars = 2000

// Sink writes trace events durably and fans them out best-effort to an
// external observability webhook.
type Sink struct {
	pool  *pgxpool.Pool
	redis *redis.Client

	mu          sync.Mutex
	fingerprint string
	client      *http.Client
	cfg         RuntimeConfig
}

func NewSink(pool *pgxpool.Pool, redisClient *redis.Client) *Sink {
	return &Sink{pool: pool, redis: redisClient}
}

// Emit records event durably, rewriting unrecognized event types to
// session_failed with a reason payload (never drops an event silently), then
// best-effort forwards it externally. Emit itself never returns an error to
// its caller for the fan-out leg — only the durable write can fail the call.
func (s *Sink) Emit(ctx context.Context, sessionID int64, turnID *int64, step string, eventType EventType, payload map[string]any, traceID string, tenantID string) error {
	effectiveType, effectivePayload := normalizeEvent(eventType, payload)

	eventID := id.New()
	payloadJSON, err := json.Marshal(effectivePayload)
	if err != nil {
		return fmt.Errorf("marshal trace payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reasoning_trace_events (id, session_id, turn_id, step, event_type, payload, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, eventID, sessionID, turnID, step, string(effectiveType), payloadJSON, traceID)
	if err != nil {
		return fmt.Errorf("insert trace event: %w", err)
	}

	go s.fanOut(context.WithoutCancel(ctx), tenantID, sessionID, traceID, step, effectiveType, effectivePayload)
	return nil
}

// ListEvents returns every durable event for a session, ordered by id.
func (s *Sink) ListEvents(ctx context.Context, sessionID int64) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, turn_id, step, event_type, payload, trace_id, created_at
		FROM reasoning_trace_events
		WHERE session_id = $1
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trace events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payloadJSON []byte
		var eventType string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TurnID, &e.Step, &eventType, &payloadJSON, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		e.EventType = EventType(eventType)
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			e.Payload = map[string]any{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// fanOut forwards the event to an external observability webhook, swallowing
// every error: a slow or unreachable sink must never fail the reasoning run
// it is only watching.
func (s *Sink) fanOut(ctx context.Context, tenantID string, sessionID int64, traceID, step string, eventType EventType, payload map[string]any) {
	cfg := s.loadRuntimeConfig(ctx)
	client := s.ensureClient(cfg)
	if client == nil {
		return
	}

	body := map[string]any{
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"trace_id":   traceID,
		"step":       step,
		"event_type": string(eventType),
		"payload":    trimPayload(payload, cfg.PayloadMaxChars),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.WebhookAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.WebhookAuthToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "trace sink fan-out failed", "error", err)
		return
	}
	defer resp.Body.Close()
}

// normalizeEvent rewrites any event type outside the closed taxonomy to
// session_failed, preserving the original type and any caller payload inside
// a reason payload. Known event types pass through unchanged.
func normalizeEvent(eventType EventType, payload map[string]any) (EventType, map[string]any) {
	if allowedEvents[eventType] {
		if payload == nil {
			payload = map[string]any{}
		}
		return eventType, payload
	}

	rewritten := map[string]any{
		"reason":         "unknown_event_type",
		"raw_event_type": string(eventType),
	}
	for k, v := range payload {
		rewritten[k] = v
	}
	return EventSessionFailed, rewritten
}

func trimPayload(payload map[string]any, maxChars int) any {
	if maxChars <= 0 {
		maxChars = defaultPayloadMaxChars
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	if len(text) <= maxChars {
		return payload
	}
	return map[string]any{
		"truncated": true,
		"size":      len(text),
		"preview":   string(text[:maxChars]),
	}
}

func (s *Sink) loadRuntimeConfig(ctx context.Context) RuntimeConfig {
	if s.redis == nil {
		return RuntimeConfig{}
	}
	raw, err := s.redis.Get(ctx, runtimeConfigRedisKey).Result()
	if err != nil {
		return RuntimeConfig{}
	}
	var cfg RuntimeConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return RuntimeConfig{}
	}
	return cfg
}

// ensureClient rebuilds the HTTP fan-out client only when cfg's fingerprint
// has changed since the last call, mirroring the teacher's provider-setup-
// once-behind-a-lock shape.
func (s *Sink) ensureClient(cfg RuntimeConfig) *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := cfg.fingerprint()
	if fp == s.fingerprint && s.client != nil {
		if !cfg.Enabled || cfg.WebhookURL == "" {
			return nil
		}
		return s.client
	}

	s.fingerprint = fp
	s.cfg = cfg
	if !cfg.Enabled || cfg.WebhookURL == "" {
		s.client = nil
		return nil
	}
	s.client = &http.Client{Timeout: 3 * time.Second}
	return s.client
}

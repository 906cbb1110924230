// Package reasoningservice implements the engine's six entry points —
// CreateSession, Run, Clarify, Cancel, GetSession, ListTrace — gluing the
// reasoning state graph to its repositories behind the single-commit-per-run
// transaction (spec.md §5). Ported from original_source's
// services/reasoning_service.py's public methods, minus the LangGraph
// invocation they wrap (see internal/reasoning's package doc).
package reasoningservice

import (
	"context"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/contextstore"
	"ontoreason.app/engine/internal/executors"
	"ontoreason.app/engine/internal/graphtools"
	"ontoreason.app/engine/internal/llmclient"
	"ontoreason.app/engine/internal/platform/db"
	"ontoreason.app/engine/internal/reasoning"
	"ontoreason.app/engine/internal/reasoningrepo"
	"ontoreason.app/engine/internal/tenantconfig"
	"ontoreason.app/engine/internal/trace"
)

// Service is the reasoning engine's orchestration layer: one instance per
// process, shared across tenants and sessions.
type Service struct {
	db        *db.DB
	repo      *reasoningrepo.Repo
	tenants   *tenantconfig.Resolver
	trace     *trace.Sink
	context   *contextstore.Store
	graphTool *graphtools.Client
	llm       *llmclient.Client
	executors *executors.Executor
	graph     *reasoning.Graph
}

func New(
	database *db.DB,
	repo *reasoningrepo.Repo,
	tenants *tenantconfig.Resolver,
	traceSink *trace.Sink,
	ctxStore *contextstore.Store,
	graphTool *graphtools.Client,
	llm *llmclient.Client,
	execs *executors.Executor,
) *Service {
	return &Service{
		db:        database,
		repo:      repo,
		tenants:   tenants,
		trace:     traceSink,
		context:   ctxStore,
		graphTool: graphTool,
		llm:       llm,
		executors: execs,
		graph:     reasoning.New(),
	}
}

func (s *Service) deps() *reasoning.Deps {
	return &reasoning.Deps{
		Graph:     s.graphTool,
		LLM:       s.llm,
		Executors: s.executors,
		Context:   s.context,
		Trace:     s.trace,
	}
}

func (s *Service) auditCallback(sessionID, turnID int64, tenantID string) llmclient.AuditCallback {
	return func(event llmclient.AuditEvent, payload map[string]any) {
		var eventType trace.EventType
		switch event {
		case llmclient.EventLLMPromptSent:
			eventType = trace.EventLLMPromptSent
		case llmclient.EventLLMResponseReceived:
			eventType = trace.EventLLMResponseReceived
		default:
			return
		}
		// Best-effort: the audit callback must never fail the decision it
		// observes, matching llmclient.emit's recover-and-discard contract.
		_ = s.trace.Emit(context.Background(), sessionID, &turnID, "", eventType, payload, "", tenantID)
	}
}

// CreateSession creates a session and its first turn, per spec.md §6
// `POST /sessions`.
func (s *Service) CreateSession(ctx context.Context, tenantID, userInput string, metadata map[string]any) (*SessionCreateResult, error) {
	if userInput == "" {
		return nil, apperr.Validationf("user_input is required")
	}

	var result *SessionCreateResult
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		bound := s.repo.Q(tx)
		session, err := bound.CreateSession(ctx, tenantID)
		if err != nil {
			return err
		}
		turn, err := bound.CreateTurn(ctx, session.ID, userInput, 1)
		if err != nil {
			return err
		}
		if metadata != nil {
			if err := s.context.WriteTx(ctx, tx, session.ID, contextstore.ScopeSession, "metadata", metadata); err != nil {
				return err
			}
		}
		result = &SessionCreateResult{
			SessionID: session.ID,
			Status:    string(session.Status),
			Turn:      turnView(turn),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = s.trace.Emit(ctx, result.SessionID, &result.Turn.TurnID, "create_session", trace.EventSessionStarted,
		map[string]any{"user_input": userInput}, "", tenantID)
	return result, nil
}

// GetSession returns a session's current state, latest turn, any pending
// clarification, and its tasks, per spec.md §6 `GET /sessions/{id}`.
func (s *Service) GetSession(ctx context.Context, tenantID string, sessionID int64) (*SessionDetail, error) {
	pool := s.repo.Pool()
	session, err := pool.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	latestTurn, err := pool.LatestTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	detail := &SessionDetail{SessionID: session.ID, Status: string(session.Status)}
	if latestTurn != nil {
		v := turnView(latestTurn)
		detail.LatestTurn = &v
	}

	if session.Status.IsWaiting() {
		pending, err := pool.LatestPendingClarification(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if pending != nil {
			cv := clarificationView(pending)
			detail.PendingClarification = &cv
		}
	}

	tasks, err := pool.ListTasks(ctx, sessionID, nil)
	if err != nil {
		return nil, err
	}
	detail.Tasks = taskViews(tasks)
	return detail, nil
}

// ListTrace returns every durable trace event for a session, per spec.md §6
// `GET /sessions/{id}/trace`.
func (s *Service) ListTrace(ctx context.Context, tenantID string, sessionID int64) ([]trace.Event, error) {
	if _, err := s.repo.Pool().GetSession(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	return s.trace.ListEvents(ctx, sessionID)
}

// Cancel unconditionally transitions a session to cancelled, per spec.md §5
// "Cancellation": orphaned tasks are left pending and never reopened since
// Run refuses to operate on a terminal session.
func (s *Service) Cancel(ctx context.Context, tenantID string, sessionID int64, reason string) (*CancelResult, error) {
	session, err := s.repo.Pool().GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return &CancelResult{SessionID: sessionID, Status: string(session.Status)}, nil
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.repo.Q(tx).UpdateSessionStatus(ctx, sessionID, reasoningrepo.SessionCancelled, true)
	})
	if err != nil {
		return nil, err
	}

	_ = s.trace.Emit(ctx, sessionID, nil, "cancel", trace.EventSessionFailed,
		map[string]any{"reason": reasonOrDefault(reason)}, "", tenantID)

	return &CancelResult{SessionID: sessionID, Status: string(reasoningrepo.SessionCancelled)}, nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "cancelled_by_caller"
	}
	return reason
}

func turnView(t *reasoningrepo.Turn) TurnView {
	return TurnView{
		TurnID:    t.ID,
		TurnNo:    t.TurnNo,
		Status:    t.Status,
		UserInput: t.UserInput,
	}
}

func clarificationView(c *reasoningrepo.Clarification) ClarificationView {
	return ClarificationView{
		ClarificationID: c.ID,
		Status:          string(c.Status),
		Question:        c.Question,
	}
}

func taskViews(tasks []reasoningrepo.Task) []TaskView {
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskView{TaskID: t.ID, TaskType: string(t.TaskType), Status: string(t.Status)})
	}
	return out
}

func turnNotFoundErr(sessionID int64) error {
	return apperr.NotFoundf("session %d has no runnable turn", sessionID)
}

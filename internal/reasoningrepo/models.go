// Package reasoningrepo persists ReasoningSession, ReasoningTurn,
// ReasoningTask, and ReasoningClarification — the engine's durable
// state machine records (spec.md §3). ReasoningContext and
// ReasoningTraceEvent have their own packages (contextstore, trace) since
// they are append-only logs rather than mutable row-per-entity records.
//
// Grounded on original_source's repositories/reasoning_repo.py for method
// names/semantics, teacher's core/db.DB.WithTx for the transaction shape.
package reasoningrepo

import "time"

// SessionStatus is one of the seven session states from spec.md §3.
type SessionStatus string

const (
	SessionCreated              SessionStatus = "created"
	SessionRunning               SessionStatus = "running"
	SessionWaitingClarification  SessionStatus = "waiting_clarification"
	SessionWaitingConfirmation   SessionStatus = "waiting_confirmation"
	SessionCompleted             SessionStatus = "completed"
	SessionFailed                SessionStatus = "failed"
	SessionCancelled             SessionStatus = "cancelled"
)

// IsTerminal reports whether status is one of the three terminal states.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// IsWaiting reports whether status is one of the two suspension states.
func (s SessionStatus) IsWaiting() bool {
	return s == SessionWaitingClarification || s == SessionWaitingConfirmation
}

// Session is a ReasoningSession row.
type Session struct {
	ID        int64
	TenantID  string
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

// Turn is a ReasoningTurn row.
type Turn struct {
	ID          int64
	SessionID   int64
	TurnNo      int
	UserInput   string
	Status      string
	ModelOutput map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskType is one of the two executable task kinds.
type TaskType string

const (
	TaskCapability     TaskType = "capability"
	TaskObjectProperty TaskType = "object_property"
)

// TaskStatus is one of the three task states.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a ReasoningTask row.
type Task struct {
	ID         int64
	SessionID  int64
	TurnID     int64
	TaskType   TaskType
	TaskPayload map[string]any
	Status     TaskStatus
	RetryCount int
	CreatedAt  time.Time
}

// ClarificationStatus is one of the two clarification states.
type ClarificationStatus string

const (
	ClarificationPending  ClarificationStatus = "pending"
	ClarificationAnswered ClarificationStatus = "answered"
)

// Clarification is a ReasoningClarification row. Question and Answer are
// untyped JSON since their shape varies by clarification type (spec.md §6's
// "Clarification answer shapes").
type Clarification struct {
	ID        int64
	SessionID int64
	TurnID    *int64
	Question  map[string]any
	Answer    map[string]any
	Status    ClarificationStatus
	CreatedAt time.Time
}

package reasoningrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/platform/id"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every method
// below works whether called outside or inside a Run transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo is the reasoning engine's session/turn/task/clarification repository.
type Repo struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Q returns a Repo bound to db — pass a pgx.Tx to scope every call inside
// the caller's transaction, or the pool for standalone reads.
func (r *Repo) Q(db querier) *Bound {
	return &Bound{db: db}
}

// Pool exposes the repo's read path for handlers that only read (GET
// endpoints never need transactional scope).
func (r *Repo) Pool() *Bound {
	return &Bound{db: r.pool}
}

// Bound is a Repo scoped to one querier (pool or transaction).
type Bound struct {
	db querier
}

func (b *Bound) CreateSession(ctx context.Context, tenantID string) (*Session, error) {
	sessionID := id.New()
	_, err := b.db.Exec(ctx, `
		INSERT INTO reasoning_sessions (id, tenant_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, sessionID, tenantID, string(SessionCreated))
	if err != nil {
		return nil, fmt.Errorf("insert reasoning session: %w", err)
	}
	return b.GetSession(ctx, tenantID, sessionID)
}

func (b *Bound) GetSession(ctx context.Context, tenantID string, sessionID int64) (*Session, error) {
	row := b.db.QueryRow(ctx, `
		SELECT id, tenant_id, status, created_at, updated_at, ended_at
		FROM reasoning_sessions WHERE tenant_id = $1 AND id = $2
	`, tenantID, sessionID)
	var s Session
	var status string
	if err := row.Scan(&s.ID, &s.TenantID, &status, &s.CreatedAt, &s.UpdatedAt, &s.EndedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFoundf("reasoning session not found")
		}
		return nil, fmt.Errorf("get reasoning session: %w", err)
	}
	s.Status = SessionStatus(status)
	return &s, nil
}

func (b *Bound) UpdateSessionStatus(ctx context.Context, sessionID int64, status SessionStatus, ended bool) error {
	var err error
	if ended {
		_, err = b.db.Exec(ctx, `
			UPDATE reasoning_sessions SET status = $1, updated_at = now(), ended_at = now() WHERE id = $2
		`, string(status), sessionID)
	} else {
		_, err = b.db.Exec(ctx, `
			UPDATE reasoning_sessions SET status = $1, updated_at = now() WHERE id = $2
		`, string(status), sessionID)
	}
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (b *Bound) CreateTurn(ctx context.Context, sessionID int64, userInput string, turnNo int) (*Turn, error) {
	turnID := id.New()
	_, err := b.db.Exec(ctx, `
		INSERT INTO reasoning_turns (id, session_id, turn_no, user_input, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`, turnID, sessionID, turnNo, userInput, "created")
	if err != nil {
		return nil, fmt.Errorf("insert reasoning turn: %w", err)
	}
	return b.GetTurn(ctx, turnID)
}

func (b *Bound) GetTurn(ctx context.Context, turnID int64) (*Turn, error) {
	row := b.db.QueryRow(ctx, `
		SELECT id, session_id, turn_no, user_input, status, model_output, created_at, updated_at
		FROM reasoning_turns WHERE id = $1
	`, turnID)
	return scanTurn(row)
}

func (b *Bound) LatestTurn(ctx context.Context, sessionID int64) (*Turn, error) {
	row := b.db.QueryRow(ctx, `
		SELECT id, session_id, turn_no, user_input, status, model_output, created_at, updated_at
		FROM reasoning_turns WHERE session_id = $1 ORDER BY turn_no DESC LIMIT 1
	`, sessionID)
	turn, err := scanTurn(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return turn, err
}

func scanTurn(row pgx.Row) (*Turn, error) {
	var t Turn
	var modelOutputJSON []byte
	if err := row.Scan(&t.ID, &t.SessionID, &t.TurnNo, &t.UserInput, &t.Status, &modelOutputJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan reasoning turn: %w", err)
	}
	if len(modelOutputJSON) > 0 {
		_ = json.Unmarshal(modelOutputJSON, &t.ModelOutput)
	}
	return &t, nil
}

// NextTurnNo returns the turn_no for a new turn: one past the max existing
// turn_no for the session (0 if none), matching original_source's
// next_turn_no + ReasoningTurn's monotonic-contiguous invariant.
func (b *Bound) NextTurnNo(ctx context.Context, sessionID int64) (int, error) {
	row := b.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(turn_no), 0) FROM reasoning_turns WHERE session_id = $1
	`, sessionID)
	var maxTurnNo int
	if err := row.Scan(&maxTurnNo); err != nil {
		return 0, fmt.Errorf("next turn no: %w", err)
	}
	return maxTurnNo + 1, nil
}

func (b *Bound) UpdateTurnStatus(ctx context.Context, turnID int64, status string) error {
	_, err := b.db.Exec(ctx, `
		UPDATE reasoning_turns SET status = $1, updated_at = now() WHERE id = $2
	`, status, turnID)
	if err != nil {
		return fmt.Errorf("update turn status: %w", err)
	}
	return nil
}

// UpdateTurnInput overwrites user_input and status — used by clarify/
// confirmation answers that append context to the turn before re-running it.
func (b *Bound) UpdateTurnInput(ctx context.Context, turnID int64, userInput, status string) error {
	_, err := b.db.Exec(ctx, `
		UPDATE reasoning_turns SET user_input = $1, status = $2, updated_at = now() WHERE id = $3
	`, userInput, status, turnID)
	if err != nil {
		return fmt.Errorf("update turn input: %w", err)
	}
	return nil
}

func (b *Bound) CompleteTurn(ctx context.Context, turnID int64, modelOutput map[string]any) error {
	payload, err := json.Marshal(modelOutput)
	if err != nil {
		return fmt.Errorf("marshal model output: %w", err)
	}
	_, err = b.db.Exec(ctx, `
		UPDATE reasoning_turns SET status = 'completed', model_output = $1, updated_at = now() WHERE id = $2
	`, payload, turnID)
	if err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	return nil
}

func (b *Bound) CreateTask(ctx context.Context, sessionID, turnID int64, taskType TaskType, payload map[string]any) (*Task, error) {
	taskID := id.New()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}
	_, err = b.db.Exec(ctx, `
		INSERT INTO reasoning_tasks (id, session_id, turn_id, task_type, task_payload, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now())
	`, taskID, sessionID, turnID, string(taskType), payloadJSON, string(TaskPending))
	if err != nil {
		return nil, fmt.Errorf("insert reasoning task: %w", err)
	}
	return &Task{
		ID: taskID, SessionID: sessionID, TurnID: turnID,
		TaskType: taskType, TaskPayload: payload, Status: TaskPending,
	}, nil
}

func (b *Bound) UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error {
	_, err := b.db.Exec(ctx, `UPDATE reasoning_tasks SET status = $1 WHERE id = $2`, string(status), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (b *Bound) ListTasks(ctx context.Context, sessionID int64, turnID *int64) ([]Task, error) {
	var rows pgx.Rows
	var err error
	if turnID != nil {
		rows, err = b.db.Query(ctx, `
			SELECT id, session_id, turn_id, task_type, task_payload, status, retry_count, created_at
			FROM reasoning_tasks WHERE session_id = $1 AND turn_id = $2 ORDER BY id ASC
		`, sessionID, *turnID)
	} else {
		rows, err = b.db.Query(ctx, `
			SELECT id, session_id, turn_id, task_type, task_payload, status, retry_count, created_at
			FROM reasoning_tasks WHERE session_id = $1 ORDER BY id ASC
		`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list reasoning tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var taskType, status string
		var payloadJSON []byte
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnID, &taskType, &payloadJSON, &status, &t.RetryCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reasoning task: %w", err)
		}
		t.TaskType = TaskType(taskType)
		t.Status = TaskStatus(status)
		_ = json.Unmarshal(payloadJSON, &t.TaskPayload)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (b *Bound) CreateClarification(ctx context.Context, sessionID int64, turnID *int64, question map[string]any) (*Clarification, error) {
	clarificationID := id.New()
	questionJSON, err := json.Marshal(question)
	if err != nil {
		return nil, fmt.Errorf("marshal clarification question: %w", err)
	}
	_, err = b.db.Exec(ctx, `
		INSERT INTO reasoning_clarifications (id, session_id, turn_id, question_json, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, clarificationID, sessionID, turnID, questionJSON, string(ClarificationPending))
	if err != nil {
		return nil, fmt.Errorf("insert reasoning clarification: %w", err)
	}
	return &Clarification{
		ID: clarificationID, SessionID: sessionID, TurnID: turnID,
		Question: question, Status: ClarificationPending,
	}, nil
}

// LatestPendingClarification enforces the "at most one pending clarification
// per session" invariant by reading the most recent pending row — it never
// creates a second one while this is non-nil.
func (b *Bound) LatestPendingClarification(ctx context.Context, sessionID int64) (*Clarification, error) {
	row := b.db.QueryRow(ctx, `
		SELECT id, session_id, turn_id, question_json, answer_json, status, created_at
		FROM reasoning_clarifications
		WHERE session_id = $1 AND status = $2
		ORDER BY id DESC LIMIT 1
	`, sessionID, string(ClarificationPending))

	var c Clarification
	var status string
	var questionJSON, answerJSON []byte
	if err := row.Scan(&c.ID, &c.SessionID, &c.TurnID, &questionJSON, &answerJSON, &status, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest pending clarification: %w", err)
	}
	c.Status = ClarificationStatus(status)
	_ = json.Unmarshal(questionJSON, &c.Question)
	if len(answerJSON) > 0 {
		_ = json.Unmarshal(answerJSON, &c.Answer)
	}
	return &c, nil
}

func (b *Bound) AnswerClarification(ctx context.Context, clarificationID int64, answer map[string]any) error {
	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal clarification answer: %w", err)
	}
	_, err = b.db.Exec(ctx, `
		UPDATE reasoning_clarifications SET answer_json = $1, status = $2 WHERE id = $3
	`, answerJSON, string(ClarificationAnswered), clarificationID)
	if err != nil {
		return fmt.Errorf("answer clarification: %w", err)
	}
	return nil
}

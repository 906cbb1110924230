package reasoningservice

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/reasoning"
	"ontoreason.app/engine/internal/reasoningrepo"
	"ontoreason.app/engine/internal/trace"
)

// Clarify records a human's answer to the session's pending clarification
// and returns the session to `created`, per spec.md §6
// `POST /sessions/{id}/clarify`. It does not re-invoke the graph — the
// caller issues a subsequent `Run` to resume (spec.md §9).
func (s *Service) Clarify(ctx context.Context, tenantID string, sessionID int64, answer map[string]any) (*ClarifyResult, error) {
	session, err := s.repo.Pool().GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.IsWaiting() {
		return nil, apperr.Validationf("session %d has no pending clarification (status=%s)", sessionID, session.Status)
	}

	pending, err := s.repo.Pool().LatestPendingClarification(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, apperr.NotFoundf("session %d has no pending clarification", sessionID)
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		bound := s.repo.Q(tx)

		if isConfirmation(pending.Question) {
			if err := s.applyConfirmationAnswer(ctx, tx, sessionID, pending.Question, answer); err != nil {
				return err
			}
		} else if pending.TurnID != nil {
			if err := applyFreeformAnswer(ctx, bound, *pending.TurnID, answer); err != nil {
				return err
			}
		}

		if err := bound.AnswerClarification(ctx, pending.ID, answer); err != nil {
			return err
		}
		if err := bound.UpdateSessionStatus(ctx, sessionID, reasoningrepo.SessionCreated, false); err != nil {
			return err
		}
		if pending.TurnID != nil {
			if err := bound.UpdateTurnStatus(ctx, *pending.TurnID, "created"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if isConfirmation(pending.Question) {
		details, _ := pending.Question["details"].(map[string]any)
		_ = s.trace.Emit(ctx, sessionID, pending.TurnID, "clarify", trace.EventRecoveryTriggered, map[string]any{
			"confirmation_decision": answer["decision"],
			"from_code":             details["from_code"],
			"to_code":               details["to_code"],
		}, "", tenantID)
	}

	return &ClarifyResult{
		SessionID: sessionID,
		Status:    string(reasoningrepo.SessionCreated),
		Clarification: ClarificationView{
			ClarificationID: pending.ID,
			Status:          string(reasoningrepo.ClarificationAnswered),
		},
	}, nil
}

func isConfirmation(question map[string]any) bool {
	t, _ := question["type"].(string)
	return t == "traversal_confirmation"
}

// applyConfirmationAnswer applies a `{type:"confirmation", decision:"approve"|"reject"}`
// answer to the durable traversal state (spec.md §4.10 "On answer: ...
// increment depth, decrement branch_budget, in either case").
func (s *Service) applyConfirmationAnswer(ctx context.Context, tx pgx.Tx, sessionID int64, question, answer map[string]any) error {
	details, _ := question["details"].(map[string]any)
	fromCode, _ := details["from_code"].(string)
	toCode, _ := details["to_code"].(string)
	decision, _ := answer["decision"].(string)
	approved := strings.EqualFold(decision, "approve")

	ts := reasoning.LoadTraversalState(ctx, s.context, sessionID)
	ts.RecordStep(fromCode, toCode, approved)
	ts.PendingFromCode = ""
	if approved {
		ts.ApprovedTargetOntologyCode = toCode
	} else {
		ts.ApprovedTargetOntologyCode = ""
	}
	return reasoning.SaveTraversalState(ctx, s.context, tx, sessionID, ts)
}

// applyFreeformAnswer folds a non-confirmation clarification's answer
// (`{keyword:...}` or `{text:...}`) into the turn's user_input so the next
// run's understand_intent sees the supplemented query (spec.md §8 scenario 2).
func applyFreeformAnswer(ctx context.Context, bound *reasoningrepo.Bound, turnID int64, answer map[string]any) error {
	turn, err := bound.GetTurn(ctx, turnID)
	if err != nil {
		return err
	}
	addition := freeformText(answer)
	if addition == "" {
		return nil
	}
	return bound.UpdateTurnInput(ctx, turnID, strings.TrimSpace(turn.UserInput+" "+addition), "created")
}

func freeformText(answer map[string]any) string {
	if keyword, ok := answer["keyword"].(string); ok && keyword != "" {
		return keyword
	}
	if text, ok := answer["text"].(string); ok && text != "" {
		return text
	}
	return ""
}

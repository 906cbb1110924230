package reasoningservice

import (
	"context"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/llmclient"
	"ontoreason.app/engine/internal/reasoning"
	"ontoreason.app/engine/internal/reasoningrepo"
	"ontoreason.app/engine/internal/trace"
)

// Run advances a session by one pass through the reasoning graph, per
// spec.md §6 `POST /sessions/{id}/run` and §5's restartable-graph contract:
// a session with a pending clarification returns the waiting state without
// advancing; a terminal session fails NOT_FOUND for the turn; otherwise the
// latest turn runs (or a fresh one, when userInput is supplied).
func (s *Service) Run(ctx context.Context, tenantID string, sessionID int64, userInput string) (*RunResult, error) {
	session, err := s.repo.Pool().GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.IsTerminal() {
		return nil, turnNotFoundErr(sessionID)
	}

	if session.Status.IsWaiting() {
		pending, err := s.repo.Pool().LatestPendingClarification(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if pending != nil {
			return waitingRunResult(session, pending), nil
		}
	}

	cfg, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, apperr.Validationf("tenant %q has no llm config", tenantID)
	}
	runtimeCfg, err := s.tenants.PrimaryRuntimeConfig(cfg)
	if err != nil {
		return nil, err
	}
	var fallbackCfg *llmclient.RuntimeConfig
	if s.tenants.HasFallback(cfg) {
		if fb, err := s.tenants.RuntimeConfig(cfg, cfg.FallbackProvider, cfg.FallbackModel); err == nil {
			fallbackCfg = &fb
		}
	}

	var (
		turn          *reasoningrepo.Turn
		runState      *reasoning.State
		clarification *reasoningrepo.Clarification
		runErr        error
	)

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		bound := s.repo.Q(tx)

		var terr error
		if userInput != "" {
			turnNo, terr2 := bound.NextTurnNo(ctx, sessionID)
			if terr2 != nil {
				return terr2
			}
			turn, terr = bound.CreateTurn(ctx, sessionID, userInput, turnNo)
		} else {
			turn, terr = bound.LatestTurn(ctx, sessionID)
			if terr == nil && turn == nil {
				terr = turnNotFoundErr(sessionID)
			}
		}
		if terr != nil {
			return terr
		}

		if err := bound.UpdateSessionStatus(ctx, sessionID, reasoningrepo.SessionRunning, false); err != nil {
			return err
		}
		if err := bound.UpdateTurnStatus(ctx, turn.ID, "running"); err != nil {
			return err
		}

		runState = reasoning.NewState(tenantID, sessionID, turn.ID, turn.UserInput)
		runState.LLMCfg = *cfg
		runState.RuntimeCfg = runtimeCfg
		runState.FallbackCfg = fallbackCfg
		runState.AuditCallback = s.auditCallback(sessionID, turn.ID, tenantID)

		deps := s.deps()
		deps.Repo = bound

		runErr = s.graph.Run(ctx, tx, deps, runState)
		if runErr != nil {
			// Failure-transition writes happen inside this same transaction so
			// the run commits exactly once even on failure, per spec.md §5/§7:
			// "A failed run ... transitions the session to failed, updates the
			// current turn to failed, emits session_failed, commits, then
			// rethrows."
			if err := bound.UpdateSessionStatus(ctx, sessionID, reasoningrepo.SessionFailed, true); err != nil {
				return err
			}
			if err := bound.UpdateTurnStatus(ctx, turn.ID, "failed"); err != nil {
				return err
			}
			return nil
		}

		// Suspend-transition writes also happen inside this same transaction,
		// for the same single-commit reason: spec.md §5 commits a run exactly
		// once, whether it completes, fails, or suspends waiting on
		// clarification or traversal confirmation.
		switch runState.Status {
		case reasoning.StatusWaitingClarification, reasoning.StatusWaitingConfirmation:
			sessionStatus := reasoningrepo.SessionWaitingClarification
			turnStatus := "waiting_clarification"
			if runState.Status == reasoning.StatusWaitingConfirmation {
				sessionStatus = reasoningrepo.SessionWaitingConfirmation
				turnStatus = "waiting_confirmation"
			}
			if err := bound.UpdateSessionStatus(ctx, sessionID, sessionStatus, false); err != nil {
				return err
			}
			if err := bound.UpdateTurnStatus(ctx, turn.ID, turnStatus); err != nil {
				return err
			}
			question := map[string]any{}
			if runState.Question != nil {
				question = map[string]any{
					"type":    runState.Question.Type,
					"prompt":  runState.Question.Prompt,
					"details": runState.Question.Details,
				}
			}
			c, err := bound.CreateClarification(ctx, sessionID, &turn.ID, question)
			if err != nil {
				return err
			}
			clarification = c
			return reasoning.SaveTraversalState(ctx, s.context, tx, sessionID, runState.Traversal)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		_ = s.trace.Emit(ctx, sessionID, &turn.ID, runState.Step, trace.EventSessionFailed,
			map[string]any{"error": runErr.Error(), "step": runState.Step}, "", tenantID)
		return nil, runErr
	}

	return s.finishRun(ctx, sessionID, turn, runState, clarification)
}

// finishRun translates the graph's already-committed terminal State into the
// REST response shape. All of a run's writes, including the clarification
// row on suspension, happen inside Run's single transaction (spec.md §5:
// a run commits exactly once); finishRun only reads back what was written.
func (s *Service) finishRun(ctx context.Context, sessionID int64, turn *reasoningrepo.Turn, state *reasoning.State, clarification *reasoningrepo.Clarification) (*RunResult, error) {
	switch state.Status {
	case reasoning.StatusCompleted:
		tasks, err := s.repo.Pool().ListTasks(ctx, sessionID, &turn.ID)
		if err != nil {
			return nil, err
		}
		completed, err := s.repo.Pool().GetTurn(ctx, turn.ID)
		if err != nil {
			return nil, err
		}
		tv := turnView(completed)
		return &RunResult{
			Status: string(reasoning.StatusCompleted),
			Turn:   &tv,
			Result: completed.ModelOutput,
			Tasks:  taskViews(tasks),
		}, nil

	case reasoning.StatusWaitingClarification, reasoning.StatusWaitingConfirmation:
		cv := clarificationView(clarification)
		return &RunResult{Status: string(state.Status), Clarification: &cv}, nil

	default:
		return nil, apperr.Internalf(nil, "reasoning graph returned unexpected status %q", state.Status)
	}
}

func waitingRunResult(session *reasoningrepo.Session, pending *reasoningrepo.Clarification) *RunResult {
	cv := clarificationView(pending)
	return &RunResult{Status: string(session.Status), Clarification: &cv}
}

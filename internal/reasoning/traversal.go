package reasoning

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/contextstore"
)

const traversalContextKey = "traversal_state"

// TraversalState is the durable record of how far this session's reasoning
// has walked the ontology graph, stored under the "session" scope so each
// run can resume it (spec.md §3 "TraversalState", §4.10).
type TraversalState struct {
	Depth                      int      `json:"depth"`
	MaxDepth                   int      `json:"max_depth"`
	BranchBudget               int      `json:"branch_budget"`
	VisitedOntologyCodes       []string `json:"visited_ontology_codes"`
	ApprovedTargetOntologyCode string   `json:"approved_target_ontology_code,omitempty"`
	PendingFromCode            string   `json:"pending_from_code,omitempty"`
}

func defaultTraversalState() TraversalState {
	return TraversalState{MaxDepth: 2, BranchBudget: 3}
}

// LoadTraversalState reads the latest traversal_state entry for the session,
// defaulting to a fresh budget when the session has never traversed before.
// Exported so reasoningservice.Clarify can apply a human's answer to the
// same durable state select_anchor_ontologies will read on the next run.
func LoadTraversalState(ctx context.Context, store ContextStore, sessionID int64) TraversalState {
	value, ok := store.ReadLatest(ctx, sessionID, traversalContextKey, []contextstore.Scope{contextstore.ScopeSession})
	if !ok {
		return defaultTraversalState()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return defaultTraversalState()
	}
	var ts TraversalState
	if err := json.Unmarshal(raw, &ts); err != nil {
		return defaultTraversalState()
	}
	if ts.MaxDepth == 0 {
		ts.MaxDepth = 2
	}
	return ts
}

// SaveTraversalState persists ts as the latest version for sessionID.
func SaveTraversalState(ctx context.Context, store ContextStore, tx pgx.Tx, sessionID int64, ts TraversalState) error {
	raw, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	return store.WriteTx(ctx, tx, sessionID, contextstore.ScopeSession, traversalContextKey, value)
}

// hasVisited reports whether code is already in the cycle guard.
func (ts TraversalState) hasVisited(code string) bool {
	for _, c := range ts.VisitedOntologyCodes {
		if c == code {
			return true
		}
	}
	return false
}

// exhausted reports whether the session has no more traversal budget left
// (depth ceiling reached or no branches remaining); callers that find the
// budget exhausted must not offer further anchor changes.
func (ts TraversalState) exhausted() bool {
	return ts.Depth >= ts.MaxDepth || ts.BranchBudget <= 0
}

// RecordStep advances the traversal budget after either an approved
// confirmation or a same-anchor continuation: increments depth, decrements
// branch_budget, and appends fromCode (and toCode, when a traversal actually
// crossed an edge) to the visited set. Called by reasoningservice.Clarify
// when it applies a traversal_confirmation answer (spec.md §4.10 "On
// answer: ... increment depth, decrement branch_budget").
func (ts *TraversalState) RecordStep(fromCode, toCode string, crossed bool) {
	ts.Depth++
	if ts.BranchBudget > 0 {
		ts.BranchBudget--
	}
	if fromCode != "" && !ts.hasVisited(fromCode) {
		ts.VisitedOntologyCodes = append(ts.VisitedOntologyCodes, fromCode)
	}
	if crossed && toCode != "" && !ts.hasVisited(toCode) {
		ts.VisitedOntologyCodes = append(ts.VisitedOntologyCodes, toCode)
	}
}

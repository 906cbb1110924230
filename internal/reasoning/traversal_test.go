package reasoning

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/contextstore"
)

func TestDefaultTraversalStateHasBudget(t *testing.T) {
	ts := defaultTraversalState()
	if ts.MaxDepth != 2 || ts.BranchBudget != 3 {
		t.Fatalf("unexpected defaults: %+v", ts)
	}
	if ts.exhausted() {
		t.Fatal("a fresh traversal state must not be exhausted")
	}
}

func TestTraversalStateHasVisited(t *testing.T) {
	ts := TraversalState{VisitedOntologyCodes: []string{"customer", "order"}}
	if !ts.hasVisited("customer") {
		t.Fatal("expected customer to be visited")
	}
	if ts.hasVisited("account") {
		t.Fatal("expected account to be unvisited")
	}
}

func TestTraversalStateExhaustedByDepthOrBudget(t *testing.T) {
	if (TraversalState{Depth: 2, MaxDepth: 2, BranchBudget: 1}).exhausted() != true {
		t.Fatal("expected depth at ceiling to be exhausted")
	}
	if (TraversalState{Depth: 0, MaxDepth: 2, BranchBudget: 0}).exhausted() != true {
		t.Fatal("expected zero branch budget to be exhausted")
	}
	if (TraversalState{Depth: 0, MaxDepth: 2, BranchBudget: 1}).exhausted() != false {
		t.Fatal("expected budget remaining to not be exhausted")
	}
}

func TestTraversalStateRecordStep(t *testing.T) {
	ts := defaultTraversalState()
	ts.RecordStep("customer", "order", true)

	if ts.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", ts.Depth)
	}
	if ts.BranchBudget != 2 {
		t.Fatalf("expected branch budget decremented to 2, got %d", ts.BranchBudget)
	}
	if !ts.hasVisited("customer") || !ts.hasVisited("order") {
		t.Fatalf("expected both codes visited: %+v", ts.VisitedOntologyCodes)
	}

	ts.RecordStep("customer", "order", true)
	count := 0
	for _, c := range ts.VisitedOntologyCodes {
		if c == "customer" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected customer recorded only once, got %d times", count)
	}
}

func TestTraversalStateRecordStepWithoutCrossingSkipsToCode(t *testing.T) {
	ts := defaultTraversalState()
	ts.RecordStep("customer", "order", false)
	if ts.hasVisited("order") {
		t.Fatal("expected toCode not recorded when the traversal did not cross an edge")
	}
}

// fakeTraversalContext is a minimal ContextStore used only to exercise
// LoadTraversalState/SaveTraversalState's JSON round trip.
type fakeTraversalContext struct {
	stored map[string]any
}

func (f *fakeTraversalContext) ReadLatest(ctx context.Context, sessionID int64, key string, scopes []contextstore.Scope) (map[string]any, bool) {
	if f.stored == nil {
		return nil, false
	}
	return f.stored, true
}

func (f *fakeTraversalContext) WriteTx(ctx context.Context, tx pgx.Tx, sessionID int64, scope contextstore.Scope, key string, value map[string]any) error {
	f.stored = value
	return nil
}

func TestLoadTraversalStateDefaultsWhenAbsent(t *testing.T) {
	store := &fakeTraversalContext{}
	ts := LoadTraversalState(context.Background(), store, 1)
	if ts.MaxDepth != 2 || ts.BranchBudget != 3 {
		t.Fatalf("expected defaults when no state is stored, got %+v", ts)
	}
}

func TestSaveThenLoadTraversalStateRoundTrips(t *testing.T) {
	store := &fakeTraversalContext{}
	ts := TraversalState{Depth: 1, MaxDepth: 2, BranchBudget: 2, VisitedOntologyCodes: []string{"customer"}}

	if err := SaveTraversalState(context.Background(), store, nil, 1, ts); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	got := LoadTraversalState(context.Background(), store, 1)
	if got.Depth != 1 || got.BranchBudget != 2 || len(got.VisitedOntologyCodes) != 1 || got.VisitedOntologyCodes[0] != "customer" {
		t.Fatalf("unexpected round-tripped state: %+v", got)
	}
}

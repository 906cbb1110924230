package reasoning

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type nodeFunc func(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error

type node struct {
	name string
	fn   nodeFunc
}

// Graph holds the fixed node order from spec.md §4.8: a single entry
// (understand_intent) and a single sink (finalize), with no branching other
// than "continue to the next node" or "suspend here".
type Graph struct {
	nodes []node
}

func New() *Graph {
	return &Graph{nodes: []node{
		{"understand_intent", nodeUnderstandIntent},
		{"discover_candidates", nodeDiscoverCandidates},
		{"select_anchor_ontologies", nodeSelectAnchorOntologies},
		{"inspect_ontology", nodeInspectOntology},
		{"execute", nodeExecute},
		{"finalize", nodeFinalize},
	}}
}

// Run executes every node in order, starting fresh at understand_intent
// every call (spec.md §5: "the next run call starts fresh at the entry
// node"). Run loads State.Traversal from persisted context before the first
// node; nodes consult it to short-circuit their own work when resuming. A node setting Status to anything other than
// StatusContinue stops the walk; the caller (reasoningservice) interprets
// the resulting State.
func (g *Graph) Run(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error {
	s.Status = StatusContinue
	s.Traversal = LoadTraversalState(ctx, d.Context, s.SessionID)
	for _, n := range g.nodes {
		s.Step = n.name
		if err := n.fn(ctx, tx, d, s); err != nil {
			return err
		}
		if s.Status != StatusContinue {
			return nil
		}
	}
	return nil
}

package reasoning_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ontoreason.app/engine/internal/executors"
	"ontoreason.app/engine/internal/graphtools"
	"ontoreason.app/engine/internal/reasoning"
	"ontoreason.app/engine/internal/trace"
)

// happyPathDeps wires fakes that carry a session through all six nodes
// without ever suspending: one matching attribute, one matching ontology
// with a single capability, and an executor that returns a fixed result.
func happyPathDeps() (*reasoning.Deps, *fakeRepo, *fakeTrace) {
	graph := &fakeGraph{
		listDataAttributes: func(tenantID string, p graphtools.ListDataAttributesParams) ([]graphtools.DataAttributeBasic, error) {
			return []graphtools.DataAttributeBasic{{Code: "phone_number", Name: "Phone Number"}}, nil
		},
		dataAttributeRelatedOntologies: func(tenantID string, codes []string) ([]graphtools.DataAttributeRelatedOntologies, error) {
			return []graphtools.DataAttributeRelatedOntologies{{
				DataAttribute: graphtools.DataAttributeBasic{Code: "phone_number"},
				Ontologies:    []graphtools.OntologyBasic{{Code: "customer", Name: "Customer"}},
			}}, nil
		},
		listOntologies: func(tenantID string, p graphtools.ListOntologiesParams) ([]graphtools.OntologyBasic, error) {
			score := 0.8
			return []graphtools.OntologyBasic{{Code: "customer", Name: "Customer", Score: &score}}, nil
		},
		ontologyDetails: func(tenantID string, codes []string) (json.RawMessage, error) {
			return json.RawMessage(`{"code":"customer","name":"Customer","classId":42,"dataAttributes":[],"capabilities":[{"code":"list_customers","name":"List Customers"}],"objectProperties":[]}`), nil
		},
		capabilityDetails: func(tenantID string, codes []string) (json.RawMessage, error) {
			return json.RawMessage(`{"code":"list_customers","name":"List Customers"}`), nil
		},
	}

	llm := &fakeLLM{
		invokeJSON: func(task string, userPayload map[string]any) (map[string]any, error) {
			switch task {
			case "select_anchor_ontologies":
				return map[string]any{"input_ontology_codes": []any{"customer"}}, nil
			case "inspect_ontology":
				return map[string]any{"action": "execute_capability", "capability_code": "list_customers", "reason": "matches query"}, nil
			default:
				return map[string]any{}, nil
			}
		},
		summary: "Found 12 matching customers.",
	}

	repo := newFakeRepo()
	traceSink := newFakeTrace()
	execs := &fakeExecutor{
		capability: func(req executors.CapabilityRequest) (*executors.Result, error) {
			return &executors.Result{
				ExecutorType:  "capability",
				ExecutionMode: "query",
				ExecutorPlan:  map[string]any{"mode": "query", "page": 1.0},
				DataExecution: json.RawMessage(`{"rows":[{"id":1}],"total":1}`),
			}, nil
		},
	}

	return &reasoning.Deps{
		Graph:     graph,
		LLM:       llm,
		Executors: execs,
		Context:   newFakeContext(nil),
		Repo:      repo,
		Trace:     traceSink,
	}, repo, traceSink
}

var _ = Describe("Graph", func() {
	var (
		ctx       context.Context
		g         *reasoning.Graph
		sessionID int64
		turnID    int64
	)

	BeforeEach(func() {
		ctx = context.Background()
		g = reasoning.New()
		sessionID = 1001
		turnID = 2001
	})

	Context("happy path", func() {
		It("walks all six nodes to completion and produces model_output", func() {
			deps, repo, traceSink := happyPathDeps()
			state := reasoning.NewState("tenant-a", sessionID, turnID, "how many customers do we have?")

			err := g.Run(ctx, nil, deps, state)

			Expect(err).NotTo(HaveOccurred())
			Expect(state.Status).To(Equal(reasoning.StatusCompleted))
			Expect(state.SelectedOntologyCode).To(Equal("customer"))
			Expect(state.Summary).To(Equal("Found 12 matching customers."))

			modelOutput, ok := repo.completedTurn[turnID]
			Expect(ok).To(BeTrue())
			Expect(modelOutput["summary"]).To(Equal("Found 12 matching customers."))

			Expect(traceSink.types()).To(ContainElement(trace.EventSessionCompleted))
		})

		It("produces byte-identical model_output across independent runs with the same stubs", func() {
			depsA, repoA, _ := happyPathDeps()
			stateA := reasoning.NewState("tenant-a", sessionID, turnID, "how many customers do we have?")
			Expect(g.Run(ctx, nil, depsA, stateA)).To(Succeed())

			depsB, repoB, _ := happyPathDeps()
			stateB := reasoning.NewState("tenant-a", sessionID, turnID, "how many customers do we have?")
			Expect(g.Run(ctx, nil, depsB, stateB)).To(Succeed())

			outA, err := json.Marshal(repoA.completedTurn[turnID])
			Expect(err).NotTo(HaveOccurred())
			outB, err := json.Marshal(repoB.completedTurn[turnID])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(outA)).To(Equal(string(outB)))
		})
	})

	Context("discover_candidates finds no matching data attribute", func() {
		It("suspends with a no_attribute_match clarification", func() {
			deps, _, _ := happyPathDeps()
			deps.Graph = &fakeGraph{
				listDataAttributes: func(tenantID string, p graphtools.ListDataAttributesParams) ([]graphtools.DataAttributeBasic, error) {
					return nil, nil
				},
			}
			state := reasoning.NewState("tenant-a", sessionID, turnID, "gibberish query")

			err := g.Run(ctx, nil, deps, state)

			Expect(err).NotTo(HaveOccurred())
			Expect(state.Status).To(Equal(reasoning.StatusWaitingClarification))
			Expect(state.Question).NotTo(BeNil())
			Expect(state.Question.Type).To(Equal("no_attribute_match"))
		})
	})

	Context("a different ontology anchor is already selected for this session", func() {
		It("suspends with waiting_confirmation instead of silently switching anchors", func() {
			deps, _, _ := happyPathDeps()
			deps.Context = newFakeContext(map[string]map[string]any{
				"selected_ontology_code": {"code": "account"},
			})
			state := reasoning.NewState("tenant-a", sessionID, turnID, "how many customers do we have?")

			err := g.Run(ctx, nil, deps, state)

			Expect(err).NotTo(HaveOccurred())
			Expect(state.Status).To(Equal(reasoning.StatusWaitingConfirmation))
			Expect(state.Question).NotTo(BeNil())
			Expect(state.Question.Details["from_code"]).To(Equal("account"))
			Expect(state.Question.Details["to_code"]).To(Equal("customer"))
		})
	})
})

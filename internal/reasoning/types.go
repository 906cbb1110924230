// Package reasoning implements the engine's core: a six-node, LLM-guided
// state graph with conditional edges and two suspension modes (engine
// clarification, human traversal confirmation), ported from
// original_source's services/reasoning_service.py. The original wires its
// nodes through LangGraph; Go has no equivalent graph-execution runtime in
// the retrieved pack, so the graph is expressed directly as an ordered node
// list with a status-driven early exit, matching the sequential, no-fan-out
// shape spec.md §4.8 actually describes.
package reasoning

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/contextstore"
	"ontoreason.app/engine/internal/executors"
	"ontoreason.app/engine/internal/graphtools"
	"ontoreason.app/engine/internal/llmclient"
	"ontoreason.app/engine/internal/reasoningrepo"
	"ontoreason.app/engine/internal/tenantconfig"
	"ontoreason.app/engine/internal/trace"
)

// Status is the outcome of one node execution; it drives the graph's
// early-exit decision exactly like the edge conditions in spec.md §4.8.
type Status string

const (
	StatusContinue             Status = "continue"
	StatusWaitingClarification Status = "waiting_clarification"
	StatusWaitingConfirmation  Status = "waiting_confirmation"
	StatusCompleted            Status = "completed"
)

// Question is the payload of a suspended run, persisted as a
// ReasoningClarification and returned to the caller verbatim.
type Question struct {
	Type    string         `json:"type"`
	Prompt  string         `json:"prompt,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// BusinessElement is one `{name, value, role}` tuple extracted at
// understand_intent.
type BusinessElement struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Role  string `json:"role"`
}

// ScoredCandidate is a single merged-by-code candidate row carried between
// discover_candidates and select_anchor_ontologies.
type ScoredCandidate struct {
	Code  string  `json:"code"`
	Name  string  `json:"name,omitempty"`
	Score float64 `json:"score"`
}

// State is the engine's working memory for one run. It is rebuilt fresh at
// the top of every run from persisted context (spec.md §5: "the graph is
// restartable ... consumes resume state from context") and discarded once
// the run suspends or finalizes.
type State struct {
	TenantID  string
	SessionID int64
	TurnID    int64
	Query     string

	LLMCfg         tenantconfig.Config
	RuntimeCfg     llmclient.RuntimeConfig
	FallbackCfg    *llmclient.RuntimeConfig
	AuditCallback  llmclient.AuditCallback

	Status   Status
	Step     string
	Question *Question

	// understand_intent output
	Keywords         []string
	BusinessElements []BusinessElement
	GoalActions      []string
	IntentSummary    string

	// discover_candidates output
	AttributeCandidates []ScoredCandidate
	OntologyCandidates  []ScoredCandidate

	// select_anchor_ontologies output
	SelectedOntologyCode string
	OntologyDetail       map[string]any
	AttributeCatalog     []executors.AttributeCatalogEntry
	ClassID              int64

	// inspect_ontology output
	TaskType       reasoningrepo.TaskType
	CapabilityCode string
	RelationCode   string
	TaskDetail     map[string]any

	// execute output
	TaskID        int64
	ExecutorResult *executors.Result

	// finalize output
	Summary string

	// traversal state, loaded/saved via context store
	Traversal TraversalState

	// PlanState accumulates cross-node decisions recorded into model_output
	// and into the "plan_state" context entry, per the Glossary.
	PlanState map[string]any

	StartedAt time.Time
}

// LLMClient is the subset of llmclient.Client the graph's nodes call.
// Narrowed to an interface, mirroring the teacher's brain package split of
// CodeGraphRetriever/LearningsRetriever out of *brain.Executor, so a node
// test can substitute a deterministic stub for invoke_json/
// summarize_with_context (SPEC_FULL.md §9's "byte-identical model_output"
// requirement).
type LLMClient interface {
	InvokeJSON(ctx context.Context, task string, cfg llmclient.RuntimeConfig, systemPrompt string, userPayload, schemaHint map[string]any, audit llmclient.AuditCallback) (map[string]any, error)
	SummarizeWithContext(ctx context.Context, cfg llmclient.RuntimeConfig, query string, ontology, selectedTask map[string]any, audit llmclient.AuditCallback) (string, error)
}

// GraphClient is the subset of graphtools.Client the graph's nodes call.
type GraphClient interface {
	ListDataAttributes(ctx context.Context, tenantID string, params graphtools.ListDataAttributesParams) ([]graphtools.DataAttributeBasic, error)
	ListOntologies(ctx context.Context, tenantID string, params graphtools.ListOntologiesParams) ([]graphtools.OntologyBasic, error)
	DataAttributeRelatedOntologies(ctx context.Context, tenantID string, attributeCodes []string) ([]graphtools.DataAttributeRelatedOntologies, error)
	OntologyDetails(ctx context.Context, tenantID string, ontologyCodes []string) (json.RawMessage, error)
	CapabilityDetails(ctx context.Context, tenantID string, capabilityCodes []string) (json.RawMessage, error)
	ObjectPropertyDetails(ctx context.Context, tenantID string, objectPropertyCodes []string) (json.RawMessage, error)
}

// ContextStore is the subset of contextstore.Store the graph's nodes call.
type ContextStore interface {
	ReadLatest(ctx context.Context, sessionID int64, key string, scopes []contextstore.Scope) (map[string]any, bool)
	WriteTx(ctx context.Context, tx pgx.Tx, sessionID int64, scope contextstore.Scope, key string, value map[string]any) error
}

// TaskRepo is the subset of reasoningrepo.Bound the execute/finalize nodes call.
type TaskRepo interface {
	CreateTask(ctx context.Context, sessionID, turnID int64, taskType reasoningrepo.TaskType, payload map[string]any) (*reasoningrepo.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status reasoningrepo.TaskStatus) error
	CompleteTurn(ctx context.Context, turnID int64, modelOutput map[string]any) error
	UpdateSessionStatus(ctx context.Context, sessionID int64, status reasoningrepo.SessionStatus, ended bool) error
}

// TraceSink is the subset of trace.Sink the graph's nodes call.
type TraceSink interface {
	Emit(ctx context.Context, sessionID int64, turnID *int64, step string, eventType trace.EventType, payload map[string]any, traceID string, tenantID string) error
}

// TaskExecutor is the subset of executors.Executor the execute node calls.
type TaskExecutor interface {
	Capability(ctx context.Context, req executors.CapabilityRequest) (*executors.Result, error)
	ObjectProperty(ctx context.Context, req executors.ObjectPropertyRequest) (*executors.Result, error)
}

// Deps bundles every collaborator a node needs. Graph/LLM/Executors/Context/
// Trace are process-wide singletons; Repo is rebuilt per run, bound to the
// caller's single-commit transaction (SPEC_FULL.md §5). Each field is an
// interface rather than a concrete type so tests can substitute stubs
// without touching a live Postgres, HTTP graph/data service, or LLM
// provider.
type Deps struct {
	Graph     GraphClient
	LLM       LLMClient
	Executors TaskExecutor
	Context   ContextStore
	Repo      TaskRepo
	Trace     TraceSink
}

// NewState builds a fresh per-run State. Callers must populate LLMCfg and
// RuntimeCfg before calling Graph.Run; Graph.Run loads Traversal from context.
func NewState(tenantID string, sessionID, turnID int64, query string) *State {
	return &State{
		TenantID:  tenantID,
		SessionID: sessionID,
		TurnID:    turnID,
		Query:     query,
		Status:    StatusContinue,
		PlanState: map[string]any{},
		StartedAt: time.Now(),
	}
}

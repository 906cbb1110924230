package reasoning_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/contextstore"
	"ontoreason.app/engine/internal/executors"
	"ontoreason.app/engine/internal/graphtools"
	"ontoreason.app/engine/internal/llmclient"
	"ontoreason.app/engine/internal/reasoningrepo"
	"ontoreason.app/engine/internal/trace"
)

// fakeLLM substitutes llmclient.Client with a per-task canned decision, the
// deterministic-stub substitution SPEC_FULL.md §9 requires of node tests.
// Grounded on the teacher's brain.mockCodeGraphRetriever/mockLearningsRetriever
// closures-over-a-function-field pattern.
type fakeLLM struct {
	invokeJSON func(task string, userPayload map[string]any) (map[string]any, error)
	summary    string
}

func (f *fakeLLM) InvokeJSON(ctx context.Context, task string, cfg llmclient.RuntimeConfig, systemPrompt string, userPayload, schemaHint map[string]any, audit llmclient.AuditCallback) (map[string]any, error) {
	if f.invokeJSON != nil {
		return f.invokeJSON(task, userPayload)
	}
	return map[string]any{}, nil
}

func (f *fakeLLM) SummarizeWithContext(ctx context.Context, cfg llmclient.RuntimeConfig, query string, ontology, selectedTask map[string]any, audit llmclient.AuditCallback) (string, error) {
	if f.summary != "" {
		return f.summary, nil
	}
	return "summary", nil
}

// fakeGraph substitutes graphtools.Client. Every method defaults to an empty,
// error-free response so a test only needs to set the fields its scenario
// actually exercises.
type fakeGraph struct {
	listDataAttributes             func(tenantID string, p graphtools.ListDataAttributesParams) ([]graphtools.DataAttributeBasic, error)
	listOntologies                 func(tenantID string, p graphtools.ListOntologiesParams) ([]graphtools.OntologyBasic, error)
	dataAttributeRelatedOntologies func(tenantID string, codes []string) ([]graphtools.DataAttributeRelatedOntologies, error)
	ontologyDetails                func(tenantID string, codes []string) (json.RawMessage, error)
	capabilityDetails              func(tenantID string, codes []string) (json.RawMessage, error)
	objectPropertyDetails          func(tenantID string, codes []string) (json.RawMessage, error)
}

func (f *fakeGraph) ListDataAttributes(ctx context.Context, tenantID string, p graphtools.ListDataAttributesParams) ([]graphtools.DataAttributeBasic, error) {
	if f.listDataAttributes != nil {
		return f.listDataAttributes(tenantID, p)
	}
	return nil, nil
}

func (f *fakeGraph) ListOntologies(ctx context.Context, tenantID string, p graphtools.ListOntologiesParams) ([]graphtools.OntologyBasic, error) {
	if f.listOntologies != nil {
		return f.listOntologies(tenantID, p)
	}
	return nil, nil
}

func (f *fakeGraph) DataAttributeRelatedOntologies(ctx context.Context, tenantID string, codes []string) ([]graphtools.DataAttributeRelatedOntologies, error) {
	if f.dataAttributeRelatedOntologies != nil {
		return f.dataAttributeRelatedOntologies(tenantID, codes)
	}
	return nil, nil
}

func (f *fakeGraph) OntologyDetails(ctx context.Context, tenantID string, codes []string) (json.RawMessage, error) {
	if f.ontologyDetails != nil {
		return f.ontologyDetails(tenantID, codes)
	}
	return json.RawMessage(`[]`), nil
}

func (f *fakeGraph) CapabilityDetails(ctx context.Context, tenantID string, codes []string) (json.RawMessage, error) {
	if f.capabilityDetails != nil {
		return f.capabilityDetails(tenantID, codes)
	}
	return json.RawMessage(`[]`), nil
}

func (f *fakeGraph) ObjectPropertyDetails(ctx context.Context, tenantID string, codes []string) (json.RawMessage, error) {
	if f.objectPropertyDetails != nil {
		return f.objectPropertyDetails(tenantID, codes)
	}
	return json.RawMessage(`[]`), nil
}

// fakeContext substitutes contextstore.Store with an in-memory, last-write-
// wins map. presets seeds rows a test needs to already exist (e.g. a prior
// turn's selected_ontology_code) without going through WriteTx first.
type fakeContext struct {
	mu      sync.Mutex
	written map[string]map[string]any
	presets map[string]map[string]any
}

func newFakeContext(presets map[string]map[string]any) *fakeContext {
	return &fakeContext{written: map[string]map[string]any{}, presets: presets}
}

func (f *fakeContext) ReadLatest(ctx context.Context, sessionID int64, key string, scopes []contextstore.Scope) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.written[key]; ok {
		return v, true
	}
	if v, ok := f.presets[key]; ok {
		return v, true
	}
	return nil, false
}

func (f *fakeContext) WriteTx(ctx context.Context, tx pgx.Tx, sessionID int64, scope contextstore.Scope, key string, value map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[key] = value
	return nil
}

// fakeRepo substitutes reasoningrepo.Bound, recording every task/turn/session
// mutation a node makes so a test can assert on it afterward.
type fakeRepo struct {
	mu            sync.Mutex
	nextTaskID    int64
	tasks         map[int64]*reasoningrepo.Task
	completedTurn map[int64]map[string]any
	sessionStatus map[int64]reasoningrepo.SessionStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tasks:         map[int64]*reasoningrepo.Task{},
		completedTurn: map[int64]map[string]any{},
		sessionStatus: map[int64]reasoningrepo.SessionStatus{},
	}
}

func (f *fakeRepo) CreateTask(ctx context.Context, sessionID, turnID int64, taskType reasoningrepo.TaskType, payload map[string]any) (*reasoningrepo.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTaskID++
	task := &reasoningrepo.Task{
		ID:          f.nextTaskID,
		SessionID:   sessionID,
		TurnID:      turnID,
		TaskType:    taskType,
		TaskPayload: payload,
		Status:      reasoningrepo.TaskPending,
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeRepo) UpdateTaskStatus(ctx context.Context, taskID int64, status reasoningrepo.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		t.Status = status
	}
	return nil
}

func (f *fakeRepo) CompleteTurn(ctx context.Context, turnID int64, modelOutput map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedTurn[turnID] = modelOutput
	return nil
}

func (f *fakeRepo) UpdateSessionStatus(ctx context.Context, sessionID int64, status reasoningrepo.SessionStatus, ended bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionStatus[sessionID] = status
	return nil
}

// fakeTrace substitutes trace.Sink, recording every emitted event in order.
type fakeTrace struct {
	mu     sync.Mutex
	events []trace.Event
}

func newFakeTrace() *fakeTrace {
	return &fakeTrace{}
}

func (f *fakeTrace) Emit(ctx context.Context, sessionID int64, turnID *int64, step string, eventType trace.EventType, payload map[string]any, traceID string, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, trace.Event{
		SessionID: sessionID,
		TurnID:    turnID,
		Step:      step,
		EventType: eventType,
		Payload:   payload,
		TraceID:   traceID,
	})
	return nil
}

func (f *fakeTrace) types() []trace.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]trace.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.EventType
	}
	return out
}

// fakeExecutor substitutes executors.Executor.
type fakeExecutor struct {
	capability     func(req executors.CapabilityRequest) (*executors.Result, error)
	objectProperty func(req executors.ObjectPropertyRequest) (*executors.Result, error)
}

func (f *fakeExecutor) Capability(ctx context.Context, req executors.CapabilityRequest) (*executors.Result, error) {
	if f.capability != nil {
		return f.capability(req)
	}
	return &executors.Result{ExecutorType: "capability", ExecutionMode: "query"}, nil
}

func (f *fakeExecutor) ObjectProperty(ctx context.Context, req executors.ObjectPropertyRequest) (*executors.Result, error) {
	if f.objectProperty != nil {
		return f.objectProperty(req)
	}
	return &executors.Result{ExecutorType: "object_property", ExecutionMode: "query"}, nil
}

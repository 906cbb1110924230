package executors

import (
	"context"
	"encoding/json"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/dataclient"
	"ontoreason.app/engine/internal/llmclient"
)

// CapabilityRequest carries everything the capability executor needs to
// plan and run one query/group-analysis call against the data service.
type CapabilityRequest struct {
	TenantID         string
	Query            string
	RuntimeCfg       llmclient.RuntimeConfig
	CapabilityDetail map[string]any
	Ontology         map[string]any
	AttributeCatalog []AttributeCatalogEntry
	ClassID          int64
	Audit            llmclient.AuditCallback
}

// Result is the executor output folded into the turn's model_output, per
// spec.md §4.9.
type Result struct {
	ExecutorType   string          `json:"executor_type"`
	ExecutionMode  string          `json:"execution_mode"`
	ExecutorPlan   map[string]any  `json:"executor_plan"`
	DataRequest    map[string]any  `json:"data_request"`
	DataExecution  json.RawMessage `json:"data_execution"`
	TargetOntology map[string]any  `json:"target_ontology,omitempty"`
}

var capabilityPlanSchemaHint = map[string]any{
	"mode":       "\"query\" or \"group-analysis\"",
	"filters":    []any{map[string]any{"field": "string", "op": "eq|like|in", "value": "any"}},
	"page":       "integer >= 1",
	"page_size":  "integer >= 1",
	"group_by":   "[]string, only for group-analysis",
	"metrics":    []any{map[string]any{"agg": "string", "field": "string", "alias": "string"}},
	"sort_field": "string, optional, query mode",
	"sort_by":    "string, optional, group-analysis mode",
	"sort_order": "asc|desc",
}

// Executor plans and runs capability and object-property data requests.
type Executor struct {
	llm  *llmclient.Client
	data *dataclient.Client
}

func New(llm *llmclient.Client, data *dataclient.Client) *Executor {
	return &Executor{llm: llm, data: data}
}

// Capability asks the LLM for a plan over the capability's bound attribute
// catalog, defaults group_by to the catalog's first field when a
// group-analysis plan omits one, then executes against the data service.
func (e *Executor) Capability(ctx context.Context, req CapabilityRequest) (*Result, error) {
	if err := requireClassID(req.ClassID); err != nil {
		return nil, err
	}

	userPayload := map[string]any{
		"query":             req.Query,
		"capability":        req.CapabilityDetail,
		"ontology":          req.Ontology,
		"attribute_catalog": req.AttributeCatalog,
	}

	decision, err := e.llm.InvokeJSON(ctx, "plan_capability_execution", req.RuntimeCfg,
		"你是能力执行规划助手，请根据给定的能力定义和属性目录生成查询计划。",
		userPayload, capabilityPlanSchemaHint, req.Audit)
	if err != nil {
		return nil, err
	}

	plan := normalizePlan(decision)
	if plan.Mode == "group-analysis" && len(plan.GroupBy) == 0 {
		if fields := catalogFieldNames(req.AttributeCatalog); len(fields) > 0 {
			plan.GroupBy = []string{fields[0]}
		}
	}

	dataRequest, dataExecution, err := e.run(ctx, req.TenantID, req.ClassID, plan)
	if err != nil {
		return nil, err
	}

	planJSON, _ := json.Marshal(plan)
	var planMap map[string]any
	_ = json.Unmarshal(planJSON, &planMap)

	return &Result{
		ExecutorType:  "capability",
		ExecutionMode: plan.Mode,
		ExecutorPlan:  planMap,
		DataRequest:   dataRequest,
		DataExecution: dataExecution,
	}, nil
}

// run dispatches to dataclient.Query or dataclient.GroupAnalysis per plan's
// mode and returns both the request it sent and the raw execution result.
func (e *Executor) run(ctx context.Context, tenantID string, classID int64, plan Plan) (map[string]any, json.RawMessage, error) {
	switch plan.Mode {
	case "group-analysis":
		payload := dataclient.GroupAnalysisPayload{
			ClassID:   classID,
			GroupBy:   plan.GroupBy,
			Metrics:   plan.Metrics,
			Filters:   plan.Filters,
			Page:      plan.Page,
			PageSize:  plan.PageSize,
			SortBy:    plan.SortBy,
			SortOrder: plan.SortOrder,
		}
		result, err := e.data.GroupAnalysis(ctx, tenantID, payload)
		if err != nil {
			return nil, nil, err
		}
		return toMap(payload), result, nil
	default:
		payload := dataclient.QueryPayload{
			ClassID:   classID,
			Filters:   plan.Filters,
			Page:      plan.Page,
			PageSize:  plan.PageSize,
			SortField: plan.SortField,
			SortOrder: plan.SortOrder,
		}
		result, err := e.data.Query(ctx, tenantID, payload)
		if err != nil {
			return nil, nil, err
		}
		return toMap(payload), result, nil
	}
}

func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// requireClassID guards against a caller forgetting to resolve an ontology
// to its backing class before executing — a programmer error, not a user
// input problem, so it surfaces as INTERNAL.
func requireClassID(classID int64) error {
	if classID == 0 {
		return apperr.Internalf(nil, "class id not resolved before executor run")
	}
	return nil
}

package executors

import (
	"context"
	"encoding/json"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/dataclient"
	"ontoreason.app/engine/internal/llmclient"
)

// TargetResolver resolves one candidate target-ontology code into its
// backing class id and attribute catalog, since building either requires a
// call out to the metadata/graph service that the executor package does not
// itself depend on (the reasoning node already holds that client).
type TargetResolver func(ctx context.Context, targetCode string) (classID int64, catalog []AttributeCatalogEntry, ontology map[string]any, err error)

// ObjectPropertyRequest carries the relation detail and the current anchor's
// ontology code, so the candidate computation can exclude the current anchor.
type ObjectPropertyRequest struct {
	TenantID            string
	Query               string
	RuntimeCfg          llmclient.RuntimeConfig
	RelationDetail      map[string]any
	CurrentOntologyCode string
	Audit               llmclient.AuditCallback
	ResolveTarget       TargetResolver
}

var objectPropertyTargetSchemaHint = map[string]any{
	"target_ontology_code": "string, must be one of the supplied candidates",
	"mode":                  "\"query\" or \"group-analysis\"",
	"filters":               []any{map[string]any{"field": "string", "op": "eq|like|in", "value": "any"}},
	"page":                  "integer >= 1",
	"page_size":             "integer >= 1",
	"group_by":              "[]string, only for group-analysis",
	"metrics":               []any{map[string]any{"agg": "string", "field": "string", "alias": "string"}},
}

// ObjectProperty computes the target-ontology candidates (domain ∪ range,
// minus the current anchor), fails VALIDATION if none remain, asks the LLM
// to pick one and plan a query against it, then resolves and executes.
func (e *Executor) ObjectProperty(ctx context.Context, req ObjectPropertyRequest) (*Result, error) {
	candidates := targetCandidates(req.RelationDetail, req.CurrentOntologyCode)
	if len(candidates) == 0 {
		return nil, apperr.Validationf("object property %v has no traversable target ontology distinct from %s",
			req.RelationDetail["code"], req.CurrentOntologyCode)
	}

	userPayload := map[string]any{
		"query":                req.Query,
		"object_property":      req.RelationDetail,
		"current_ontology":     req.CurrentOntologyCode,
		"candidate_ontologies": candidates,
	}

	decision, err := e.llm.InvokeJSON(ctx, "plan_object_property_execution", req.RuntimeCfg,
		"你是对象属性遍历规划助手，请从候选本体中选择一个目标本体并生成查询计划。",
		userPayload, objectPropertyTargetSchemaHint, req.Audit)
	if err != nil {
		return nil, err
	}

	targetCode, _ := decision["target_ontology_code"].(string)
	if targetCode == "" || !contains(candidates, targetCode) {
		targetCode = candidates[0]
	}

	classID, catalog, ontology, err := req.ResolveTarget(ctx, targetCode)
	if err != nil {
		return nil, err
	}
	if err := requireClassID(classID); err != nil {
		return nil, err
	}

	plan := normalizePlan(decision)
	plan.Filters = filterByCatalog(plan.Filters, catalog)
	if plan.Mode == "group-analysis" && len(plan.GroupBy) == 0 {
		if fields := catalogFieldNames(catalog); len(fields) > 0 {
			plan.GroupBy = []string{fields[0]}
		}
	}

	dataRequest, dataExecution, err := e.run(ctx, req.TenantID, classID, plan)
	if err != nil {
		return nil, err
	}

	planJSON, _ := json.Marshal(plan)
	var planMap map[string]any
	_ = json.Unmarshal(planJSON, &planMap)

	return &Result{
		ExecutorType:   "object_property",
		ExecutionMode:  plan.Mode,
		ExecutorPlan:   planMap,
		DataRequest:    dataRequest,
		DataExecution:  dataExecution,
		TargetOntology: ontology,
	}, nil
}

// targetCandidates computes (domain ∪ range) − {current}, reading domain and
// range as either a single code string or a list of code strings under
// "domain"/"range" keys on the relation detail (spec.md §4.9).
func targetCandidates(relation map[string]any, current string) []string {
	seen := map[string]bool{current: true}
	var out []string
	for _, key := range []string{"domain", "range"} {
		for _, code := range codesFrom(relation[key]) {
			if !seen[code] {
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	return out
}

func codesFrom(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// filterByCatalog drops any LLM-authored filter whose field is not bound in
// the target ontology's catalog, since spec.md §4.9 requires filter fields
// to come from the target's catalog, not the source ontology's.
func filterByCatalog(filters []dataclient.Filter, catalog []AttributeCatalogEntry) []dataclient.Filter {
	allowed := map[string]bool{}
	for _, c := range catalog {
		allowed[c.FieldName] = true
	}
	var out []dataclient.Filter
	for _, f := range filters {
		if allowed[f.Field] {
			out = append(out, f)
		}
	}
	return out
}

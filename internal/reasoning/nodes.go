package reasoning

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/executors"
	"ontoreason.app/engine/internal/graphtools"
	"ontoreason.app/engine/internal/reasoningrepo"
	"ontoreason.app/engine/internal/trace"
)

// --- 1. understand_intent ---------------------------------------------

var understandIntentSchemaHint = map[string]any{
	"keywords":          "[]string, up to 8 search terms",
	"business_elements": []any{map[string]any{"name": "string", "value": "string", "role": "string"}},
	"goal_actions":      "[]string",
	"intent_summary":    "string, one sentence",
}

func nodeUnderstandIntent(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error {
	decision, err := d.LLM.InvokeJSON(ctx, "understand_intent", s.RuntimeCfg,
		"你是意图理解助手，请从用户输入中抽取关键词、业务要素和目标动作。",
		map[string]any{"query": s.Query}, understandIntentSchemaHint, s.AuditCallback)
	if err != nil {
		return err
	}

	s.Keywords = stringList(decision["keywords"])
	s.GoalActions = stringList(decision["goal_actions"])
	s.IntentSummary, _ = decision["intent_summary"].(string)
	s.BusinessElements = businessElementsFrom(decision["business_elements"])

	if len(s.Keywords) == 0 {
		s.Keywords = ruleBasedKeywords(s.Query)
	}

	s.PlanState["intent"] = map[string]any{
		"keywords":          s.Keywords,
		"business_elements": s.BusinessElements,
		"goal_actions":      s.GoalActions,
		"intent_summary":    s.IntentSummary,
	}

	return d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventIntentParsed, map[string]any{
		"keywords":          s.Keywords,
		"business_elements": s.BusinessElements,
		"goal_actions":      s.GoalActions,
		"intent_summary":    s.IntentSummary,
	}, "", s.TenantID)
}

var tokenSplitter = regexp.MustCompile(`[\s,.!?;:，。！？；：、]+`)

// ruleBasedKeywords is the fallback extraction spec.md §4.8.1 describes when
// the LLM returns no keywords: split on whitespace/punctuation, drop
// 1-character tokens, dedupe, cap at 8.
func ruleBasedKeywords(query string) []string {
	tokens := tokenSplitter.Split(strings.TrimSpace(query), -1)
	seen := map[string]bool{}
	var out []string
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if len([]rune(t)) <= 1 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 8 {
			break
		}
	}
	return out
}

// --- 2. discover_candidates ---------------------------------------------

func nodeDiscoverCandidates(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error {
	queries := []string{s.Query}
	queries = append(queries, firstN(s.Keywords, 4)...)
	for _, be := range firstNElements(s.BusinessElements, 4) {
		if be.Value != "" {
			queries = append(queries, be.Value)
		}
	}

	attrResults := parallelListDataAttributes(ctx, d.Graph, s.TenantID, queries)
	attributes := mergeByCodeMax(attrResults)
	if len(attributes) == 0 {
		return suspendClarification(ctx, d, s, "no_attribute_match", "未找到匹配的数据属性，请补充关键词。", nil)
	}
	sortByScoreDesc(attributes)
	s.AttributeCandidates = attributes

	topCodes := make([]string, 0, 8)
	for _, a := range attributes {
		topCodes = append(topCodes, a.Code)
		if len(topCodes) == 8 {
			break
		}
	}

	hitCount := map[string]int{}
	names := map[string]string{}
	if len(topCodes) > 0 {
		related, err := d.Graph.DataAttributeRelatedOntologies(ctx, s.TenantID, topCodes)
		if err != nil {
			return err
		}
		for _, row := range related {
			for _, o := range row.Ontologies {
				hitCount[o.Code]++
				names[o.Code] = o.Name
			}
		}
	}

	ontologies := make([]ScoredCandidate, 0, len(hitCount))
	for code, hits := range hitCount {
		ontologies = append(ontologies, ScoredCandidate{Code: code, Name: names[code], Score: round6(0.1 * float64(hits))})
	}

	keywordQuery := strings.Join(s.Keywords, " ")
	listedOntologyQueries := []string{s.Query}
	if keywordQuery != "" {
		listedOntologyQueries = append(listedOntologyQueries, keywordQuery)
	}
	for _, q := range listedOntologyQueries {
		results, err := d.Graph.ListOntologies(ctx, s.TenantID, graphtools.ListOntologiesParams{Query: q})
		if err != nil {
			return err
		}
		for _, o := range results {
			score := 0.0
			if o.Score != nil {
				score = *o.Score
			}
			ontologies = mergeOneMax(ontologies, ScoredCandidate{Code: o.Code, Name: o.Name, Score: score})
		}
	}

	if len(ontologies) == 0 {
		return suspendClarification(ctx, d, s, "no_ontology_match", "未找到匹配的本体，请补充描述。", nil)
	}
	sortByScoreDesc(ontologies)
	s.OntologyCandidates = ontologies

	if err := d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventAttributesMatched,
		map[string]any{"attributes": attributes}, "", s.TenantID); err != nil {
		return err
	}
	return d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventOntologiesLocated,
		map[string]any{"ontologies": ontologies}, "", s.TenantID)
}

func parallelListDataAttributes(ctx context.Context, client GraphClient, tenantID string, queries []string) [][]ScoredCandidate {
	results := make([][]ScoredCandidate, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			rows, err := client.ListDataAttributes(ctx, tenantID, graphtools.ListDataAttributesParams{Query: q})
			if err != nil {
				return
			}
			out := make([]ScoredCandidate, 0, len(rows))
			for _, r := range rows {
				score := 0.0
				if r.Score != nil {
					score = *r.Score
				}
				out = append(out, ScoredCandidate{Code: r.Code, Name: r.Name, Score: score})
			}
			results[i] = out
		}(i, q)
	}
	wg.Wait()
	return results
}

func mergeByCodeMax(groups [][]ScoredCandidate) []ScoredCandidate {
	var merged []ScoredCandidate
	for _, g := range groups {
		for _, c := range g {
			merged = mergeOneMax(merged, c)
		}
	}
	return merged
}

func mergeOneMax(list []ScoredCandidate, c ScoredCandidate) []ScoredCandidate {
	for i, existing := range list {
		if existing.Code == c.Code {
			if c.Score > existing.Score {
				list[i].Score = c.Score
			}
			return list
		}
	}
	return append(list, c)
}

func sortByScoreDesc(list []ScoredCandidate) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Score > list[j].Score })
}

// --- 3. select_anchor_ontologies ----------------------------------------

var selectAnchorSchemaHint = map[string]any{
	"input_ontology_codes":  "[]string, at least one, chosen from candidates",
	"target_ontology_codes": "[]string, optional further traversal targets",
}

func nodeSelectAnchorOntologies(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error {
	top := s.OntologyCandidates
	if len(top) > 20 {
		top = top[:20]
	}

	preferredCode := s.Traversal.ApprovedTargetOntologyCode

	decision, err := d.LLM.InvokeJSON(ctx, "select_anchor_ontologies", s.RuntimeCfg,
		"你是本体选择助手，请从候选本体中选择一个输入锚点本体，以及可选的后续目标本体。",
		map[string]any{"candidates": top, "preferred_code": preferredCode},
		selectAnchorSchemaHint, s.AuditCallback)
	if err != nil {
		return err
	}

	inputCodes := stringList(decision["input_ontology_codes"])
	chosen := preferredCode
	if chosen == "" {
		if len(inputCodes) > 0 {
			chosen = inputCodes[0]
		} else if len(top) > 0 {
			chosen = top[0].Code
		}
	}
	if chosen == "" {
		return suspendClarification(ctx, d, s, "anchor_ontology_missing", "无法确定起始本体，请提供更多信息。", nil)
	}

	previousAnchor, hasPrevious := d.Context.ReadLatest(ctx, s.SessionID, "selected_ontology_code", nil)
	previousCode, _ := previousAnchor["code"].(string)

	if hasPrevious && previousCode != "" && previousCode != chosen && preferredCode == "" && !s.Traversal.exhausted() {
		s.Traversal.PendingFromCode = previousCode
		return suspend(ctx, d, s, StatusWaitingConfirmation, "traversal_confirmation",
			"确认是否从 "+previousCode+" 遍历到 "+chosen, map[string]any{"from_code": previousCode, "to_code": chosen})
	}

	detailRaw, err := d.Graph.OntologyDetails(ctx, s.TenantID, []string{chosen})
	if err != nil {
		return err
	}
	detail := firstObject(detailRaw)
	if detail == nil {
		return suspend(ctx, d, s, StatusWaitingClarification, "anchor_ontology_missing",
			"所选本体在租户内不存在。", map[string]any{"code": chosen})
	}

	s.SelectedOntologyCode = chosen
	s.OntologyDetail = detail
	s.ClassID = int64Field(detail, "classId")
	s.AttributeCatalog = attributeCatalogFrom(detail["dataAttributes"])
	s.Traversal.PendingFromCode = ""
	s.Traversal.ApprovedTargetOntologyCode = ""

	s.PlanState["ontology_selected"] = map[string]any{
		"code":                  chosen,
		"name":                  detail["name"],
		"target_ontology_codes": stringList(decision["target_ontology_codes"]),
	}

	return d.Context.WriteTx(ctx, tx, s.SessionID, "session", "selected_ontology_code",
		map[string]any{"code": chosen})
}

// --- 4. inspect_ontology -------------------------------------------------

var inspectOntologySchemaHint = map[string]any{
	"action":              "\"execute_capability\" or \"execute_object_property\"",
	"capability_code":     "string, required when action=execute_capability",
	"object_property_code": "string, required when action=execute_object_property",
	"reason":              "string",
}

func nodeInspectOntology(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error {
	capabilities, _ := s.OntologyDetail["capabilities"].([]any)
	objectProperties, _ := s.OntologyDetail["objectProperties"].([]any)

	if len(capabilities) == 0 && len(objectProperties) == 0 {
		return suspendClarification(ctx, d, s, "no_executable_resource", "所选本体没有可执行的能力或对象属性。", nil)
	}

	decision, err := d.LLM.InvokeJSON(ctx, "inspect_ontology", s.RuntimeCfg,
		"你是执行路径选择助手，请从能力列表和对象属性列表中选择一个可执行项。",
		map[string]any{
			"capabilities":      capabilities,
			"object_properties": objectProperties,
		}, inspectOntologySchemaHint, s.AuditCallback)
	if err != nil {
		return err
	}

	action, _ := decision["action"].(string)
	capabilityCode, _ := decision["capability_code"].(string)
	objectPropertyCode, _ := decision["object_property_code"].(string)
	reason, _ := decision["reason"].(string)

	var detail map[string]any
	if len(capabilities) > 0 && action != "execute_object_property" {
		if capabilityCode == "" {
			capabilityCode = codeFromAny(capabilities[0])
		}
		raw, err := d.Graph.CapabilityDetails(ctx, s.TenantID, []string{capabilityCode})
		if err != nil {
			return err
		}
		detail = firstObject(raw)
		s.TaskType = reasoningrepo.TaskCapability
		s.CapabilityCode = capabilityCode
	} else {
		if objectPropertyCode == "" && len(objectProperties) > 0 {
			objectPropertyCode = codeFromAny(objectProperties[0])
		}
		if objectPropertyCode == "" {
			return suspendClarification(ctx, d, s, "no_executable_resource", "没有可用的对象属性。", nil)
		}
		raw, err := d.Graph.ObjectPropertyDetails(ctx, s.TenantID, []string{objectPropertyCode})
		if err != nil {
			return err
		}
		detail = firstObject(raw)
		s.TaskType = reasoningrepo.TaskObjectProperty
		s.RelationCode = objectPropertyCode
	}

	s.TaskDetail = detail
	s.PlanState["task_planned"] = map[string]any{
		"action":               action,
		"capability_code":      s.CapabilityCode,
		"object_property_code": s.RelationCode,
		"reason":               reason,
	}

	return d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventTaskPlanned, map[string]any{
		"action":               action,
		"capability_code":      s.CapabilityCode,
		"object_property_code": s.RelationCode,
		"reason":               reason,
		"selected_ontology":    s.PlanState["ontology_selected"],
	}, "", s.TenantID)
}

// --- 5. execute -----------------------------------------------------------

func nodeExecute(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error {
	taskPayload := map[string]any{
		"task_type":   string(s.TaskType),
		"ontology":    s.SelectedOntologyCode,
		"task_detail": s.TaskDetail,
	}
	task, err := d.Repo.CreateTask(ctx, s.SessionID, s.TurnID, s.TaskType, taskPayload)
	if err != nil {
		return err
	}
	s.TaskID = task.ID

	if err := d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventMCPCallRequested, map[string]any{
		"task_id":   task.ID,
		"task_type": string(s.TaskType),
	}, "", s.TenantID); err != nil {
		return err
	}

	var result *executors.Result
	if s.TaskType == reasoningrepo.TaskCapability {
		result, err = d.Executors.Capability(ctx, executors.CapabilityRequest{
			TenantID:         s.TenantID,
			Query:            s.Query,
			RuntimeCfg:       s.RuntimeCfg,
			CapabilityDetail: s.TaskDetail,
			Ontology:         s.OntologyDetail,
			AttributeCatalog: s.AttributeCatalog,
			ClassID:          s.ClassID,
			Audit:            s.AuditCallback,
		})
	} else {
		result, err = d.Executors.ObjectProperty(ctx, executors.ObjectPropertyRequest{
			TenantID:            s.TenantID,
			Query:               s.Query,
			RuntimeCfg:          s.RuntimeCfg,
			RelationDetail:      s.TaskDetail,
			CurrentOntologyCode: s.SelectedOntologyCode,
			Audit:               s.AuditCallback,
			ResolveTarget:       d.resolveTarget(ctx, s.TenantID),
		})
	}
	if err != nil {
		_ = d.Repo.UpdateTaskStatus(ctx, task.ID, reasoningrepo.TaskFailed)
		return err
	}

	if err := d.Repo.UpdateTaskStatus(ctx, task.ID, reasoningrepo.TaskCompleted); err != nil {
		return err
	}

	s.ExecutorResult = result
	s.PlanState["execution_mode"] = result.ExecutionMode
	s.PlanState["executor_plan"] = result.ExecutorPlan
	s.PlanState["data_execution"] = result.DataExecution

	if err := d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventMCPCallCompleted, map[string]any{
		"task_id": task.ID,
	}, "", s.TenantID); err != nil {
		return err
	}

	return d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventTaskExecuted, map[string]any{
		"task_id":        task.ID,
		"executor_type":  result.ExecutorType,
		"execution_mode": result.ExecutionMode,
	}, "", s.TenantID)
}

// resolveTarget builds an executors.TargetResolver closed over Deps/ctx/tenant,
// fetching the target ontology's detail, class id, and attribute catalog.
func (d *Deps) resolveTarget(ctx context.Context, tenantID string) executors.TargetResolver {
	return func(ctx context.Context, targetCode string) (int64, []executors.AttributeCatalogEntry, map[string]any, error) {
		raw, err := d.Graph.OntologyDetails(ctx, tenantID, []string{targetCode})
		if err != nil {
			return 0, nil, nil, err
		}
		detail := firstObject(raw)
		if detail == nil {
			return 0, nil, nil, apperr.Validationf("target ontology %q not found", targetCode)
		}
		return int64Field(detail, "classId"), attributeCatalogFrom(detail["dataAttributes"]), detail, nil
	}
}

// --- 6. finalize -----------------------------------------------------------

func nodeFinalize(ctx context.Context, tx pgx.Tx, d *Deps, s *State) error {
	summary, err := d.LLM.SummarizeWithContext(ctx, s.RuntimeCfg, s.Query, s.OntologyDetail, s.PlanState["task_planned"], s.AuditCallback)
	if err != nil {
		return apperr.Internalf(err, "finalize summary")
	}
	s.Summary = summary

	route := map[string]any{
		"provider":     s.RuntimeCfg.Provider,
		"model":        s.RuntimeCfg.Model,
		"has_fallback": s.FallbackCfg != nil,
	}

	executionMode := ""
	var tasksResult []map[string]any
	if s.ExecutorResult != nil {
		executionMode = s.ExecutorResult.ExecutionMode
		tasksResult = []map[string]any{{
			"task_id":   s.TaskID,
			"task_type": string(s.TaskType),
		}}
	}

	modelOutput := map[string]any{
		"summary":              summary,
		"selected_ontology":    s.PlanState["ontology_selected"],
		"selected_task":        s.PlanState["task_planned"],
		"candidate_attributes": s.AttributeCandidates,
		"data_execution":       s.ExecutorResult,
		"data_execution_mode":  executionMode,
		"tasks":                tasksResult,
		"planning":             s.PlanState,
		"llm_route":            route,
	}

	if err := d.Repo.CompleteTurn(ctx, s.TurnID, modelOutput); err != nil {
		return err
	}
	if err := d.Repo.UpdateSessionStatus(ctx, s.SessionID, reasoningrepo.SessionCompleted, true); err != nil {
		return err
	}
	if err := SaveTraversalState(ctx, d.Context, tx, s.SessionID, s.Traversal); err != nil {
		return err
	}
	if err := d.Context.WriteTx(ctx, tx, s.SessionID, "session", "plan_state", s.PlanState); err != nil {
		return err
	}

	s.Status = StatusCompleted
	return d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventSessionCompleted, map[string]any{
		"model_output": modelOutput,
	}, "", s.TenantID)
}

// --- shared helpers --------------------------------------------------------

func suspendClarification(ctx context.Context, d *Deps, s *State, qType, prompt string, details map[string]any) error {
	return suspend(ctx, d, s, StatusWaitingClarification, qType, prompt, details)
}

// suspend sets status and question, then emits clarification_asked — the
// single closed-taxonomy event type that covers both engine-initiated
// clarifications and human traversal-confirmation gates (the latter has no
// event type of its own in the closed set; see DESIGN.md).
func suspend(ctx context.Context, d *Deps, s *State, status Status, qType, prompt string, details map[string]any) error {
	s.Status = status
	s.Question = &Question{Type: qType, Prompt: prompt, Details: details}
	return d.Trace.Emit(ctx, s.SessionID, &s.TurnID, s.Step, trace.EventClarificationAsked, map[string]any{
		"type":    qType,
		"prompt":  prompt,
		"details": details,
		"status":  string(status),
	}, "", s.TenantID)
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func businessElementsFrom(v any) []BusinessElement {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]BusinessElement, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		value, _ := m["value"].(string)
		role, _ := m["role"].(string)
		out = append(out, BusinessElement{Name: name, Value: value, Role: role})
	}
	return out
}

func firstN(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}

func firstNElements(list []BusinessElement, n int) []BusinessElement {
	if len(list) <= n {
		return list
	}
	return list[:n]
}

func round6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}

// firstObject decodes raw as either a single JSON object or an array and
// returns the first element as a map, matching the *Details tool responses'
// "one row per requested code" shape.
func firstObject(raw json.RawMessage) map[string]any {
	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return nil
		}
		return arr[0]
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	return nil
}

func int64Field(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func codeFromAny(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	code, _ := m["code"].(string)
	return code
}

func attributeCatalogFrom(v any) []executors.AttributeCatalogEntry {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]executors.AttributeCatalogEntry, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, executors.AttributeCatalogEntry{
			AttributeID: int64Field(m, "attributeId"),
			Code:        stringField(m, "code"),
			Name:        stringField(m, "name"),
			DataType:    stringField(m, "dataType"),
			Description: stringField(m, "description"),
			FieldName:   stringField(m, "fieldName"),
		})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

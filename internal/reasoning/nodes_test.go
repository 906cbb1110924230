package reasoning

import (
	"encoding/json"
	"testing"
)

func TestRuleBasedKeywordsDropsSingleCharTokensAndCapsAtEight(t *testing.T) {
	got := ruleBasedKeywords("a 张三 的 customer_id, order-status; region 华东 销售额 对比 去年 同期")
	for _, k := range got {
		if len([]rune(k)) <= 1 {
			t.Fatalf("expected no single-character tokens, got %v", got)
		}
	}
	if len(got) > 8 {
		t.Fatalf("expected at most 8 keywords, got %d: %v", len(got), got)
	}
}

func TestRuleBasedKeywordsDedupes(t *testing.T) {
	got := ruleBasedKeywords("phone phone phone email")
	seen := map[string]int{}
	for _, k := range got {
		seen[k]++
	}
	for k, n := range seen {
		if n > 1 {
			t.Fatalf("expected %q to appear once, appeared %d times", k, n)
		}
	}
}

func TestMergeOneMaxKeepsHigherScore(t *testing.T) {
	list := []ScoredCandidate{{Code: "a", Score: 0.5}}
	list = mergeOneMax(list, ScoredCandidate{Code: "a", Score: 0.9})
	if len(list) != 1 || list[0].Score != 0.9 {
		t.Fatalf("expected score overwritten to 0.9, got %+v", list)
	}
	list = mergeOneMax(list, ScoredCandidate{Code: "a", Score: 0.1})
	if list[0].Score != 0.9 {
		t.Fatalf("expected lower score to be ignored, got %+v", list)
	}
}

func TestMergeByCodeMaxMergesAcrossGroups(t *testing.T) {
	groups := [][]ScoredCandidate{
		{{Code: "a", Score: 0.3}, {Code: "b", Score: 0.7}},
		{{Code: "a", Score: 0.8}},
	}
	merged := mergeByCodeMax(groups)
	byCode := map[string]float64{}
	for _, c := range merged {
		byCode[c.Code] = c.Score
	}
	if byCode["a"] != 0.8 {
		t.Fatalf("expected a's score to be the max across groups, got %v", byCode["a"])
	}
	if byCode["b"] != 0.7 {
		t.Fatalf("expected b unchanged, got %v", byCode["b"])
	}
}

func TestSortByScoreDescIsStableAndDescending(t *testing.T) {
	list := []ScoredCandidate{{Code: "a", Score: 0.2}, {Code: "b", Score: 0.9}, {Code: "c", Score: 0.9}}
	sortByScoreDesc(list)
	if list[0].Score < list[1].Score || list[1].Score < list[2].Score {
		t.Fatalf("expected descending order, got %+v", list)
	}
	if list[0].Code != "b" || list[1].Code != "c" {
		t.Fatalf("expected equal scores to keep their original relative order, got %+v", list)
	}
}

func TestRound6(t *testing.T) {
	if got := round6(0.1 * 3); got != 0.3 {
		t.Fatalf("expected 0.3, got %v", got)
	}
}

func TestFirstObjectAcceptsArrayOrSingleObject(t *testing.T) {
	if got := firstObject(json.RawMessage(`[{"code":"a"}]`)); got["code"] != "a" {
		t.Fatalf("expected array's first element, got %v", got)
	}
	if got := firstObject(json.RawMessage(`{"code":"b"}`)); got["code"] != "b" {
		t.Fatalf("expected single object decoded directly, got %v", got)
	}
	if got := firstObject(json.RawMessage(`[]`)); got != nil {
		t.Fatalf("expected nil for an empty array, got %v", got)
	}
}

func TestInt64FieldHandlesJSONNumberShapes(t *testing.T) {
	m := map[string]any{"a": float64(42), "b": int64(7), "c": "not a number"}
	if int64Field(m, "a") != 42 {
		t.Fatal("expected float64 42 to decode as int64 42")
	}
	if int64Field(m, "b") != 7 {
		t.Fatal("expected int64 passthrough")
	}
	if int64Field(m, "c") != 0 {
		t.Fatal("expected non-numeric field to default to 0")
	}
	if int64Field(m, "missing") != 0 {
		t.Fatal("expected missing field to default to 0")
	}
}

func TestCodeFromAny(t *testing.T) {
	if got := codeFromAny(map[string]any{"code": "x"}); got != "x" {
		t.Fatalf("expected x, got %q", got)
	}
	if got := codeFromAny("not a map"); got != "" {
		t.Fatalf("expected empty string for non-map input, got %q", got)
	}
}

func TestAttributeCatalogFromDecodesEntries(t *testing.T) {
	raw := []any{
		map[string]any{"attributeId": float64(1), "code": "phone", "name": "Phone", "dataType": "string", "fieldName": "phone_number"},
	}
	catalog := attributeCatalogFrom(raw)
	if len(catalog) != 1 {
		t.Fatalf("expected one entry, got %d", len(catalog))
	}
	if catalog[0].AttributeID != 1 || catalog[0].Code != "phone" || catalog[0].FieldName != "phone_number" {
		t.Fatalf("unexpected entry: %+v", catalog[0])
	}
}

func TestBusinessElementsFromDecodesTuples(t *testing.T) {
	raw := []any{map[string]any{"name": "region", "value": "East China", "role": "filter"}}
	elems := businessElementsFrom(raw)
	if len(elems) != 1 || elems[0].Name != "region" || elems[0].Value != "East China" || elems[0].Role != "filter" {
		t.Fatalf("unexpected elements: %+v", elems)
	}
	if got := businessElementsFrom("not a list"); got != nil {
		t.Fatalf("expected nil for non-list input, got %v", got)
	}
}

func TestStringListFiltersNonStringAndEmpty(t *testing.T) {
	raw := []any{"a", "", 42, "b"}
	got := stringList(raw)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
}

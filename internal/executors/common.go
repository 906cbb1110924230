// Package executors implements the two sub-planners invoked by the
// execute node: the capability executor and the object-property executor.
// Both turn an LLM-authored plan into a typed dataclient request and share
// one plan-normalization helper (spec.md §4.9).
//
// Grounded on original_source's services/executors/{capability_executor.py,
// object_property_executor.py} for the normalization rules and the
// target-ontology-candidate computation; the LLM schema-hint-driven
// planning call mirrors internal/llmclient.Client.InvokeJSON's contract.
package executors

import (
	"strings"

	"ontoreason.app/engine/internal/dataclient"
)

// AttributeCatalogEntry binds an LLM-visible field name to a physical
// attribute on some ontology, per the Glossary's "Attribute catalog" entry.
type AttributeCatalogEntry struct {
	AttributeID int64  `json:"attribute_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Description string `json:"description,omitempty"`
	FieldName   string `json:"field_name"`
}

// Plan is the normalized, executable form of whatever shape the LLM
// returned for mode/filters/paging/group-by.
type Plan struct {
	Mode      string              `json:"mode"`
	Filters   []dataclient.Filter `json:"filters"`
	Page      int                 `json:"page"`
	PageSize  int                 `json:"page_size"`
	GroupBy   []string            `json:"group_by,omitempty"`
	Metrics   []dataclient.Metric `json:"metrics,omitempty"`
	SortField string              `json:"sort_field,omitempty"`
	SortBy    string              `json:"sort_by,omitempty"`
	SortOrder string              `json:"sort_order,omitempty"`
}

var knownFilterOps = map[string]bool{"eq": true, "like": true, "in": true}

// normalizePlan applies spec.md §4.9's normalization rules to the raw JSON
// object an LLM InvokeJSON call returned: mode defaults to "query" unless
// the raw value is exactly "group-analysis"; filters with an unrecognized
// op are coerced to "eq", filters with an empty field are dropped; page and
// page_size are floored at 1.
func normalizePlan(raw map[string]any) Plan {
	var p Plan

	p.Mode = "query"
	if mode, _ := raw["mode"].(string); mode == "group-analysis" {
		p.Mode = "group-analysis"
	}

	if rawFilters, ok := raw["filters"].([]any); ok {
		for _, rf := range rawFilters {
			fm, ok := rf.(map[string]any)
			if !ok {
				continue
			}
			field := strings.TrimSpace(stringField(fm, "field"))
			if field == "" {
				continue
			}
			op := strings.ToLower(strings.TrimSpace(stringField(fm, "op")))
			if !knownFilterOps[op] {
				op = "eq"
			}
			p.Filters = append(p.Filters, dataclient.Filter{
				Field: field,
				Op:    op,
				Value: fm["value"],
			})
		}
	}

	p.Page = intFieldAtLeast(raw, "page", 1)
	p.PageSize = intFieldAtLeast(raw, "page_size", 1)
	p.SortField = stringField(raw, "sort_field")
	p.SortBy = stringField(raw, "sort_by")
	p.SortOrder = stringField(raw, "sort_order")

	if rawGroupBy, ok := raw["group_by"].([]any); ok {
		for _, g := range rawGroupBy {
			if s, ok := g.(string); ok && s != "" {
				p.GroupBy = append(p.GroupBy, s)
			}
		}
	}
	if rawMetrics, ok := raw["metrics"].([]any); ok {
		for _, rm := range rawMetrics {
			mm, ok := rm.(map[string]any)
			if !ok {
				continue
			}
			agg := strings.TrimSpace(stringField(mm, "agg"))
			if agg == "" {
				continue
			}
			p.Metrics = append(p.Metrics, dataclient.Metric{
				Agg:   agg,
				Field: stringField(mm, "field"),
				Alias: stringField(mm, "alias"),
			})
		}
	}

	return p
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intFieldAtLeast(m map[string]any, key string, floor int) int {
	switch v := m[key].(type) {
	case float64:
		if int(v) < floor {
			return floor
		}
		return int(v)
	case int:
		if v < floor {
			return floor
		}
		return v
	default:
		return floor
	}
}

// catalogFieldNames returns the bound field name for every catalog entry, in
// order — used to pick a default group_by column when the LLM's plan omits
// one for a group-analysis mode.
func catalogFieldNames(catalog []AttributeCatalogEntry) []string {
	out := make([]string, len(catalog))
	for i, c := range catalog {
		out[i] = c.FieldName
	}
	return out
}

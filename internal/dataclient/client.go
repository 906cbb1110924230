// Package dataclient is a thin typed HTTP facade over the external
// data-query service: it forwards mcp.data.query and mcp.data.group-analysis
// calls and decodes their JSON responses, never touching entity-table
// storage itself (spec.md §1 scopes the entity-table data plane out).
//
// Grounded on original_source's services/mcp_data_service.py for the two
// method names and payload shapes, shaped like internal/graphtools.Client's
// retryablehttp-backed facade.
package dataclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"ontoreason.app/engine/internal/apperr"
)

const (
	MethodQuery         = "mcp.data.query"
	MethodGroupAnalysis = "mcp.data.group-analysis"
)

// Filter is one predicate in a data plan, matching spec.md §4.9's normalized
// filter shape ({field, op, value}).
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// QueryPayload is mcp.data.query's request body.
type QueryPayload struct {
	ClassID    int64    `json:"class_id"`
	Filters    []Filter `json:"filters"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	SortField  string   `json:"sort_field,omitempty"`
	SortOrder  string   `json:"sort_order"`
}

// Metric is one aggregate in a group-analysis plan.
type Metric struct {
	Agg   string `json:"agg"`
	Field string `json:"field,omitempty"`
	Alias string `json:"alias,omitempty"`
}

// GroupAnalysisPayload is mcp.data.group-analysis's request body.
type GroupAnalysisPayload struct {
	ClassID   int64    `json:"class_id"`
	GroupBy   []string `json:"group_by"`
	Metrics   []Metric `json:"metrics"`
	Filters   []Filter `json:"filters"`
	Page      int      `json:"page"`
	PageSize  int      `json:"page_size"`
	SortBy    string   `json:"sort_by,omitempty"`
	SortOrder string   `json:"sort_order"`
}

// Client is the typed HTTP facade over the external data service.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

func NewClient(baseURL string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.RetryWaitMin = 50 * time.Millisecond
	httpClient.RetryWaitMax = 500 * time.Millisecond
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = 15 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Query calls mcp.data.query and returns the raw JSON result, since its
// shape (rows, pagination) is owned entirely by the external data plane.
func (c *Client) Query(ctx context.Context, tenantID string, payload QueryPayload) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, tenantID, MethodQuery, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupAnalysis calls mcp.data.group-analysis and returns the raw JSON result.
func (c *Client) GroupAnalysis(ctx context.Context, tenantID string, payload GroupAnalysisPayload) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, tenantID, MethodGroupAnalysis, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type callEnvelope struct {
	TenantID string `json:"tenant_id"`
	Method   string `json:"method"`
	Payload  any    `json:"payload"`
}

func (c *Client) call(ctx context.Context, tenantID, method string, payload any, out any) error {
	body, err := json.Marshal(callEnvelope{TenantID: tenantID, Method: method, Payload: payload})
	if err != nil {
		return apperr.Internalf(err, "marshal data service call %s", method)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/data/call", bytes.NewReader(body))
	if err != nil {
		return apperr.Internalf(err, "build data service request %s", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Internalf(err, "call data service %s", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		return apperr.Validationf("data service %s rejected: status %d", method, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Internalf(fmt.Errorf("status %d", resp.StatusCode), "call data service %s", method)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperr.Internalf(err, "decode data service response %s", method)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return apperr.Internalf(err, "decode data service result %s", method)
	}
	return nil
}

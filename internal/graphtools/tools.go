// Package graphtools is a thin typed client facade over the external
// metadata/graph service: it never stores or queries ontology data itself,
// only forwards typed calls to graph.list_data_attributes and its seven
// siblings and decodes the JSON responses.
//
// Tool surface, input schemas, and response shapes are grounded verbatim in
// original_source's services/mcp_graph_service.py (list_tools/call_tool).
// The Definitions()/Execute(ctx,name,arguments) dispatch shape and the
// XParams-struct-plus-jsonschema-tag pattern are grounded on
// internal/brain/explore_tools.go.
package graphtools

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
	"ontoreason.app/engine/internal/platform/llm"
)

const (
	ToolListDataAttributes             = "graph.list_data_attributes"
	ToolListOntologies                 = "graph.list_ontologies"
	ToolDataAttributeRelatedOntologies = "graph.get_data_attribute_related_ontologies"
	ToolOntologyRelatedResources       = "graph.get_ontology_related_resources"
	ToolOntologyDetails                = "graph.get_ontology_details"
	ToolDataAttributeDetails           = "graph.get_data_attribute_details"
	ToolObjectPropertyDetails          = "graph.get_object_property_details"
	ToolCapabilityDetails              = "graph.get_capability_details"
)

// ListDataAttributesParams mirrors graph.list_data_attributes' inputSchema.
type ListDataAttributesParams struct {
	Query    string   `json:"query,omitempty" jsonschema:"description=Free-text search query"`
	Codes    []string `json:"codes,omitempty" jsonschema:"description=Restrict results to these attribute codes"`
	TopN     int      `json:"top_n,omitempty" jsonschema:"minimum=1,description=Maximum results to return (default 200)"`
	ScoreGap float64  `json:"score_gap,omitempty" jsonschema:"minimum=0,description=Stop once consecutive scores drop by at least this much"`
	WSparse  float64  `json:"w_sparse,omitempty" jsonschema:"minimum=0,description=Sparse score weight (default 0.45)"`
	WDense   float64  `json:"w_dense,omitempty" jsonschema:"minimum=0,description=Dense score weight (default 0.55)"`
}

// ListOntologiesParams mirrors graph.list_ontologies' inputSchema.
type ListOntologiesParams struct {
	Query    string   `json:"query,omitempty" jsonschema:"description=Free-text search query"`
	Codes    []string `json:"codes,omitempty" jsonschema:"description=Restrict results to these ontology codes"`
	TopN     int      `json:"top_n,omitempty" jsonschema:"minimum=1,description=Maximum results to return (default 200)"`
	ScoreGap float64  `json:"score_gap,omitempty" jsonschema:"minimum=0,description=Stop once consecutive scores drop by at least this much"`
	WSparse  float64  `json:"w_sparse,omitempty" jsonschema:"minimum=0,description=Sparse score weight (default 0.45)"`
	WDense   float64  `json:"w_dense,omitempty" jsonschema:"minimum=0,description=Dense score weight (default 0.55)"`
}

// DataAttributeRelatedOntologiesParams mirrors the related-ontologies tool's inputSchema.
type DataAttributeRelatedOntologiesParams struct {
	AttributeCodes []string `json:"attributeCodes" jsonschema:"required,description=Data attribute codes to look up"`
}

// OntologyRelatedResourcesParams mirrors the related-resources tool's inputSchema.
type OntologyRelatedResourcesParams struct {
	OntologyCodes []string `json:"ontologyCodes" jsonschema:"required,description=Ontology codes to look up"`
}

// OntologyDetailsParams mirrors graph.get_ontology_details' inputSchema.
type OntologyDetailsParams struct {
	OntologyCodes []string `json:"ontologyCodes" jsonschema:"required,description=Ontology codes to look up"`
}

// DataAttributeDetailsParams mirrors graph.get_data_attribute_details' inputSchema.
type DataAttributeDetailsParams struct {
	AttributeCodes []string `json:"attributeCodes" jsonschema:"required,description=Data attribute codes to look up"`
}

// ObjectPropertyDetailsParams mirrors graph.get_object_property_details' inputSchema.
type ObjectPropertyDetailsParams struct {
	ObjectPropertyCodes []string `json:"objectPropertyCodes" jsonschema:"required,description=Object property codes to look up"`
}

// CapabilityDetailsParams mirrors graph.get_capability_details' inputSchema.
type CapabilityDetailsParams struct {
	CapabilityCodes []string `json:"capabilityCodes" jsonschema:"required,description=Capability codes to look up"`
}

// DataAttributeBasic is the attribute summary shape common to every tool
// response, matching _build_data_attribute_basic.
type DataAttributeBasic struct {
	Name          string   `json:"name"`
	Code          string   `json:"code"`
	Description   string   `json:"description,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	BindingSource string   `json:"bindingSource,omitempty"`
}

// OntologyBasic mirrors _build_ontology_basic.
type OntologyBasic struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Description string   `json:"description,omitempty"`
	ParentCode  *string  `json:"parentCode,omitempty"`
	Score       *float64 `json:"score,omitempty"`
}

// ObjectPropertyBasic mirrors _build_object_property_basic.
type ObjectPropertyBasic struct {
	Name          string   `json:"name"`
	Code          string   `json:"code"`
	Description   string   `json:"description,omitempty"`
	BindingSource string   `json:"bindingSource,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// CapabilityBasic mirrors _build_capability_basic.
type CapabilityBasic struct {
	Name          string `json:"name"`
	Code          string `json:"code"`
	Description   string `json:"description,omitempty"`
	BindingSource string `json:"bindingSource,omitempty"`
}

// DataAttributeRelatedOntologies is one row of
// graph.get_data_attribute_related_ontologies' response.
type DataAttributeRelatedOntologies struct {
	DataAttribute DataAttributeBasic `json:"dataAttribute"`
	Ontologies    []OntologyBasic    `json:"ontologies"`
}

// OntologyRelatedResources is one row of graph.get_ontology_related_resources'
// response.
type OntologyRelatedResources struct {
	Ontology         OntologyBasic         `json:"ontology"`
	ParentOntologies []OntologyBasic       `json:"parentOntologies,omitempty"`
	ChildOntologies  []OntologyBasic       `json:"childOntologies,omitempty"`
	DataAttributes   []DataAttributeBasic  `json:"dataAttributes"`
	ObjectProperties []ObjectPropertyBasic `json:"objectProperties"`
	Capabilities     []CapabilityBasic     `json:"capabilities"`
}

// Client is the typed HTTP facade over the external metadata/graph service.
type Client struct {
	baseURL     string
	httpClient  *retryablehttp.Client
	definitions []llm.Tool
}

func NewClient(baseURL string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.RetryWaitMin = 50 * time.Millisecond
	httpClient.RetryWaitMax = 500 * time.Millisecond
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = 10 * time.Second

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
	c.definitions = []llm.Tool{
		{
			Name:        ToolListDataAttributes,
			Description: "Hybrid search Data Attributes by keyword + vector over name/code/description.",
			Parameters:  llm.GenerateSchemaFrom(ListDataAttributesParams{}),
		},
		{
			Name:        ToolListOntologies,
			Description: "Hybrid search Ontologies by keyword + vector over name/code/description.",
			Parameters:  llm.GenerateSchemaFrom(ListOntologiesParams{}),
		},
		{
			Name:        ToolDataAttributeRelatedOntologies,
			Description: "Query Ontologies associated with one or more Data Attributes.",
			Parameters:  llm.GenerateSchemaFrom(DataAttributeRelatedOntologiesParams{}),
		},
		{
			Name:        ToolOntologyRelatedResources,
			Description: "Query Data Attributes/Object Properties/Capabilities associated with Ontologies.",
			Parameters:  llm.GenerateSchemaFrom(OntologyRelatedResourcesParams{}),
		},
		{
			Name:        ToolOntologyDetails,
			Description: "Query ontology details by one or more codes.",
			Parameters:  llm.GenerateSchemaFrom(OntologyDetailsParams{}),
		},
		{
			Name:        ToolDataAttributeDetails,
			Description: "Query data attribute details by one or more codes.",
			Parameters:  llm.GenerateSchemaFrom(DataAttributeDetailsParams{}),
		},
		{
			Name:        ToolObjectPropertyDetails,
			Description: "Query object property details by one or more codes.",
			Parameters:  llm.GenerateSchemaFrom(ObjectPropertyDetailsParams{}),
		},
		{
			Name:        ToolCapabilityDetails,
			Description: "Query capability details by one or more codes.",
			Parameters:  llm.GenerateSchemaFrom(CapabilityDetailsParams{}),
		},
	}
	return c
}

// Definitions returns the tool set for wiring into an LLM agent request.
func (c *Client) Definitions() []llm.Tool {
	return c.definitions
}

// Execute runs a tool by name for tenantID and returns its JSON-encoded
// result as a string, suitable for feeding back into an LLM tool message.
// An unrecognized name fails VALIDATION, matching call_tool's raise.
func (c *Client) Execute(ctx context.Context, tenantID, name, arguments string) (string, error) {
	switch name {
	case ToolListDataAttributes:
		params, err := llm.ParseToolArguments[ListDataAttributesParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.list_data_attributes arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	case ToolListOntologies:
		params, err := llm.ParseToolArguments[ListOntologiesParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.list_ontologies arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	case ToolDataAttributeRelatedOntologies:
		params, err := llm.ParseToolArguments[DataAttributeRelatedOntologiesParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.get_data_attribute_related_ontologies arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	case ToolOntologyRelatedResources:
		params, err := llm.ParseToolArguments[OntologyRelatedResourcesParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.get_ontology_related_resources arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	case ToolOntologyDetails:
		params, err := llm.ParseToolArguments[OntologyDetailsParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.get_ontology_details arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	case ToolDataAttributeDetails:
		params, err := llm.ParseToolArguments[DataAttributeDetailsParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.get_data_attribute_details arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	case ToolObjectPropertyDetails:
		params, err := llm.ParseToolArguments[ObjectPropertyDetailsParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.get_object_property_details arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	case ToolCapabilityDetails:
		params, err := llm.ParseToolArguments[CapabilityDetailsParams](arguments)
		if err != nil {
			return "", apperr.Wrap(apperr.Validation, "parse graph.get_capability_details arguments", err)
		}
		return c.callAndEncode(ctx, tenantID, name, params)
	default:
		return "", apperr.Validationf("unknown tool name: %s", name)
	}
}

// ListDataAttributes calls graph.list_data_attributes directly, for callers
// that need the typed result rather than an LLM tool message.
func (c *Client) ListDataAttributes(ctx context.Context, tenantID string, params ListDataAttributesParams) ([]DataAttributeBasic, error) {
	var out []DataAttributeBasic
	if err := c.call(ctx, tenantID, ToolListDataAttributes, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOntologies calls graph.list_ontologies directly.
func (c *Client) ListOntologies(ctx context.Context, tenantID string, params ListOntologiesParams) ([]OntologyBasic, error) {
	var out []OntologyBasic
	if err := c.call(ctx, tenantID, ToolListOntologies, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DataAttributeRelatedOntologies calls graph.get_data_attribute_related_ontologies directly.
func (c *Client) DataAttributeRelatedOntologies(ctx context.Context, tenantID string, attributeCodes []string) ([]DataAttributeRelatedOntologies, error) {
	var out []DataAttributeRelatedOntologies
	params := DataAttributeRelatedOntologiesParams{AttributeCodes: attributeCodes}
	if err := c.call(ctx, tenantID, ToolDataAttributeRelatedOntologies, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OntologyRelatedResources calls graph.get_ontology_related_resources directly.
func (c *Client) OntologyRelatedResources(ctx context.Context, tenantID string, ontologyCodes []string) ([]OntologyRelatedResources, error) {
	var out []OntologyRelatedResources
	params := OntologyRelatedResourcesParams{OntologyCodes: ontologyCodes}
	if err := c.call(ctx, tenantID, ToolOntologyRelatedResources, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OntologyDetails calls graph.get_ontology_details directly.
func (c *Client) OntologyDetails(ctx context.Context, tenantID string, ontologyCodes []string) (json.RawMessage, error) {
	var out json.RawMessage
	params := OntologyDetailsParams{OntologyCodes: ontologyCodes}
	if err := c.call(ctx, tenantID, ToolOntologyDetails, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DataAttributeDetails calls graph.get_data_attribute_details directly.
func (c *Client) DataAttributeDetails(ctx context.Context, tenantID string, attributeCodes []string) (json.RawMessage, error) {
	var out json.RawMessage
	params := DataAttributeDetailsParams{AttributeCodes: attributeCodes}
	if err := c.call(ctx, tenantID, ToolDataAttributeDetails, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ObjectPropertyDetails calls graph.get_object_property_details directly.
func (c *Client) ObjectPropertyDetails(ctx context.Context, tenantID string, objectPropertyCodes []string) (json.RawMessage, error) {
	var out json.RawMessage
	params := ObjectPropertyDetailsParams{ObjectPropertyCodes: objectPropertyCodes}
	if err := c.call(ctx, tenantID, ToolObjectPropertyDetails, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CapabilityDetails calls graph.get_capability_details directly.
func (c *Client) CapabilityDetails(ctx context.Context, tenantID string, capabilityCodes []string) (json.RawMessage, error) {
	var out json.RawMessage
	params := CapabilityDetailsParams{CapabilityCodes: capabilityCodes}
	if err := c.call(ctx, tenantID, ToolCapabilityDetails, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callAndEncode(ctx context.Context, tenantID, name string, params any) (string, error) {
	var out json.RawMessage
	if err := c.call(ctx, tenantID, name, params, &out); err != nil {
		return "", err
	}
	return string(out), nil
}

type callEnvelope struct {
	TenantID  string `json:"tenant_id"`
	Tool      string `json:"tool"`
	Arguments any    `json:"arguments"`
}

// call POSTs a single graph.tools:call request and decodes the response's
// "result" field into out.
func (c *Client) call(ctx context.Context, tenantID, name string, params any, out any) error {
	body, err := json.Marshal(callEnvelope{TenantID: tenantID, Tool: name, Arguments: params})
	if err != nil {
		return apperr.Internalf(err, "marshal graph tool call %s", name)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/graph/call", bytes.NewReader(body))
	if err != nil {
		return apperr.Internalf(err, "build graph tool request %s", name)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Internalf(err, "call graph tool %s", name)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		return apperr.Validationf("graph tool %s rejected: status %d", name, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Internalf(fmt.Errorf("status %d", resp.StatusCode), "call graph tool %s", name)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperr.Internalf(err, "decode graph tool response %s", name)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return apperr.Internalf(err, "decode graph tool result %s", name)
	}
	return nil
}

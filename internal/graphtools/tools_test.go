package graphtools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ontoreason.app/engine/internal/apperr"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		handler(w, body)
	}))
}

func TestExecuteUnknownToolFailsValidation(t *testing.T) {
	c := NewClient("http://unused.invalid")
	_, err := c.Execute(context.Background(), "tenant-1", "graph.bogus_tool", "{}")
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if apperr.CodeOf(err) != apperr.Validation {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
}

func TestExecuteListDataAttributesRoundTrips(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, body map[string]any) {
		if body["tool"] != ToolListDataAttributes {
			t.Fatalf("unexpected tool in request: %v", body["tool"])
		}
		if body["tenant_id"] != "tenant-1" {
			t.Fatalf("unexpected tenant_id: %v", body["tenant_id"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[{"name":"Phone Number","code":"phone_number","score":0.93}]}`))
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	out, err := c.Execute(context.Background(), "tenant-1", ToolListDataAttributes, `{"query":"phone"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var attrs []DataAttributeBasic
	if err := json.Unmarshal([]byte(out), &attrs); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(attrs) != 1 || attrs[0].Code != "phone_number" {
		t.Fatalf("unexpected result: %v", attrs)
	}
}

func TestOntologyRelatedResourcesTypedCall(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, body map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[{"ontology":{"name":"Customer","code":"customer"},"dataAttributes":[],"objectProperties":[],"capabilities":[]}]}`))
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	out, err := c.OntologyRelatedResources(context.Background(), "tenant-1", []string{"customer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Ontology.Code != "customer" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestCallSurfacesNon2xxAsInternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ListOntologies(context.Background(), "tenant-1", ListOntologiesParams{Query: "x"})
	if err == nil {
		t.Fatal("expected error for a 500 response")
	}
	if code := apperr.CodeOf(err); code != apperr.Internal {
		t.Fatalf("expected INTERNAL code, got %v", code)
	}
}

func TestDefinitionsCoverAllEightTools(t *testing.T) {
	c := NewClient("http://unused.invalid")
	defs := c.Definitions()
	if len(defs) != 8 {
		t.Fatalf("expected 8 tool definitions, got %d", len(defs))
	}
	seen := map[string]bool{}
	for _, d := range defs {
		seen[d.Name] = true
	}
	for _, name := range []string{
		ToolListDataAttributes, ToolListOntologies, ToolDataAttributeRelatedOntologies,
		ToolOntologyRelatedResources, ToolOntologyDetails, ToolDataAttributeDetails,
		ToolObjectPropertyDetails, ToolCapabilityDetails,
	} {
		if !seen[name] {
			t.Errorf("missing tool definition for %s", name)
		}
	}
}

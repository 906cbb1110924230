package llmclient

import (
	"context"
	"testing"

	"ontoreason.app/engine/internal/platform/llm"
)

type fakeAgent struct {
	response *llm.AgentResponse
	err      error
}

func (f *fakeAgent) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeAgent) Model() string { return "fake-model" }

func newTestClient(content string) *Client {
	return &Client{
		newAgent: func(provider string, cfg llm.Config) (llm.AgentClient, error) {
			return &fakeAgent{response: &llm.AgentResponse{Content: content, FinishReason: "stop"}}, nil
		},
	}
}

func TestInvokeJSONDirectDecode(t *testing.T) {
	c := newTestClient(`{"intent":"lookup","confidence":0.9}`)

	var prompts, responses int
	audit := func(event AuditEvent, payload map[string]any) {
		switch event {
		case EventLLMPromptSent:
			prompts++
		case EventLLMResponseReceived:
			responses++
		}
	}

	got, err := c.InvokeJSON(context.Background(), "understand_intent", RuntimeConfig{Model: "m"}, "sys", map[string]any{"q": "hi"}, map[string]any{}, audit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["intent"] != "lookup" {
		t.Fatalf("unexpected decode: %v", got)
	}
	if prompts != 1 || responses != 1 {
		t.Fatalf("expected exactly one prompt and one response audit event, got %d/%d", prompts, responses)
	}
}

func TestInvokeJSONFencedBlock(t *testing.T) {
	c := newTestClient("Here is the result:\n```json\n{\"ok\": true}\n```\nThanks.")
	got, err := c.InvokeJSON(context.Background(), "task", RuntimeConfig{}, "sys", nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["ok"] != true {
		t.Fatalf("unexpected decode: %v", got)
	}
}

func TestInvokeJSONOutermostBraceSlice(t *testing.T) {
	c := newTestClient(`sure, the answer is {"value": 42} as requested`)
	got, err := c.InvokeJSON(context.Background(), "task", RuntimeConfig{}, "sys", nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["value"] != float64(42) {
		t.Fatalf("unexpected decode: %v", got)
	}
}

func TestInvokeJSONUnparseableFailsWithTaskName(t *testing.T) {
	c := newTestClient("no json anywhere in this text")
	_, err := c.InvokeJSON(context.Background(), "select_anchor_ontologies", RuntimeConfig{}, "sys", nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := err.Error(); !contains(got, "llm decision failed (select_anchor_ontologies)") {
		t.Fatalf("expected error to name the task, got %q", got)
	}
}

func TestInvokeJSONAuditCallbackPanicIsSwallowed(t *testing.T) {
	c := newTestClient(`{"ok": true}`)
	audit := func(event AuditEvent, payload map[string]any) {
		panic("audit sink exploded")
	}
	if _, err := c.InvokeJSON(context.Background(), "task", RuntimeConfig{}, "sys", nil, nil, audit); err != nil {
		t.Fatalf("expected audit callback panic to be swallowed, got error: %v", err)
	}
}

func TestSummarizeWithContextReturnsTrimmedText(t *testing.T) {
	c := newTestClient("  简洁摘要内容  ")
	got, err := c.SummarizeWithContext(context.Background(), RuntimeConfig{}, "query", nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "简洁摘要内容" {
		t.Fatalf("expected trimmed summary, got %q", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

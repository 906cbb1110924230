// Package llmclient wraps the platform AgentClient with the two decision
// primitives the reasoning engine's nodes actually need: a strict-JSON
// decision call and a free-text summary call, both wrapped in an
// audit-callback emission of llm_prompt_sent/llm_response_received.
//
// Ported from original_source's services/llm/langchain_client.py
// (LangChainLLMClient.invoke_json/summarize_with_context/_invoke_text/
// _parse_json_text) atop the teacher's common/llm.AgentClient construction.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/platform/llm"
)

// RuntimeConfig is the per-call, per-tenant LLM routing configuration
// resolved by the tenant config resolver.
type RuntimeConfig struct {
	Provider       string
	Model          string
	BaseURL        string
	APIKey         string
	TimeoutMs      int
	ExtraJSON      map[string]any
	EnableThinking *bool
}

// AuditEvent is one of the two audit event names this package emits.
type AuditEvent string

const (
	EventLLMPromptSent       AuditEvent = "llm_prompt_sent"
	EventLLMResponseReceived AuditEvent = "llm_response_received"
)

// AuditCallback observes every prompt/response pair. It must never fail the
// decision it is observing — any panic it raises is recovered and discarded,
// matching the teacher's swallow-everything fan-out idiom also used in
// internal/trace.
type AuditCallback func(event AuditEvent, payload map[string]any)

// Client issues chat completions through an AgentClient using a per-call
// RuntimeConfig rather than a fixed Config, since every tenant may route to
// a different provider/model/base URL.
type Client struct {
	newAgent func(provider string, cfg llm.Config) (llm.AgentClient, error)
}

// New constructs a Client routing "anthropic" through the Anthropic SDK and
// every other provider (deepseek, qwen, or a tenant-custom OpenAI-compatible
// base URL) through the OpenAI SDK client.
func New() *Client {
	return &Client{newAgent: buildAgentForProvider}
}

func buildAgentForProvider(provider string, cfg llm.Config) (llm.AgentClient, error) {
	if provider == "anthropic" {
		return llm.NewAnthropicClient(cfg)
	}
	return llm.NewAgentClient(cfg)
}

// InvokeJSON asks the model to produce a JSON object matching schemaHint and
// decodes it via a three-stage fallback: direct decode, fenced code block,
// then the outermost brace-delimited slice. Any stage's success short-
// circuits the rest. task names the decision in error messages and audit
// payloads (e.g. "select_anchor_ontologies").
func (c *Client) InvokeJSON(ctx context.Context, task string, cfg RuntimeConfig, systemPrompt string, userPayload, schemaHint map[string]any, audit AuditCallback) (map[string]any, error) {
	schemaText, err := json.Marshal(nonNil(schemaHint))
	if err != nil {
		return nil, apperr.Internalf(err, "llm decision failed (%s): marshal schema hint", task)
	}
	payloadText, err := json.Marshal(nonNil(userPayload))
	if err != nil {
		return nil, apperr.Internalf(err, "llm decision failed (%s): marshal user payload", task)
	}

	userContent := fmt.Sprintf(
		"请严格返回 JSON 对象，不要输出其他文字。\nSchemaHint: %s\nInput: %s",
		schemaText, payloadText,
	)

	text, err := c.invokeText(ctx, cfg, systemPrompt, userContent, audit)
	if err != nil {
		return nil, apperr.Internalf(err, "llm decision failed (%s)", task)
	}

	parsed, err := parseJSONObject(text)
	if err != nil {
		return nil, apperr.Internalf(err, "llm decision failed (%s)", task)
	}
	return parsed, nil
}

// SummarizeWithContext asks the model for a short free-text summary of a
// finalized run; it is never used for a structured decision.
func (c *Client) SummarizeWithContext(ctx context.Context, cfg RuntimeConfig, query string, ontology, selectedTask map[string]any, audit AuditCallback) (string, error) {
	ontologyText, _ := json.Marshal(nonNil(ontology))
	taskText, _ := json.Marshal(nonNil(selectedTask))

	userContent := fmt.Sprintf(
		"用户输入: %s\n候选本体: %s\n已选任务: %s\n请输出不超过80字的中文摘要。",
		query, ontologyText, taskText,
	)

	text, err := c.invokeText(ctx, cfg, "你是本体推理编排助手，请生成简洁的执行摘要。", userContent, audit)
	if err != nil {
		return "", apperr.Internalf(err, "llm summary failed")
	}
	return text, nil
}

func (c *Client) invokeText(ctx context.Context, cfg RuntimeConfig, systemPrompt, userContent string, audit AuditCallback) (string, error) {
	modelKwargs := c.buildModelKwargs(cfg)

	emit(audit, EventLLMPromptSent, map[string]any{
		"provider":     cfg.Provider,
		"model":        cfg.Model,
		"base_url":     cfg.BaseURL,
		"timeout_ms":   cfg.TimeoutMs,
		"model_kwargs": modelKwargs,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userContent},
		},
	})

	agent, err := c.newAgent(cfg.Provider, llm.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	if err != nil {
		return "", fmt.Errorf("build agent client: %w", err)
	}

	resp, err := agent.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(resp.Content)
	emit(audit, EventLLMResponseReceived, map[string]any{
		"model":             cfg.Model,
		"content":           content,
		"prompt_tokens":     resp.PromptTokens,
		"completion_tokens": resp.CompletionTokens,
		"finish_reason":     resp.FinishReason,
	})
	return content, nil
}

// buildModelKwargs folds the tenant's extra_json overrides and the
// enable_thinking flag into a single kwargs map, using sjson to set
// enable_thinking without disturbing the caller-supplied JSON shape.
func (c *Client) buildModelKwargs(cfg RuntimeConfig) map[string]any {
	base, err := json.Marshal(nonNil(cfg.ExtraJSON))
	if err != nil {
		base = []byte("{}")
	}
	raw := string(base)
	if cfg.EnableThinking != nil {
		if !gjson.Get(raw, "enable_thinking").Exists() {
			if updated, err := sjson.Set(raw, "enable_thinking", *cfg.EnableThinking); err == nil {
				raw = updated
			}
		}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}

func emit(audit AuditCallback, event AuditEvent, payload map[string]any) {
	if audit == nil {
		return
	}
	defer func() { _ = recover() }()
	audit(event, payload)
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var fencedJSONBlock = regexp.MustCompile(`(?is)` + "```" + `(?:json)?\s*(\{.*\})\s*` + "```")

// parseJSONObject implements the three-stage fallback: direct decode, fenced
// code block, outermost brace slice. An empty or otherwise unparseable text
// returns an error.
func parseJSONObject(text string) (map[string]any, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, fmt.Errorf("llm returned empty text")
	}

	if parsed, ok := decodeJSONObject(raw); ok {
		return parsed, nil
	}

	if m := fencedJSONBlock.FindStringSubmatch(raw); m != nil {
		if parsed, ok := decodeJSONObject(m[1]); ok {
			return parsed, nil
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if parsed, ok := decodeJSONObject(raw[start : end+1]); ok {
			return parsed, nil
		}
	}

	return nil, fmt.Errorf("llm output is not valid json object")
}

func decodeJSONObject(candidate string) (map[string]any, bool) {
	if !gjson.Valid(candidate) {
		return nil, false
	}
	result := gjson.Parse(candidate)
	if !result.IsObject() {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil, false
	}
	return out, true
}

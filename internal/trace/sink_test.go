package trace

import (
	"encoding/json"
	"testing"
)

func TestNormalizeEventPassesThroughAllowedType(t *testing.T) {
	eventType, payload := normalizeEvent(EventIntentParsed, map[string]any{"foo": "bar"})
	if eventType != EventIntentParsed {
		t.Fatalf("expected event type to pass through, got %s", eventType)
	}
	if payload["foo"] != "bar" {
		t.Fatalf("expected payload to pass through unchanged, got %v", payload)
	}
}

func TestNormalizeEventRewritesUnknownType(t *testing.T) {
	eventType, payload := normalizeEvent(EventType("bogus_event"), map[string]any{"detail": "x"})
	if eventType != EventSessionFailed {
		t.Fatalf("expected rewrite to session_failed, got %s", eventType)
	}
	if payload["reason"] != "unknown_event_type" {
		t.Fatalf("expected reason=unknown_event_type, got %v", payload["reason"])
	}
	if payload["raw_event_type"] != "bogus_event" {
		t.Fatalf("expected raw_event_type preserved, got %v", payload["raw_event_type"])
	}
	if payload["detail"] != "x" {
		t.Fatalf("expected original payload fields preserved, got %v", payload)
	}
}

func TestNormalizeEventNilPayload(t *testing.T) {
	eventType, payload := normalizeEvent(EventSessionStarted, nil)
	if eventType != EventSessionStarted {
		t.Fatalf("unexpected event type %s", eventType)
	}
	if payload == nil {
		t.Fatal("expected non-nil payload")
	}
}

func TestAllEventTypeConstantsAreAllowed(t *testing.T) {
	want := []EventType{
		EventIntentParsed, EventAttributesMatched, EventOntologiesLocated,
		EventTaskPlanned, EventTaskExecuted, EventClarificationAsked,
		EventRecoveryTriggered, EventSessionCompleted, EventSessionFailed,
		EventSessionStarted, EventMCPCallRequested, EventMCPCallCompleted,
		EventLLMPromptSent, EventLLMResponseReceived,
	}
	if len(want) != len(allowedEvents) {
		t.Fatalf("allowedEvents has %d entries, expected %d", len(allowedEvents), len(want))
	}
	for _, e := range want {
		if !allowedEvents[e] {
			t.Errorf("expected %s to be allowed", e)
		}
	}
}

func TestTrimPayloadPassesThroughSmallPayload(t *testing.T) {
	payload := map[string]any{"a": "b"}
	got := trimPayload(payload, 2000)
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map passthrough, got %T", got)
	}
	if m["a"] != "b" {
		t.Fatalf("unexpected payload: %v", m)
	}
}

func TestTrimPayloadTruncatesLargePayload(t *testing.T) {
	big := map[string]any{}
	for i := 0; i < 500; i++ {
		big[jsonKey(i)] = "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	}
	got := trimPayload(big, 100)
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected truncation wrapper map, got %T", got)
	}
	if m["truncated"] != true {
		t.Fatalf("expected truncated=true, got %v", m)
	}
	if _, err := json.Marshal(m); err != nil {
		t.Fatalf("truncated payload must still be valid JSON: %v", err)
	}
}

func jsonKey(i int) string {
	b, _ := json.Marshal(i)
	return "k" + string(b)
}

func TestRuntimeConfigFingerprintChangesWithFields(t *testing.T) {
	a := RuntimeConfig{Enabled: true, WebhookURL: "https://example.test/hook"}
	b := RuntimeConfig{Enabled: true, WebhookURL: "https://example.test/other"}
	if a.fingerprint() == b.fingerprint() {
		t.Fatal("expected different fingerprints for different webhook URLs")
	}
	c := RuntimeConfig{Enabled: true, WebhookURL: "https://example.test/hook"}
	if a.fingerprint() != c.fingerprint() {
		t.Fatal("expected identical fingerprints for identical configs")
	}
}

func TestEnsureClientReturnsNilWhenDisabled(t *testing.T) {
	s := &Sink{}
	if got := s.ensureClient(RuntimeConfig{Enabled: false}); got != nil {
		t.Fatalf("expected nil client when disabled, got %v", got)
	}
}

func TestEnsureClientReusesClientForSameFingerprint(t *testing.T) {
	s := &Sink{}
	cfg := RuntimeConfig{Enabled: true, WebhookURL: "https://example.test/hook"}
	first := s.ensureClient(cfg)
	if first == nil {
		t.Fatal("expected a client to be built")
	}
	second := s.ensureClient(cfg)
	if first != second {
		t.Fatal("expected the same client instance to be reused for an unchanged fingerprint")
	}
}

package core

import "testing"

func TestRedactSensitiveMapPreservesTraceabilityMetadata(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"trace_id":      "trace_1",
		"request_id":    "req_1",
		"connection_id": "conn_1",
		"access_token":  "secret-token",
		"authorization": "Bearer secret-token",
		"code_verifier": "verifier-value",
		"nested":        map[string]any{"refresh_token": "refresh", "trace_id": "trace_nested"},
		"events":        []any{map[string]any{"client_secret": "s3cret"}, map[string]any{"message_id": "msg_1"}},
		"token_type":    "Bearer",
	})

	if redacted["trace_id"] != "trace_1" {
		t.Fatalf("expected trace_id to remain visible, got %#v", redacted["trace_id"])
	}
	if redacted["connection_id"] != "conn_1" {
		t.Fatalf("expected connection_id to remain visible, got %#v", redacted["connection_id"])
	}
	if redacted["access_token"] != RedactedValue {
		t.Fatalf("expected access_token to be redacted, got %#v", redacted["access_token"])
	}
	if redacted["code_verifier"] != RedactedValue {
		t.Fatalf("expected code_verifier to be redacted, got %#v", redacted["code_verifier"])
	}
	if redacted["token_type"] != "Bearer" {
		t.Fatalf("expected token_type to remain visible, got %#v", redacted["token_type"])
	}
	nested, ok := redacted["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested redacted map")
	}
	if nested["refresh_token"] != RedactedValue {
		t.Fatalf("expected nested refresh_token to be redacted, got %#v", nested["refresh_token"])
	}
	if nested["trace_id"] != "trace_nested" {
		t.Fatalf("expected nested trace_id to remain visible, got %#v", nested["trace_id"])
	}
	events, ok := redacted["events"].([]any)
	if !ok || len(events) != 2 {
		t.Fatalf("expected redacted events slice, got %#v", redacted["events"])
	}
	if first := events[0].(map[string]any); first["client_secret"] != RedactedValue {
		t.Fatalf("expected client_secret in slice to be redacted, got %#v", first["client_secret"])
	}
	if second := events[1].(map[string]any); second["message_id"] != "msg_1" {
		t.Fatalf("expected message_id in slice to remain visible, got %#v", second["message_id"])
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken(""); got != "" {
		t.Fatalf("expected empty mask for empty token, got %q", got)
	}
	if got := MaskToken("short"); got != RedactedValue {
		t.Fatalf("expected short tokens fully redacted, got %q", got)
	}
	if got := MaskToken("eyJ0eXAiOiJKV1QiLCJhbGciOi"); got != "eyJ0..."+RedactedValue {
		t.Fatalf("unexpected masked token %q", got)
	}
}

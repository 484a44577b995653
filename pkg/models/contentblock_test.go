package models

import (
	"encoding/json"
	"testing"
)

func TestAssistantBlock_ToolCallRoundTrip(t *testing.T) {
	original := AssistantBlock{
		Kind:            AssistantBlockToolCall,
		ToolCallID:      "t1",
		ToolCallName:    "Write",
		ToolCallArgs:    json.RawMessage(`{"file_path":"/tmp/x","content":"y"}`),
		OpaqueSignature: "sig-abc",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded AssistantBlock
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ToolCallID != original.ToolCallID || decoded.ToolCallName != original.ToolCallName {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, original)
	}
	if string(decoded.ToolCallArgs) != string(original.ToolCallArgs) {
		t.Fatalf("arguments mismatch: %s vs %s", decoded.ToolCallArgs, original.ToolCallArgs)
	}
	if decoded.OpaqueSignature != original.OpaqueSignature {
		t.Fatalf("signature mismatch: %q vs %q", decoded.OpaqueSignature, original.OpaqueSignature)
	}
}

// Legacy-writer compatibility: a record persisted with only the vendor-native
// "input" key (no "arguments") must still decode.
func TestAssistantBlock_DecodesLegacyInputKeyOnly(t *testing.T) {
	raw := []byte(`{"kind":"tool_call","id":"t2","name":"Read","input":{"path":"/etc/hosts"}}`)

	var decoded AssistantBlock
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ToolCallID != "t2" || decoded.ToolCallName != "Read" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if string(decoded.ToolCallArgs) != `{"path":"/etc/hosts"}` {
		t.Fatalf("expected args decoded from legacy input key, got %s", decoded.ToolCallArgs)
	}
}

// When both keys are present, "arguments" (the canonical name) wins.
func TestAssistantBlock_ArgumentsKeyTakesPriorityOverInput(t *testing.T) {
	raw := []byte(`{"kind":"tool_call","id":"t3","name":"X","arguments":{"canonical":true},"input":{"legacy":true}}`)

	var decoded AssistantBlock
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(decoded.ToolCallArgs) != `{"canonical":true}` {
		t.Fatalf("expected canonical arguments to win, got %s", decoded.ToolCallArgs)
	}
}

func TestAssistantBlock_MarshalEmitsBothKeys(t *testing.T) {
	b := AssistantBlock{Kind: AssistantBlockToolCall, ToolCallID: "t4", ToolCallName: "X", ToolCallArgs: json.RawMessage(`{"a":1}`)}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	if _, ok := raw["arguments"]; !ok {
		t.Fatal("expected marshaled block to carry canonical 'arguments' key")
	}
	if _, ok := raw["input"]; !ok {
		t.Fatal("expected marshaled block to carry vendor-native 'input' key for old readers")
	}
}

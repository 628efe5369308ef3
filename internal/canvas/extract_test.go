package canvas

import (
	"encoding/json"
	"testing"
)

func rawParts(t *testing.T, parts ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(parts))
	for _, p := range parts {
		out = append(out, json.RawMessage(p))
	}
	return out
}

func TestExtract_LegacyToolInvocationPart(t *testing.T) {
	msgs := []ChatMessage{{
		Role: "assistant",
		Parts: rawParts(t,
			`{"type":"tool-invocation","toolInvocation":{"toolName":"updateCanvas","state":"result","result":{"product":"智能手表"}}}`,
		),
	}}

	got := Extract(msgs, CanvasToolName)

	if len(got) != 1 {
		t.Fatalf("Expected 1 invocation, got %d", len(got))
	}
	if got[0].Payload["product"] != "智能手表" {
		t.Errorf("Expected product payload, got %v", got[0].Payload)
	}
}

func TestExtract_DynamicToolAndPrefixedParts(t *testing.T) {
	msgs := []ChatMessage{{
		Role: "assistant",
		Parts: rawParts(t,
			`{"type":"dynamic-tool","toolName":"UPDATECANVAS","output":{"target":"老年人"}}`,
			`{"type":"tool-updateCanvas","state":"output-available","output":{"niche":"养老院渠道"}}`,
		),
	}}

	got := Extract(msgs, CanvasToolName)

	if len(got) != 2 {
		t.Fatalf("Expected 2 invocations, got %d", len(got))
	}
	if got[0].Payload["target"] != "老年人" {
		t.Errorf("Expected case-insensitive tool name match, got %v", got[0].Payload)
	}
	if got[1].Payload["niche"] != "养老院渠道" {
		t.Errorf("Expected tool- prefixed part decoded, got %v", got[1].Payload)
	}
}

func TestExtract_TopLevelToolInvocations(t *testing.T) {
	msgs := []ChatMessage{{
		Role: "assistant",
		ToolInvocations: rawParts(t,
			`{"toolName":"updateCanvas","result":{"diff":"无摄像头隐私设计"}}`,
			`{"toolName":"updateCanvas","args":{"price":"5万/年"}}`,
		),
	}}

	got := Extract(msgs, CanvasToolName)

	if len(got) != 2 {
		t.Fatalf("Expected 2 invocations, got %d", len(got))
	}
	if got[0].Payload["diff"] != "无摄像头隐私设计" {
		t.Errorf("Expected result payload, got %v", got[0].Payload)
	}
	if got[1].Payload["price"] != "5万/年" {
		t.Errorf("Expected args fallback payload, got %v", got[1].Payload)
	}
}

func TestExtract_CanonicalPayloadRoundTrip(t *testing.T) {
	raw, err := json.Marshal(ToolInvocation{
		Name:    CanvasToolName,
		Payload: Record{"product": "宠物陪护机器人"},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	msgs := []ChatMessage{{Role: "assistant", ToolInvocations: []json.RawMessage{raw}}}

	got := Extract(msgs, CanvasToolName)

	if len(got) != 1 || got[0].Payload["product"] != "宠物陪护机器人" {
		t.Errorf("Expected re-extraction of encoded invocation, got %v", got)
	}
}

func TestExtract_MalformedAndForeignPartsIgnored(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "user", Content: "我的产品是智能手表"},
		{
			Role: "assistant",
			Parts: rawParts(t,
				`{"type":"text","text":"好的"}`,
				`not even json`,
				`{"type":"tool-invocation"}`,
				`{"type":"dynamic-tool","toolName":"searchWeb","output":{"q":"x"}}`,
				`{"type":"tool-updateCanvas","output":"not an object"}`,
			),
		},
	}

	if got := Extract(msgs, CanvasToolName); len(got) != 0 {
		t.Errorf("Expected no invocations from malformed input, got %v", got)
	}
}

func TestLastUpdate_OnlyFinalAssistantMessage(t *testing.T) {
	msgs := []ChatMessage{
		{
			Role:  "assistant",
			Parts: rawParts(t, `{"type":"dynamic-tool","toolName":"updateCanvas","output":{"product":"旧值"}}`),
		},
		{Role: "user", Content: "换个方向"},
		{
			Role: "assistant",
			Parts: rawParts(t,
				`{"type":"text","text":"明白了"}`,
				`{"type":"dynamic-tool","toolName":"updateCanvas","output":{"product":"新值"}}`,
			),
		},
	}

	invs, hasText := LastUpdate(msgs, CanvasToolName)

	if len(invs) != 1 || invs[0].Payload["product"] != "新值" {
		t.Errorf("Expected only the last assistant payload, got %v", invs)
	}
	if !hasText {
		t.Error("Expected hasText=true for a message with a text part")
	}
}

func TestLastUpdate_ToolOnlyMessageSignalsNoText(t *testing.T) {
	msgs := []ChatMessage{{
		Role:  "assistant",
		Parts: rawParts(t, `{"type":"dynamic-tool","toolName":"updateCanvas","output":{"scores":{"High":4}}}`),
	}}

	invs, hasText := LastUpdate(msgs, CanvasToolName)

	if len(invs) != 1 {
		t.Fatalf("Expected payload from tool-only message, got %v", invs)
	}
	if hasText {
		t.Error("Expected hasText=false for a tool-only message")
	}
}

package canvas

import (
	"encoding/json"
	"strings"
)

// CanvasToolName is the tool the model calls to push structured updates.
// Matching is case-insensitive because the upstream model is not consistent
// about casing.
const CanvasToolName = "updateCanvas"

// ToolInvocation is the canonical decoded form of a canvas-update tool call,
// whatever wire shape it arrived in.
type ToolInvocation struct {
	Name    string `json:"toolName"`
	Payload Record `json:"payload"`
}

// ChatMessage is the transport shape of a chat message as exchanged with the
// streaming endpoint and the session store. Assistant messages may carry
// tool data either inside Parts (two historical encodings) or in the legacy
// top-level ToolInvocations array.
type ChatMessage struct {
	ID              string            `json:"id,omitempty"`
	Role            string            `json:"role"`
	Content         string            `json:"content,omitempty"`
	Parts           []json.RawMessage `json:"parts,omitempty"`
	ToolInvocations []json.RawMessage `json:"toolInvocations,omitempty"`
	Auto            bool              `json:"auto,omitempty"`
	CreatedAt       int64             `json:"createdAt,omitempty"`
}

// messagePart covers every part shape seen in the wild. The result may be
// carried under "result", "output" or (legacy, mid-stream) "args" depending
// on completion stage; decoding tries them in that order.
type messagePart struct {
	Type           string          `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	State          string          `json:"state,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Args           json.RawMessage `json:"args,omitempty"`
	ToolInvocation *struct {
		ToolName string          `json:"toolName"`
		State    string          `json:"state,omitempty"`
		Result   json.RawMessage `json:"result,omitempty"`
		Output   json.RawMessage `json:"output,omitempty"`
		Args     json.RawMessage `json:"args,omitempty"`
	} `json:"toolInvocation,omitempty"`
}

// Extract scans assistant messages in order and returns every recognizable
// invocation of the named tool as a canonical ToolInvocation. Malformed or
// unrecognizable parts yield nothing; Extract never fails.
func Extract(messages []ChatMessage, toolName string) []ToolInvocation {
	var out []ToolInvocation
	for i := range messages {
		out = append(out, extractOne(&messages[i], toolName)...)
	}
	return out
}

// LastUpdate returns the tool payloads of the final assistant message only,
// plus whether that message carries any human-readable text. Earlier
// messages are deliberately ignored so re-scans of the transcript cannot
// retrigger change notifications. hasText=false tells the caller to
// substitute filler text for a tool-only turn.
func LastUpdate(messages []ChatMessage, toolName string) (invocations []ToolInvocation, hasText bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		return extractOne(&messages[i], toolName), messageHasText(&messages[i])
	}
	return nil, false
}

func extractOne(msg *ChatMessage, toolName string) []ToolInvocation {
	if msg.Role != "assistant" {
		return nil
	}
	var out []ToolInvocation

	for _, raw := range msg.Parts {
		var p messagePart
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		switch {
		case p.Type == "tool-invocation" && p.ToolInvocation != nil:
			if !strings.EqualFold(p.ToolInvocation.ToolName, toolName) {
				continue
			}
			if payload := decodePayload(p.ToolInvocation.Result, p.ToolInvocation.Output, p.ToolInvocation.Args); payload != nil {
				out = append(out, ToolInvocation{Name: toolName, Payload: payload})
			}
		case p.Type == "dynamic-tool" || strings.HasPrefix(p.Type, "tool-"):
			name := p.ToolName
			if name == "" {
				name = strings.TrimPrefix(p.Type, "tool-")
			}
			if !strings.EqualFold(name, toolName) {
				continue
			}
			if payload := decodePayload(p.Result, p.Output, p.Args); payload != nil {
				out = append(out, ToolInvocation{Name: toolName, Payload: payload})
			}
		}
	}

	for _, raw := range msg.ToolInvocations {
		var inv struct {
			ToolName string          `json:"toolName"`
			Payload  json.RawMessage `json:"payload,omitempty"`
			Result   json.RawMessage `json:"result,omitempty"`
			Args     json.RawMessage `json:"args,omitempty"`
		}
		if err := json.Unmarshal(raw, &inv); err != nil {
			continue
		}
		if !strings.EqualFold(inv.ToolName, toolName) {
			continue
		}
		if payload := decodePayload(inv.Payload, inv.Result, inv.Args); payload != nil {
			out = append(out, ToolInvocation{Name: toolName, Payload: payload})
		}
	}

	return out
}

// decodePayload tries each candidate in order and returns the first that
// decodes to a JSON object.
func decodePayload(candidates ...json.RawMessage) Record {
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
			continue
		}
		return rec
	}
	return nil
}

func messageHasText(msg *ChatMessage) bool {
	if strings.TrimSpace(msg.Content) != "" {
		return true
	}
	for _, raw := range msg.Parts {
		var p messagePart
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if (p.Type == "text" || p.Type == "reasoning") && strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// Package model talks to the LLM backend. The backend speaks the
// OpenAI-compatible chat-completions protocol with SSE streaming.
package model

import (
	"context"
	"encoding/json"
	"iter"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool declares one function the model may call.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object, forwarded verbatim.
	Parameters map[string]any
}

// Request is a full prompt for one completion.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// Event kinds yielded by a chat stream.
const (
	EventText     = "text"
	EventToolCall = "tool_call"
	EventDone     = "done"
)

// Event is one streamed chunk of a model response. Text events carry a
// delta, tool_call events carry the fully assembled arguments.
type Event struct {
	Type     string
	Text     string
	ToolName string
	ToolArgs json.RawMessage
}

// Streamer produces completion streams. Implemented by the OpenRouter
// client; tests substitute fakes.
type Streamer interface {
	// Chat streams one completion. The sequence ends after a done event or
	// a yielded error.
	Chat(ctx context.Context, req Request) iter.Seq2[*Event, error]

	// Close releases resources.
	Close()
}

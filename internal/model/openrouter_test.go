package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, lines []string, capture *wireRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, capture); err != nil {
				t.Errorf("request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			io.WriteString(w, l+"\n\n")
		}
	}))
}

func collect(t *testing.T, c *OpenRouterClient, req Request) []*Event {
	t.Helper()
	var events []*Event
	for ev, err := range c.Chat(context.Background(), req) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestChatStreamsTextDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"你好"}}]}`,
		`data: {"choices":[{"delta":{"content":"，世界"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	}, nil)
	defer srv.Close()

	c := NewOpenRouterClient(OpenRouterConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "m"}, nil)
	events := collect(t, c, Request{Messages: []Message{{Role: "user", Content: "hi"}}})

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == EventText {
			text.WriteString(ev.Text)
		}
	}
	if text.String() != "你好，世界" {
		t.Errorf("text = %q", text.String())
	}
	if last := events[len(events)-1]; last.Type != EventDone {
		t.Errorf("last event = %s, want done", last.Type)
	}
}

func TestChatAssemblesFragmentedToolCall(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"先看画布。"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"updateCanvas","arguments":"{\"target\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"律师\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	}, nil)
	defer srv.Close()

	c := NewOpenRouterClient(OpenRouterConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "m"}, nil)
	events := collect(t, c, Request{Messages: []Message{{Role: "user", Content: "目标客户是律师"}}})

	var call *Event
	for _, ev := range events {
		if ev.Type == EventToolCall {
			call = ev
		}
	}
	if call == nil {
		t.Fatal("no tool_call event")
	}
	if call.ToolName != "updateCanvas" {
		t.Errorf("tool name = %q", call.ToolName)
	}
	var args map[string]any
	if err := json.Unmarshal(call.ToolArgs, &args); err != nil {
		t.Fatalf("args not valid JSON: %v", err)
	}
	if args["target"] != "律师" {
		t.Errorf("args = %v", args)
	}
}

func TestChatSendsSystemPromptAndTools(t *testing.T) {
	var captured wireRequest
	srv := sseServer(t, []string{`data: [DONE]`}, &captured)
	defer srv.Close()

	c := NewOpenRouterClient(OpenRouterConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}, nil)
	collect(t, c, Request{
		System:   "you are a consultant",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools: []Tool{{
			Name:       "updateCanvas",
			Parameters: map[string]any{"type": "object"},
		}},
	})

	if captured.Model != "test-model" {
		t.Errorf("model = %q", captured.Model)
	}
	if !captured.Stream {
		t.Error("stream flag not set")
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", captured.Messages)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "updateCanvas" {
		t.Errorf("tools = %+v", captured.Tools)
	}
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenRouterClient(OpenRouterConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "m"}, nil)
	var gotErr error
	for _, err := range c.Chat(context.Background(), Request{}) {
		if err != nil {
			gotErr = err
			break
		}
	}
	if gotErr == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(gotErr.Error(), "429") {
		t.Errorf("error = %v", gotErr)
	}
}

package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

var (
	errUpstreamStatus = errors.New("model backend returned error status")
	errStreamFormat   = errors.New("malformed stream payload")
)

// OpenRouterClient streams chat completions from an OpenRouter-compatible
// endpoint over SSE.
type OpenRouterClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	referer    string
	logger     *slog.Logger
}

// OpenRouterConfig holds configuration for the completions client.
type OpenRouterConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Referer        string
	RequestTimeout time.Duration
}

// NewOpenRouterClient creates a streaming completions client. The request
// timeout bounds the whole stream, not just the first byte.
func NewOpenRouterClient(cfg OpenRouterConfig, logger *slog.Logger) *OpenRouterClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	return &OpenRouterClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		referer:    cfg.Referer,
		logger:     logger,
	}
}

// Close releases resources. The shared http.Client owns no connections that
// need explicit shutdown beyond idle ones.
func (c *OpenRouterClient) Close() {
	c.httpClient.CloseIdleConnections()
}

var _ Streamer = (*OpenRouterClient)(nil)

// Wire types of the chat-completions protocol.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int `json:"index"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// toolCallAccumulator collects a tool call whose arguments arrive as
// string fragments across many chunks.
type toolCallAccumulator struct {
	name string
	args strings.Builder
}

// Chat streams one completion. Text deltas are yielded as they arrive;
// tool calls are yielded once their argument JSON is complete, before the
// final done event.
func (c *OpenRouterClient) Chat(ctx context.Context, req Request) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		body, err := json.Marshal(c.buildWireRequest(req))
		if err != nil {
			yield(nil, fmt.Errorf("encode chat request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("build chat request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		if c.referer != "" {
			httpReq.Header.Set("HTTP-Referer", c.referer)
			httpReq.Header.Set("X-Title", "BizLens")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield(nil, fmt.Errorf("chat request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield(nil, fmt.Errorf("%w: %d %s", errUpstreamStatus, resp.StatusCode,
				strings.TrimSpace(string(snippet))))
			return
		}

		calls := map[int]*toolCallAccumulator{}
		finished := false

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				finished = true
				break
			}

			var chunk wireChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield(nil, fmt.Errorf("%w: %v", errStreamFormat, err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if !yield(&Event{Type: EventText, Text: choice.Delta.Content}, nil) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc := calls[tc.Index]
				if acc == nil {
					acc = &toolCallAccumulator{}
					calls[tc.Index] = acc
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				finished = true
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("chat stream error: %w", err))
			return
		}
		if !finished {
			c.logger.Warn("chat stream ended without finish marker")
		}

		for _, idx := range sortedCallIndexes(calls) {
			acc := calls[idx]
			args := acc.args.String()
			if args == "" {
				args = "{}"
			}
			ev := &Event{
				Type:     EventToolCall,
				ToolName: acc.name,
				ToolArgs: json.RawMessage(args),
			}
			if !yield(ev, nil) {
				return
			}
		}

		yield(&Event{Type: EventDone}, nil)
	}
}

func (c *OpenRouterClient) buildWireRequest(req Request) wireRequest {
	msgs := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: m.Role, Content: m.Content})
	}

	tools := make([]wireTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return wireRequest{
		Model:    c.model,
		Messages: msgs,
		Tools:    tools,
		Stream:   true,
	}
}

func sortedCallIndexes(calls map[int]*toolCallAccumulator) []int {
	idxs := make([]int, 0, len(calls))
	for i := range calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	return idxs
}

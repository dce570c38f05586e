package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func openaiServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider("openai", "test-key", srv.URL, "gpt-test")
}

func TestOpenAIChatParsesToolCalls(t *testing.T) {
	var gotBody map[string]any
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "web_search",
							"arguments": `{"query":"golang"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]int{"prompt_tokens": 20, "completion_tokens": 3, "total_tokens": 23},
		})
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "search golang"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "web_search" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["query"] != "golang" {
		t.Errorf("arguments = %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 23 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotBody["model"] != "gpt-test" {
		t.Errorf("model = %v (default not applied)", gotBody["model"])
	}
}

func TestOpenAIStreamAccumulatesToolArguments(t *testing.T) {
	lines := []string{
		`data: {"choices":[{"delta":{"content":"thinking"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_7","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`data: [DONE]`,
	}
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(strings.Join(lines, "\n\n")))
	})

	var streamed []string
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, func(chunk StreamChunk) {
		if chunk.Content != "" {
			streamed = append(streamed, chunk.Content)
		}
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(streamed, "") != "thinking" {
		t.Errorf("streamed = %v", streamed)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_7" || tc.Name != "lookup" || tc.Arguments["q"] != "x" {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOpenAIRateLimitRetriesThenSucceeds(t *testing.T) {
	calls := 0
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": "ok"},
				"finish_reason": "stop",
			}},
		})
	})

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" || calls != 2 {
		t.Errorf("content=%q calls=%d", resp.Content, calls)
	}
}

func TestOpenAIAssistantToolCallsSerialized(t *testing.T) {
	var gotBody struct {
		Messages []map[string]any `json:"messages"`
	}
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": "done"},
				"finish_reason": "stop",
			}},
		})
	})

	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "f", Arguments: map[string]any{"a": 1.0}}}},
			{Role: "tool", Content: "result", ToolCallID: "call_1"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("messages = %+v", gotBody.Messages)
	}
	if gotBody.Messages[0]["tool_calls"] == nil {
		t.Error("assistant tool_calls missing")
	}
	if gotBody.Messages[1]["tool_call_id"] != "call_1" {
		t.Errorf("tool message = %+v", gotBody.Messages[1])
	}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onboarding-agent/backend/internal/storage/models"
)

func intPtr(i int) *int { return &i }

func TestToOpenAIMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "Who is Sarah Chen's manager?"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "lookup_employee", Arguments: `{"name_or_id_or_role":"Sarah Chen"}`},
		}},
		{Role: models.RoleTool, ToolCallID: "call_1", Name: "lookup_employee", Content: "[...]"},
		{Role: models.RoleAssistant, Content: "Elena Rostova."},
	}

	out := toOpenAIMessages("be concise", msgs)
	require.Len(t, out, 5)

	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, "be concise", out[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, out[1].Role)

	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, out[2].ToolCalls[0].Type)
	assert.Equal(t, "lookup_employee", out[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", out[2].ToolCalls[0].ID)

	assert.Equal(t, openai.ChatMessageRoleTool, out[3].Role)
	assert.Equal(t, "call_1", out[3].ToolCallID)
	assert.Equal(t, "Elena Rostova.", out[4].Content)
}

func TestToOpenAIMessages_NoSystem(t *testing.T) {
	out := toOpenAIMessages("", []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.Len(t, out, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, out[0].Role)
}

func TestContentText(t *testing.T) {
	assert.Equal(t, "plain", contentText(openai.ChatCompletionMessage{Content: "plain"}))

	multi := openai.ChatCompletionMessage{MultiContent: []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: "Hello, "},
		{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: "http://x"}},
		{Type: openai.ChatMessagePartTypeText, Text: "world"},
	}}
	assert.Equal(t, "Hello, world", contentText(multi))

	assert.Equal(t, "", contentText(openai.ChatCompletionMessage{}))
}

func TestToolCallAccumulator(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{Index: intPtr(0), ID: "a", Function: openai.FunctionCall{Name: "lookup_employee"}})
	acc.add(openai.ToolCall{Index: intPtr(1), ID: "b", Function: openai.FunctionCall{Name: "search_policies"}})
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"name_or_id`}})
	acc.add(openai.ToolCall{Index: intPtr(1), Function: openai.FunctionCall{Arguments: `{"query":"vpn"}`}})
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `_or_role":"Sarah"}`}})

	calls := acc.result()
	require.Len(t, calls, 2)
	assert.Equal(t, models.ToolCall{ID: "a", Name: "lookup_employee", Arguments: `{"name_or_id_or_role":"Sarah"}`}, calls[0])
	assert.Equal(t, models.ToolCall{ID: "b", Name: "search_policies", Arguments: `{"query":"vpn"}`}, calls[1])
}

func TestToolCallAccumulator_NoIndex(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{ID: "a", Function: openai.FunctionCall{Name: "x", Arguments: `{"q":`}})
	acc.add(openai.ToolCall{Function: openai.FunctionCall{Arguments: `1}`}})

	calls := acc.result()
	require.Len(t, calls, 1)
	assert.Equal(t, `{"q":1}`, calls[0].Arguments)

	assert.Nil(t, newToolCallAccumulator().result())
}

func TestClassify(t *testing.T) {
	bad := fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad"})
	assert.NotSame(t, bad, classify(bad))
	assert.ErrorIs(t, classify(bad), bad)

	limited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
	assert.Equal(t, error(limited), classify(limited))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, classify(plain))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		APIKey:  "test",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
}

func TestClient_Complete(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "lookup_employee", "arguments": "{\"name_or_id_or_role\":\"Sarah Chen\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	})

	resp, err := client.Complete(context.Background(), ChatRequest{
		System:   "system prompt",
		Messages: []models.Message{{Role: models.RoleUser, Content: "Who manages Sarah Chen?"}},
		Tools:    []ToolSpec{{Name: "lookup_employee", Description: "d", Parameters: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup_employee", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"name_or_id_or_role":"Sarah Chen"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "lookup_employee", got.Tools[0].Function.Name)
}

func TestClient_Complete_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	})

	_, err := client.Complete(context.Background(), ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Stream(t *testing.T) {
	chunks := []string{
		`{"id":"s","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Sarah's manager "}}]}`,
		`{"id":"s","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"is Elena Rostova."}}]}`,
		`{"id":"s","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":30,"completion_tokens":8,"total_tokens":38}}`,
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var tokens []string
	resp, err := client.Stream(context.Background(), ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "Who manages Sarah?"}},
	}, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Sarah's manager ", "is Elena Rostova."}, tokens)
	assert.Equal(t, "Sarah's manager is Elena Rostova.", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, 38, resp.Usage.TotalTokens)
}

func TestClient_Stream_ToolCalls(t *testing.T) {
	chunks := []string{
		`{"id":"s","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"search_policies","arguments":""}}]}}]}`,
		`{"id":"s","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`{"id":"s","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"stipend\"}"}}]}}]}`,
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	resp, err := client.Stream(context.Background(), ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "stipend?"}},
	}, nil)
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "search_policies", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"query":"stipend"}`, resp.ToolCalls[0].Arguments)
}

func TestClient_Stream_CallbackErrorAborts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 3; i++ {
			_, _ = fmt.Fprintf(w, "data: %s\n\n",
				`{"id":"s","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"x"}}]}`)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stop := errors.New("client went away")
	var seen int
	_, err := client.Stream(context.Background(), ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "q"}},
	}, func(string) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Reverse the order to check results are placed by index.
		var data []string
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,1]}`, i, len(req.Input[i])))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"object":"list","data":[%s],"model":"m"}`, strings.Join(data, ","))
	}))
	t.Cleanup(srv.Close)

	emb := NewEmbedder(EmbedderConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m", BatchSize: 2})

	out, err := emb.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{1, 1}, out[0])
	assert.Equal(t, []float32{2, 1}, out[1])
	assert.Equal(t, []float32{3, 1}, out[2])
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))

	out, err = emb.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

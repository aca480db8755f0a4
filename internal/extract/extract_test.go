package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memkeeper/internal/model"
)

func TestParseMemoryWrite(t *testing.T) {
	plan, err := ParseMemoryWrite([]byte(`{
		"summary": " Deploys run on Fridays ",
		"tags": ["ops", "deploy"],
		"facts": ["deploys happen every friday"],
		"memory_type": "Decision",
		"importance": 0.8
	}`), "raw chunk")
	require.NoError(t, err)
	assert.Equal(t, "Deploys run on Fridays", plan.Summary)
	assert.Equal(t, []string{"ops", "deploy", LLMTag}, plan.Tags)
	assert.Equal(t, []string{"deploys happen every friday"}, plan.Facts)
	assert.Equal(t, model.TypeDecision, plan.MemoryType)
	require.NotNil(t, plan.Importance)
	assert.InDelta(t, 0.8, *plan.Importance, 1e-9)
}

func TestParseMemoryWriteDefaults(t *testing.T) {
	plan, err := ParseMemoryWrite([]byte(`{"summary":"s"}`), "raw chunk")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw chunk"}, plan.Facts)
	assert.Equal(t, model.TypeFact, plan.MemoryType)
	assert.Nil(t, plan.Importance)
	assert.Equal(t, []string{LLMTag}, plan.Tags)
}

func TestParseMemoryWriteRejects(t *testing.T) {
	cases := map[string]string{
		"malformed":       `{"summary":`,
		"empty summary":   `{"summary":"  "}`,
		"non-string tag":  `{"summary":"s","tags":[1]}`,
		"empty tag":       `{"summary":"s","tags":[""]}`,
		"empty fact":      `{"summary":"s","facts":[" "]}`,
		"unknown type":    `{"summary":"s","memory_type":"gossip"}`,
		"importance high": `{"summary":"s","importance":1.5}`,
		"importance low":  `{"summary":"s","importance":-0.1}`,
		"importance type": `{"summary":"s","importance":"high"}`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMemoryWrite([]byte(args), "chunk")
			require.ErrorIs(t, err, ErrExtraction)
		})
	}
}

func TestPlansFromCalls(t *testing.T) {
	plans, err := plansFromCalls([]toolCall{
		{Name: "other_tool", Args: []byte(`{}`)},
		{Name: ToolName, Args: []byte(`{"summary":"a"}`)},
		{Name: ToolName, Args: []byte(`{"summary":"b"}`)},
	}, "chunk")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "a", plans[0].Summary)
	assert.Equal(t, "b", plans[1].Summary)

	_, err = plansFromCalls([]toolCall{{Name: "other_tool"}}, "chunk")
	require.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), ReasonNoToolCalls)
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "test-key"
	cfg.Model = "test-model"
	cfg.RequestsPerSecond = 0
	cfg.MaxRetries = 2
	cfg.RetryInitialInterval = time.Millisecond
	return cfg
}

func openAIResponse(args string) string {
	body := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []any{map[string]any{
					"id":       "call_1",
					"type":     "function",
					"function": map[string]any{"name": ToolName, "arguments": args},
				}},
			},
		}},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func TestOpenAIExtract(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openAIResponse(`{"summary":"Team prefers Go","memory_type":"preference"}`)))
	}))
	defer srv.Close()

	ex := NewOpenAI(testConfig(srv.URL+"/v1"), zerolog.Nop())
	plans, err := ex.Extract(context.Background(), Chunk{SourcePath: "/in/notes.md", Index: 3, Text: "we like go"})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Team prefers Go", plans[0].Summary)
	assert.Equal(t, model.TypePreference, plans[0].MemoryType)
	assert.Equal(t, []string{"we like go"}, plans[0].Facts)

	assert.Equal(t, "required", gotReq["tool_choice"])
	msgs, ok := gotReq["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	assert.Equal(t, "source_path=/in/notes.md\nchunk_index=3\nchunk_text:\nwe like go", user["content"])
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(openAIResponse(`{"summary":"ok"}`)))
	}))
	defer srv.Close()

	plans, err := NewOpenAI(testConfig(srv.URL+"/v1"), zerolog.Nop()).Extract(context.Background(), Chunk{Text: "x"})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(testConfig(srv.URL+"/v1"), zerolog.Nop()).Extract(context.Background(), Chunk{Text: "x"})
	require.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), ReasonRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIMalformedArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openAIResponse(`{"summary":`)))
	}))
	defer srv.Close()

	_, err := NewOpenAI(testConfig(srv.URL+"/v1"), zerolog.Nop()).Extract(context.Background(), Chunk{Text: "x"})
	require.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), ReasonParseFailed)
}

func TestAnthropicExtract(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "test-model",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "storing"},
				{"type": "tool_use", "id": "tu_1", "name": "memory_write",
				 "input": {"summary": "Launch is in May", "memory_type": "event", "tags": ["launch"]}}
			],
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	ex := NewAnthropic(testConfig(srv.URL), zerolog.Nop())
	plans, err := ex.Extract(context.Background(), Chunk{SourcePath: "a.md", Index: 0, Text: "launch may"})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Launch is in May", plans[0].Summary)
	assert.Equal(t, model.TypeEvent, plans[0].MemoryType)
	assert.Equal(t, []string{"launch", LLMTag}, plans[0].Tags)

	choice, ok := gotReq["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "any", choice["type"])
}

func TestNewProviderSelection(t *testing.T) {
	ex, err := New(Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, ex)

	ex, err = New(Config{Provider: ProviderOpenAI, APIKey: "k"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIExtractor{}, ex)

	_, err = New(Config{Provider: "bard"}, zerolog.Nop())
	require.Error(t, err)
}

package extract

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIExtractor calls an OpenAI-compatible chat completions endpoint with
// tool_choice "required".
type OpenAIExtractor struct {
	client *openai.Client
	cfg    Config
	caller *caller
	logger zerolog.Logger
}

// NewOpenAI creates an OpenAI-compatible extractor. An empty base URL uses
// the public OpenAI API.
func NewOpenAI(cfg Config, logger zerolog.Logger) *OpenAIExtractor {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIExtractor{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		caller: newCaller(cfg, logger),
		logger: logger,
	}
}

// request pins temperature at the smallest non-zero value because go-openai
// omits a literal zero.
func (e *OpenAIExtractor) request(c Chunk) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Temperature: math.SmallestNonzeroFloat32,
		MaxTokens:   e.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(c)},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolName,
				Description: toolDescription,
				Parameters:  ToolSchema(),
			},
		}},
		ToolChoice: "required",
	}
}

// Extract implements Extractor.
func (e *OpenAIExtractor) Extract(ctx context.Context, c Chunk) ([]WritePlan, error) {
	req := e.request(c)

	var resp openai.ChatCompletionResponse
	err := e.caller.do(ctx, func() error {
		r, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return classifyOpenAIError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, extractionError(ReasonRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, extractionError(ReasonNoToolCalls, nil, goerr.V("choices", 0))
	}

	msg := resp.Choices[0].Message
	calls := make([]toolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, toolCall{Name: tc.Function.Name, Args: []byte(tc.Function.Arguments)})
	}
	e.logger.Debug().Str("source_path", c.SourcePath).Int("chunk_index", c.Index).Int("tool_calls", len(calls)).Msg("chunk extracted")
	return plansFromCalls(calls, c.Text)
}

// classifyOpenAIError marks client errors other than 429 as permanent.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && !retryableStatus(apiErr.HTTPStatusCode) {
		return backoff.Permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && !retryableStatus(reqErr.HTTPStatusCode) {
		return backoff.Permanent(err)
	}
	return err
}

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// AnthropicExtractor calls the Anthropic messages API with tool_choice "any".
type AnthropicExtractor struct {
	client *anthropic.Client
	cfg    Config
	caller *caller
	logger zerolog.Logger
}

// NewAnthropic creates an Anthropic extractor. SDK retries are disabled; the
// extractor's own backoff handles them.
func NewAnthropic(cfg Config, logger zerolog.Logger) *AnthropicExtractor {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicExtractor{
		client: &client,
		cfg:    cfg,
		caller: newCaller(cfg, logger),
		logger: logger,
	}
}

func (e *AnthropicExtractor) params(c Chunk) anthropic.MessageNewParams {
	schema := ToolSchema()
	maxTokens := int64(e.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(e.cfg.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(c))),
		},
		Tools: []anthropic.ToolUnionParam{{OfTool: &anthropic.ToolParam{
			Name:        ToolName,
			Description: anthropic.String(toolDescription),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   schema["required"].([]string),
			},
		}}},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}},
	}
}

// Extract implements Extractor.
func (e *AnthropicExtractor) Extract(ctx context.Context, c Chunk) ([]WritePlan, error) {
	params := e.params(c)

	var msg *anthropic.Message
	err := e.caller.do(ctx, func() error {
		m, err := e.client.Messages.New(ctx, params)
		if err != nil {
			return classifyAnthropicError(err)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, extractionError(ReasonRequestFailed, err)
	}

	var calls []toolCall
	for _, blockUnion := range msg.Content {
		block, ok := blockUnion.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		args, err := json.Marshal(block.Input)
		if err != nil {
			return nil, extractionError(ReasonParseFailed, err)
		}
		calls = append(calls, toolCall{Name: block.Name, Args: args})
	}
	e.logger.Debug().Str("source_path", c.SourcePath).Int("chunk_index", c.Index).Int("tool_calls", len(calls)).Msg("chunk extracted")
	return plansFromCalls(calls, c.Text)
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
		return backoff.Permanent(err)
	}
	return err
}

// Package extract turns ingestion chunks into memory write plans using a
// tool-calling language model.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memkeeper/internal/model"
)

// ErrExtraction is returned when a model call fails or its tool calls cannot
// be turned into write plans.
var ErrExtraction = goerr.New("extraction failed")

// ToolName is the only tool the model is allowed to call.
const ToolName = "memory_write"

// Failure reasons carried in extraction errors and ingestion diagnostics.
const (
	ReasonParseFailed   = "ingestion_chunk_llm_parse_failed"
	ReasonRequestFailed = "ingestion_chunk_llm_request_failed"
	ReasonNoToolCalls   = "ingestion_chunk_llm_no_tool_calls"
)

// LLMTag is added to every plan produced by a model.
const LLMTag = "ingestion_llm"

const systemPrompt = "Extract durable semantic memories from each chunk and emit only memory_write tool calls."

const toolDescription = "Persist one durable memory extracted from the chunk."

// Chunk is the unit handed to an extractor.
type Chunk struct {
	SourcePath    string
	Index         int
	Text          string
	Extension     string
	CheckpointKey string
}

// WritePlan describes one record to write for a chunk.
type WritePlan struct {
	MemoryID   string
	Summary    string
	Tags       []string
	Facts      []string
	MemoryType model.MemoryType
	Importance *float64
}

// Extractor produces write plans for a chunk.
type Extractor interface {
	Extract(ctx context.Context, c Chunk) ([]WritePlan, error)
}

// ToolSchema returns the JSON schema of the memory_write tool parameters.
func ToolSchema() map[string]any {
	types := make([]string, 0, len(model.MemoryTypes))
	for _, t := range model.MemoryTypes {
		types = append(types, string(t))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"memory_id":   map[string]any{"type": "string"},
			"summary":     map[string]any{"type": "string"},
			"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"facts":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"memory_type": map[string]any{"type": "string", "enum": types},
			"importance":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []string{"summary"},
	}
}

func userPrompt(c Chunk) string {
	return fmt.Sprintf("source_path=%s\nchunk_index=%d\nchunk_text:\n%s", c.SourcePath, c.Index, c.Text)
}

func extractionError(reason string, cause error, values ...goerr.Option) error {
	if cause == nil {
		return goerr.Wrap(ErrExtraction, reason, values...)
	}
	return fmt.Errorf("%w: %s: %w", ErrExtraction, reason, cause)
}

type memoryWriteArgs struct {
	MemoryID   string   `json:"memory_id"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	Facts      []string `json:"facts"`
	MemoryType string   `json:"memory_type"`
	Importance *float64 `json:"importance"`
}

// ParseMemoryWrite strictly decodes memory_write arguments. A plan without
// facts stores the chunk text.
func ParseMemoryWrite(args []byte, chunkText string) (WritePlan, error) {
	var a memoryWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return WritePlan{}, extractionError(ReasonParseFailed, err)
	}

	plan := WritePlan{
		MemoryID:   strings.TrimSpace(a.MemoryID),
		Summary:    strings.TrimSpace(a.Summary),
		MemoryType: model.TypeFact,
		Importance: a.Importance,
	}
	if plan.Summary == "" {
		return WritePlan{}, extractionError(ReasonParseFailed, nil, goerr.V("field", "summary"))
	}

	for _, tag := range a.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return WritePlan{}, extractionError(ReasonParseFailed, nil, goerr.V("field", "tags"))
		}
		plan.Tags = append(plan.Tags, tag)
	}
	plan.Tags = append(plan.Tags, LLMTag)

	for _, fact := range a.Facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			return WritePlan{}, extractionError(ReasonParseFailed, nil, goerr.V("field", "facts"))
		}
		plan.Facts = append(plan.Facts, fact)
	}
	if len(plan.Facts) == 0 {
		plan.Facts = []string{chunkText}
	}

	if a.MemoryType != "" {
		t, ok := model.ParseMemoryType(a.MemoryType)
		if !ok {
			return WritePlan{}, extractionError(ReasonParseFailed, nil, goerr.V("memory_type", a.MemoryType))
		}
		plan.MemoryType = t
	}

	if imp := a.Importance; imp != nil {
		if math.IsNaN(*imp) || math.IsInf(*imp, 0) || *imp < 0 || *imp > 1 {
			return WritePlan{}, extractionError(ReasonParseFailed, nil, goerr.V("importance", *imp))
		}
	}
	return plan, nil
}

// toolCall is a provider-neutral view of one tool invocation.
type toolCall struct {
	Name string
	Args []byte
}

// plansFromCalls parses every memory_write call. Calls to other tools are
// ignored; a response without any memory_write call is an error.
func plansFromCalls(calls []toolCall, chunkText string) ([]WritePlan, error) {
	var plans []WritePlan
	for _, call := range calls {
		if call.Name != ToolName {
			continue
		}
		plan, err := ParseMemoryWrite(call.Args, chunkText)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if len(plans) == 0 {
		return nil, extractionError(ReasonNoToolCalls, nil, goerr.V("tool_calls", len(calls)))
	}
	return plans, nil
}

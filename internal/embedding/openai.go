package embedding

import (
	"context"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder uses any OpenAI-compatible embeddings endpoint. Returned
// vectors are folded to the configured width.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAI creates an embedder for cfg. An empty base URL uses the public
// OpenAI API.
func NewOpenAI(cfg Config) *OpenAIEmbedder {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "embedding request failed", goerr.V("model", e.model))
	}
	if len(resp.Data) != 1 {
		return nil, goerr.New("embedding response size mismatch", goerr.V("expected", 1), goerr.V("got", len(resp.Data)))
	}
	return Resize(resp.Data[0].Embedding, e.dims), nil
}

func (e *OpenAIEmbedder) Dims() int      { return e.dims }
func (e *OpenAIEmbedder) Source() string { return SourceProvider }

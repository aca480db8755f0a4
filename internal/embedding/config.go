package embedding

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog"
)

// Provider names.
const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderOllama           = "ollama"
)

// Config selects the embedding provider. An empty provider uses hash
// embeddings only.
type Config struct {
	Provider   string        `json:"provider" yaml:"provider" koanf:"provider" validate:"omitempty,oneof=openai openai-compatible ollama"`
	Model      string        `json:"model" yaml:"model" koanf:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url" koanf:"base_url"`
	APIKey     string        `json:"-" yaml:"api_key" koanf:"api_key"`
	Dimensions int           `json:"dimensions" yaml:"dimensions" koanf:"dimensions" validate:"gt=0"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" koanf:"timeout"`
}

// DefaultConfig returns hash-only embedding defaults.
func DefaultConfig() Config {
	return Config{Dimensions: DefaultDimensions, Timeout: 30 * time.Second}
}

// New builds the embedder named by cfg.Provider. Provider embedders are
// wrapped so a failed request falls back to the hash embedding.
// The API key falls back to OPENAI_API_KEY, the Ollama base URL to OLLAMA_HOST.
func New(cfg Config, logger zerolog.Logger) (Embedder, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	logger = logger.With().Str("component", "embedding").Str("provider", cfg.Provider).Logger()

	switch cfg.Provider {
	case "":
		return NewHash(cfg.Dimensions), nil
	case ProviderOpenAI, ProviderOpenAICompatible:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.Model == "" {
			cfg.Model = "text-embedding-3-small"
		}
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OLLAMA_HOST")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		cfg.BaseURL += "/v1"
		if cfg.Model == "" {
			cfg.Model = "nomic-embed-text"
		}
	default:
		return nil, goerr.New("unknown embedding provider", goerr.V("provider", cfg.Provider))
	}
	return NewFallback(NewOpenAI(cfg), logger), nil
}

// Fallback embeds with a primary embedder and answers with the hash
// embedding when the primary fails or returns an empty vector.
type Fallback struct {
	primary Embedder
	hash    *HashEmbedder
	logger  zerolog.Logger
}

// NewFallback wraps primary.
func NewFallback(primary Embedder, logger zerolog.Logger) *Fallback {
	return &Fallback{primary: primary, hash: NewHash(primary.Dims()), logger: logger}
}

// Embed never fails; Compute reports which backend answered.
func (f *Fallback) Embed(ctx context.Context, text string) (Vector, error) {
	v, _ := f.Compute(ctx, text)
	return v, nil
}

// Compute returns the vector and the source that produced it.
func (f *Fallback) Compute(ctx context.Context, text string) (Vector, string) {
	v, err := f.primary.Embed(ctx, text)
	if err == nil && !IsZero(v) {
		return v, f.primary.Source()
	}
	f.logger.Warn().Err(err).Msg("embedding provider failed, using hash embedding")
	return Hash(text, f.hash.dims), SourceHash
}

func (f *Fallback) Dims() int { return f.primary.Dims() }

// Source names the primary backend; Compute reports the backend per call.
func (f *Fallback) Source() string { return f.primary.Source() }

// Compute embeds text with e and reports the source of the vector. A
// Fallback reports per call; other embedders report their own source.
// An error from a plain embedder is returned as is.
func Compute(ctx context.Context, e Embedder, text string) (Vector, string, error) {
	if fb, ok := e.(*Fallback); ok {
		v, src := fb.Compute(ctx, text)
		return v, src, nil
	}
	v, err := e.Embed(ctx, text)
	if err != nil {
		return nil, "", err
	}
	return v, e.Source(), nil
}

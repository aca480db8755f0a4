package extract

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config selects and tunes the extraction model.
type Config struct {
	Provider             string        `json:"provider" yaml:"provider" koanf:"provider" validate:"omitempty,oneof=openai anthropic"`
	Model                string        `json:"model" yaml:"model" koanf:"model"`
	BaseURL              string        `json:"base_url" yaml:"base_url" koanf:"base_url"`
	APIKey               string        `json:"-" yaml:"api_key" koanf:"api_key"`
	MaxTokens            int           `json:"max_tokens" yaml:"max_tokens" koanf:"max_tokens" validate:"gte=0"`
	RequestsPerSecond    float64       `json:"requests_per_second" yaml:"requests_per_second" koanf:"requests_per_second" validate:"gte=0"`
	Burst                int           `json:"burst" yaml:"burst" koanf:"burst" validate:"gte=0"`
	MaxRetries           int           `json:"max_retries" yaml:"max_retries" koanf:"max_retries" validate:"gte=0"`
	RetryInitialInterval time.Duration `json:"retry_initial_interval" yaml:"retry_initial_interval" koanf:"retry_initial_interval"`
	Timeout              time.Duration `json:"timeout" yaml:"timeout" koanf:"timeout"`
}

// DefaultConfig returns extraction defaults. Extraction is disabled until a
// provider is set.
func DefaultConfig() Config {
	return Config{
		MaxTokens:            1024,
		RequestsPerSecond:    1,
		Burst:                1,
		MaxRetries:           3,
		RetryInitialInterval: time.Second,
		Timeout:              60 * time.Second,
	}
}

// New builds the extractor named by cfg.Provider. An empty provider disables
// extraction and returns nil.
// The API key falls back to OPENAI_API_KEY or ANTHROPIC_API_KEY.
func New(cfg Config, logger zerolog.Logger) (Extractor, error) {
	logger = logger.With().Str("component", "extract").Str("provider", cfg.Provider).Logger()
	switch cfg.Provider {
	case "":
		return nil, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		return NewOpenAI(cfg, logger), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if cfg.APIKey == "" {
			return nil, goerr.New("anthropic api key is required")
		}
		if cfg.Model == "" {
			cfg.Model = "claude-3-5-haiku-latest"
		}
		return NewAnthropic(cfg, logger), nil
	default:
		return nil, goerr.New("unknown extraction provider", goerr.V("provider", cfg.Provider))
	}
}

// Package llm defines the model provider boundary. The decision loop
// consults a local language model exclusively through the Provider
// interface; concrete backends live in subpackages (ollama) and are
// selected at startup.
package llm

import (
	"context"
	"time"
)

// ModelInfo describes one model known to the provider.
type ModelInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
	Loaded     bool      `json:"loaded"`
}

// GenerateRequest is one completion request.
type GenerateRequest struct {
	// Prompt is the fully composed prompt text.
	Prompt string

	// ModelID selects the model. Empty uses the provider default.
	ModelID string

	// MaxTokens bounds the completion length. Zero uses the provider
	// default.
	MaxTokens int

	// Temperature tunes sampling. The decision loop uses ~0.3 so
	// structured output stays parseable.
	Temperature float64

	// Options carries provider-specific knobs untouched.
	Options map[string]any
}

// GenerateResponse is the provider's answer plus usage accounting.
type GenerateResponse struct {
	Text       string `json:"text"`
	ModelID    string `json:"model_id"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMS  int64  `json:"latency_ms"`
}

// Provider is the model backend contract. Implementations must be safe
// for concurrent use; the scheduler's workers share one provider.
type Provider interface {
	// Name identifies the backend (ollama, stub).
	Name() string

	// ListModels returns every model the backend can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Load makes a model resident so Generate does not pay a cold start.
	Load(ctx context.Context, modelID string) error

	// Unload releases a resident model.
	Unload(ctx context.Context, modelID string) error

	// IsLoaded reports whether the model is resident.
	IsLoaded(ctx context.Context, modelID string) (bool, error)

	// Generate runs one completion.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

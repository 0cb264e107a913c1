package ollama

// Package ollama speaks the Ollama HTTP API. It is the reference
// Provider for local-first operation: no API key, models served from
// the user's own machine.
//
// Endpoints used:
//   GET  /api/tags      list installed models
//   GET  /api/ps        list resident (loaded) models
//   POST /api/generate  one-shot completion; keep_alive 0 unloads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/llm"
	"github.com/cerebric/cerebric/internal/metrics"
)

// Config tunes the client.
type Config struct {
	// Endpoint is the Ollama base URL.
	Endpoint string

	// Model is the default model when requests name none.
	Model string

	// Timeout bounds each HTTP call.
	Timeout time.Duration
}

func (c Config) normalized() Config {
	c.Endpoint = strings.TrimSuffix(strings.TrimSpace(c.Endpoint), "/")
	c.Model = strings.TrimSpace(c.Model)
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "llama3.1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// Client implements llm.Provider over an Ollama instance.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// New creates a client. The endpoint is not probed here; the capability
// registry health-checks it at startup.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.normalized()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

func (c *Client) Name() string { return "ollama" }

// DefaultModel returns the configured default model id.
func (c *Client) DefaultModel() string { return c.cfg.Model }

type tagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	var tags tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}
	loaded, err := c.residentModels(ctx)
	if err != nil {
		// Residency is cosmetic for a listing; degrade rather than fail.
		c.log.Debug("resident model query failed", zap.Error(err))
		loaded = map[string]bool{}
	}

	models := make([]llm.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, llm.ModelInfo{
			ID:         m.Name,
			Name:       m.Name,
			SizeBytes:  m.Size,
			ModifiedAt: m.ModifiedAt,
			Loaded:     loaded[m.Name],
		})
	}
	return models, nil
}

// Load makes the model resident by issuing an empty-prompt generate,
// which Ollama documents as the warm-up call.
func (c *Client) Load(ctx context.Context, modelID string) error {
	if modelID == "" {
		modelID = c.cfg.Model
	}
	known, err := c.knownModel(ctx, modelID)
	if err != nil {
		return &llm.ModelLoadError{ModelID: modelID, Err: err}
	}
	if !known {
		return &llm.ModelNotFoundError{ModelID: modelID}
	}
	payload := map[string]any{"model": modelID, "stream": false}
	var out struct{}
	if err := c.postJSON(ctx, "/api/generate", payload, &out); err != nil {
		return &llm.ModelLoadError{ModelID: modelID, Err: err}
	}
	return nil
}

// Unload releases the model by generating with keep_alive zero.
func (c *Client) Unload(ctx context.Context, modelID string) error {
	if modelID == "" {
		modelID = c.cfg.Model
	}
	payload := map[string]any{"model": modelID, "stream": false, "keep_alive": 0}
	var out struct{}
	return c.postJSON(ctx, "/api/generate", payload, &out)
}

func (c *Client) IsLoaded(ctx context.Context, modelID string) (bool, error) {
	if modelID == "" {
		modelID = c.cfg.Model
	}
	loaded, err := c.residentModels(ctx)
	if err != nil {
		return false, err
	}
	return loaded[modelID], nil
}

type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
	// prompt_eval_count counts input tokens; both feed TokensUsed.
	PromptEvalCount int `json:"prompt_eval_count"`
}

func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.cfg.Model
	}

	options := map[string]any{}
	for k, v := range req.Options {
		options[k] = v
	}
	options["temperature"] = req.Temperature
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	payload := map[string]any{
		"model":   modelID,
		"prompt":  req.Prompt,
		"stream":  false,
		"options": options,
	}

	started := time.Now()
	var out generateResponse
	if err := c.postJSON(ctx, "/api/generate", payload, &out); err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(c.Name(), modelID, "error").Inc()
		return nil, &llm.GenerationError{ModelID: modelID, Err: err}
	}
	latency := time.Since(started)

	if strings.TrimSpace(out.Response) == "" {
		metrics.LLMRequestsTotal.WithLabelValues(c.Name(), modelID, "error").Inc()
		return nil, &llm.GenerationError{ModelID: modelID, Err: fmt.Errorf("empty response")}
	}

	metrics.LLMRequestsTotal.WithLabelValues(c.Name(), modelID, "ok").Inc()
	metrics.LLMRequestDuration.WithLabelValues(c.Name(), modelID).Observe(latency.Seconds())

	return &llm.GenerateResponse{
		Text:       out.Response,
		ModelID:    out.Model,
		TokensUsed: out.EvalCount + out.PromptEvalCount,
		LatencyMS:  latency.Milliseconds(),
	}, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	var tags tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.cfg.Endpoint, err)
	}
	return nil
}

func (c *Client) knownModel(ctx context.Context, modelID string) (bool, error) {
	var tags tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		return false, err
	}
	for _, m := range tags.Models {
		if m.Name == modelID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) residentModels(ctx context.Context) (map[string]bool, error) {
	var ps struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/ps", &ps); err != nil {
		return nil, err
	}
	loaded := make(map[string]bool, len(ps.Models))
	for _, m := range ps.Models {
		loaded[m.Name] = true
	}
	return loaded, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 240 {
			msg = msg[:240]
		}
		return fmt.Errorf("ollama request failed (%d): %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ollama response parse error: %w", err)
	}
	return nil
}

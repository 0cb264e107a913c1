package llm

import (
	"context"
	"sync"
	"time"
)

// StubProvider is an in-process backend for tests and offline runs. It
// replies from a caller-supplied function, or with a canned refusal
// when none is set, and tracks load state in memory.
type StubProvider struct {
	// Reply produces the completion for a request. Nil yields a
	// conservative skip decision so the loop remains exercisable
	// without a model.
	Reply func(req GenerateRequest) (string, error)

	mu     sync.Mutex
	loaded map[string]bool
	calls  int
}

// NewStubProvider returns a stub with the given reply function.
func NewStubProvider(reply func(req GenerateRequest) (string, error)) *StubProvider {
	return &StubProvider{Reply: reply, loaded: make(map[string]bool)}
}

const stubFallback = `{"step": 1, "action": "skip", "confidence": 0.0, "reasoning": "stub provider has no reply configured", "requires_approval": true, "risk_level": "high"}`

func (p *StubProvider) Name() string { return "stub" }

func (p *StubProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "stub", Name: "stub", Loaded: true}}, nil
}

func (p *StubProvider) Load(ctx context.Context, modelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded == nil {
		p.loaded = make(map[string]bool)
	}
	p.loaded[modelID] = true
	return nil
}

func (p *StubProvider) Unload(ctx context.Context, modelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loaded, modelID)
	return nil
}

func (p *StubProvider) IsLoaded(ctx context.Context, modelID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[modelID], nil
}

func (p *StubProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	text := stubFallback
	if p.Reply != nil {
		t, err := p.Reply(req)
		if err != nil {
			return nil, err
		}
		text = t
	}
	return &GenerateResponse{
		Text:       text,
		ModelID:    req.ModelID,
		TokensUsed: len(text) / 4,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}

func (p *StubProvider) HealthCheck(ctx context.Context) error { return nil }

// Calls reports how many Generate invocations the stub served.
func (p *StubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

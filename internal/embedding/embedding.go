// Package embedding turns text into vectors for concept identity and
// trigger matching.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// provider's dimension.
var ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api", "local" or empty to disable
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	// TimeoutSeconds bounds a single embedding request. Zero means 10s.
	TimeoutSeconds int `json:"timeout_seconds"`
}

const defaultTimeout = 10 * time.Second

// NewProvider builds the provider named by cfg.Provider. It returns nil,
// nil when embeddings are disabled.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "local":
		if cfg.Endpoint == "" {
			cfg.Endpoint = "http://localhost:11434"
		}
		return NewLocalProvider(cfg), nil
	case "api":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedding: api provider needs an endpoint")
		}
		return NewAPIProvider(cfg), nil
	}
	return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
}

func httpClient(cfg Config) *http.Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// dimGuard pins a provider to one vector length: the configured dimension,
// or the length of the first vector seen when none is configured.
type dimGuard struct {
	mu  sync.Mutex
	dim int
}

func (g *dimGuard) check(vecs [][]float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, v := range vecs {
		if g.dim == 0 {
			g.dim = len(v)
		}
		if len(v) != g.dim {
			return fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(v), g.dim)
		}
	}
	return nil
}

// Dimension returns the pinned vector length, or 0 before the first vector
// when none was configured.
func (g *dimGuard) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}

package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Port adapts a Provider to the memory core. It embeds one text at a time
// and turns every failure, including a panicking provider, into an explicit
// absence so callers fall back to lexical matching.
type Port struct {
	provider Provider
	logger   *zap.Logger
}

// NewPort wraps provider. A nil provider yields a Port that is never active.
func NewPort(provider Provider, logger *zap.Logger) *Port {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Port{provider: provider, logger: logger}
}

// Embed returns the vector for text, or false when the capability is
// unavailable or failed.
func (p *Port) Embed(ctx context.Context, text string) (vec []float32, ok bool) {
	if p == nil || p.provider == nil {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("embedding provider panicked",
				zap.String("provider", p.provider.Name()),
				zap.Error(fmt.Errorf("%v", r)))
			vec, ok = nil, false
		}
	}()

	out, err := p.provider.Embed(ctx, []string{text})
	if err != nil {
		p.logger.Warn("embedding unavailable, using lexical fallback",
			zap.String("provider", p.provider.Name()),
			zap.Error(err))
		return nil, false
	}
	if len(out) == 0 || len(out[0]) == 0 {
		return nil, false
	}
	if dim := p.provider.Dimension(); dim > 0 && len(out[0]) != dim {
		p.logger.Warn("embedding has wrong dimension, using lexical fallback",
			zap.String("provider", p.provider.Name()),
			zap.Int("got", len(out[0])),
			zap.Int("want", dim))
		return nil, false
	}
	return out[0], true
}

// Name returns the provider name, or "none".
func (p *Port) Name() string {
	if p == nil || p.provider == nil {
		return "none"
	}
	return p.provider.Name()
}

// Active reports whether a provider is configured.
func (p *Port) Active() bool {
	return p != nil && p.provider != nil
}

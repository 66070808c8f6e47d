// Package replicate pushes one verified export of a memory system to every
// configured sink: the bundle archive, the peer bus, the graph mirror and
// the vector index.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mer/internal/memory"
)

// ErrNoSinks is returned by Run when nothing is configured.
var ErrNoSinks = errors.New("replicate: no sinks configured")

// Source is the part of memory.System a replicator reads.
type Source interface {
	Export() (string, error)
	Snapshot() memory.Snapshot
}

// Payload is one consistent capture of a system.
type Payload struct {
	NodeID    string
	SessionID string
	Digest    string
	Bundle    string
	Info      memory.BundleInfo
	Concepts  []memory.ConceptNode
}

// Sink receives payloads.
type Sink interface {
	Name() string
	Push(ctx context.Context, p *Payload) error
}

// Result is the outcome of one sink.
type Result struct {
	Sink     string        `json:"sink"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report describes one replication run.
type Report struct {
	NodeID  string    `json:"node_id"`
	Digest  string    `json:"digest"`
	At      time.Time `json:"at"`
	Results []Result  `json:"results"`
}

// Failed returns the number of sinks that reported an error.
func (r *Report) Failed() int {
	var n int
	for _, res := range r.Results {
		if !res.OK {
			n++
		}
	}
	return n
}

// Replicator fans a capture out to its sinks.
type Replicator struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.Mutex
	lastDigest string
}

// New creates a Replicator. Each sink push is bounded by timeout; zero
// means 30s.
func New(sinks []Sink, timeout time.Duration, logger *zap.Logger) *Replicator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replicator{sinks: sinks, timeout: timeout, logger: logger}
}

// Sinks returns the configured sink names.
func (r *Replicator) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}

// Capture exports src and verifies the result. The caller must hold
// whatever lock serialises access to src.
func Capture(src Source) (*Payload, error) {
	raw, err := src.Export()
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	info, err := memory.VerifyBundle(raw)
	if err != nil {
		return nil, fmt.Errorf("verify export: %w", err)
	}
	snap := src.Snapshot()
	return &Payload{
		NodeID:    snap.NodeID,
		SessionID: snap.SessionID,
		Digest:    info.Digest,
		Bundle:    raw,
		Info:      info,
		Concepts:  snap.Concepts,
	}, nil
}

// Run captures src while holding lock, releases it and pushes the capture
// to every sink concurrently. A failing sink is reported; the others still
// run.
func (r *Replicator) Run(ctx context.Context, lock sync.Locker, src Source) (*Report, error) {
	if len(r.sinks) == 0 {
		return nil, ErrNoSinks
	}

	lock.Lock()
	p, err := Capture(src)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	report := r.Push(ctx, p)
	if report.Failed() == 0 {
		r.mu.Lock()
		r.lastDigest = p.Digest
		r.mu.Unlock()
	}
	return report, nil
}

// Push sends p to every sink and collects the outcomes in sink order.
func (r *Replicator) Push(ctx context.Context, p *Payload) *Report {
	report := &Report{
		NodeID:  p.NodeID,
		Digest:  p.Digest,
		At:      time.Now().UTC(),
		Results: make([]Result, len(r.sinks)),
	}

	var wg sync.WaitGroup
	for i, s := range r.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			err := s.Push(sctx, p)
			res := Result{Sink: s.Name(), OK: err == nil, Duration: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
				r.logger.Warn("replication sink failed",
					zap.String("sink", s.Name()),
					zap.String("digest", p.Digest),
					zap.Error(err))
			}
			report.Results[i] = res
		}(i, s)
	}
	wg.Wait()

	r.logger.Info("replication complete",
		zap.String("node", p.NodeID),
		zap.String("digest", p.Digest),
		zap.Int("sinks", len(r.sinks)),
		zap.Int("failed", report.Failed()))
	return report
}

// Loop replicates every interval until ctx is done. A tick whose export
// has the same digest as the last fully successful run is skipped.
func (r *Replicator) Loop(ctx context.Context, interval time.Duration, lock sync.Locker, src Source) {
	if interval <= 0 || len(r.sinks) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lock.Lock()
			p, err := Capture(src)
			lock.Unlock()
			if err != nil {
				r.logger.Error("periodic capture failed", zap.Error(err))
				continue
			}

			r.mu.Lock()
			unchanged := p.Digest == r.lastDigest
			r.mu.Unlock()
			if unchanged {
				r.logger.Debug("state unchanged, skipping replication", zap.String("digest", p.Digest))
				continue
			}

			if report := r.Push(ctx, p); report.Failed() == 0 {
				r.mu.Lock()
				r.lastDigest = p.Digest
				r.mu.Unlock()
			}
		}
	}
}

// Package memory implements a reconstructible memory substrate: a graph of
// compressed concepts with Hebbian connections, phrase triggers that
// reactivate them, and per-encoding episodes. The whole state travels as
// compact lossy seeds inside a digest-verified bundle.
//
// A System is not safe for concurrent use. Callers that share one across
// goroutines must serialise access themselves.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Embedder is the embedding capability the system consumes. Embed returns
// a vector and true, or nil and false when no embedding is available; it
// never reports failures.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
	Name() string
	Active() bool
}

// Options configures a System.
type Options struct {
	NodeID        string
	TriggerPolicy CollisionPolicy
}

// DefaultOptions returns the options used for zero-valued fields.
func DefaultOptions() Options {
	return Options{
		NodeID:        "node-local",
		TriggerPolicy: LastWriteWins,
	}
}

// System owns one concept graph, trigger table and episode log.
type System struct {
	nodeID    string
	embedder  Embedder
	concepts  map[string]*ConceptNode
	triggers  *TriggerTable
	episodes  []*Episode
	sessionID string
	clock     float64
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an empty system. A nil embedder means embeddings are never
// available and every path uses lexical fallbacks.
func New(opts Options, embedder Embedder, logger *zap.Logger) *System {
	def := DefaultOptions()
	if opts.NodeID == "" {
		opts.NodeID = def.NodeID
	}
	if opts.TriggerPolicy == "" {
		opts.TriggerPolicy = def.TriggerPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{
		nodeID:    opts.NodeID,
		embedder:  embedder,
		concepts:  make(map[string]*ConceptNode),
		triggers:  NewTriggerTable(opts.TriggerPolicy),
		sessionID: newID(),
		logger:    logger,
		now:       time.Now,
	}
	s.clock = unixSeconds(s.now())
	return s
}

// NodeID returns the identifier of the owning node.
func (s *System) NodeID() string { return s.nodeID }

// SessionID returns the current session identifier.
func (s *System) SessionID() string { return s.sessionID }

// Clock returns the logical clock.
func (s *System) Clock() float64 { return s.clock }

// Concept returns the node stored under id.
func (s *System) Concept(id string) (*ConceptNode, bool) {
	n, ok := s.concepts[id]
	return n, ok
}

// Trigger returns the trigger stored under token.
func (s *System) Trigger(token string) (*Trigger, bool) { return s.triggers.Get(token) }

// Episodes returns the episode log in temporal order.
func (s *System) Episodes() []*Episode { return s.episodes }

// ConceptIDs returns all concept ids, sorted.
func (s *System) ConceptIDs() []string {
	ids := make([]string, 0, len(s.concepts))
	for id := range s.concepts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Statistics summarises the current state.
type Statistics struct {
	ConceptCount            int     `json:"concept_count"`
	TriggerCount            int     `json:"trigger_count"`
	EpisodeCount            int     `json:"episode_count"`
	EpisodesWithAttribution int     `json:"episodes_with_attribution"`
	AvgFanout               float64 `json:"avg_fanout"`
	EmbeddingActive         bool    `json:"embedding_capability_active"`
}

// Statistics returns counts over the graph, triggers and episodes.
func (s *System) Statistics() Statistics {
	st := Statistics{
		ConceptCount:    len(s.concepts),
		TriggerCount:    s.triggers.Len(),
		EpisodeCount:    len(s.episodes),
		EmbeddingActive: s.embedder != nil && s.embedder.Active(),
	}
	for _, ep := range s.episodes {
		if ep.HasAttribution() {
			st.EpisodesWithAttribution++
		}
	}
	if len(s.concepts) > 0 {
		var edges int
		for _, n := range s.concepts {
			edges += len(n.Connections)
		}
		st.AvgFanout = float64(edges) / float64(len(s.concepts))
	}
	return st
}

// EmbeddingCapability returns the name of the embedding capability, or ""
// when none is configured.
func (s *System) EmbeddingCapability() string {
	if s.embedder == nil {
		return ""
	}
	return s.embedder.Name()
}

// Snapshot is a read-only copy of the concept graph.
type Snapshot struct {
	NodeID    string        `json:"node_id"`
	SessionID string        `json:"session_id"`
	Clock     float64       `json:"clock"`
	Concepts  []ConceptNode `json:"concepts"`
}

// Snapshot copies every concept, sorted by id.
func (s *System) Snapshot() Snapshot {
	snap := Snapshot{
		NodeID:    s.nodeID,
		SessionID: s.sessionID,
		Clock:     s.clock,
		Concepts:  make([]ConceptNode, 0, len(s.concepts)),
	}
	for _, id := range s.ConceptIDs() {
		snap.Concepts = append(snap.Concepts, s.concepts[id].Clone())
	}
	return snap
}

func (s *System) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, ok := s.embedder.Embed(ctx, text)
	if !ok || len(vec) == 0 {
		return nil
	}
	return vec
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

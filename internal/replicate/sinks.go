package replicate

import (
	"context"
	"time"

	"github.com/nidhogg/mer/internal/memory"
	"github.com/nidhogg/mer/internal/seedbus"
	"github.com/nidhogg/mer/internal/seedstore"
)

// BundleArchive is implemented by *seedstore.Store.
type BundleArchive interface {
	Save(ctx context.Context, rec seedstore.Record) (bool, error)
}

// BundlePublisher is implemented by *seedbus.Bus.
type BundlePublisher interface {
	Publish(ctx context.Context, msg *seedbus.Message) (string, error)
}

// GraphMirror is implemented by *graphstore.Store.
type GraphMirror interface {
	Sync(ctx context.Context, nodeID string, concepts []memory.ConceptNode) error
}

// VectorIndex is implemented by *vectorstore.Client.
type VectorIndex interface {
	IndexConcepts(ctx context.Context, collection, nodeID string, concepts []memory.ConceptNode) (int, error)
}

type archiveSink struct{ archive BundleArchive }

// ArchiveSink stores every payload bundle in PostgreSQL.
func ArchiveSink(a BundleArchive) Sink { return archiveSink{archive: a} }

func (archiveSink) Name() string { return "postgres" }

func (s archiveSink) Push(ctx context.Context, p *Payload) error {
	_, err := s.archive.Save(ctx, seedstore.Record{
		NodeID:    p.NodeID,
		SessionID: p.SessionID,
		Digest:    p.Digest,
		Bundle:    p.Bundle,
		Concepts:  p.Info.Concepts,
		Episodes:  p.Info.Episodes,
	})
	return err
}

type busSink struct{ bus BundlePublisher }

// BusSink publishes every payload bundle on the node's Redis stream.
func BusSink(b BundlePublisher) Sink { return busSink{bus: b} }

func (busSink) Name() string { return "redis" }

func (s busSink) Push(ctx context.Context, p *Payload) error {
	_, err := s.bus.Publish(ctx, &seedbus.Message{
		NodeID:      p.NodeID,
		SessionID:   p.SessionID,
		Digest:      p.Digest,
		Bundle:      p.Bundle,
		PublishedAt: time.Now().UTC(),
	})
	return err
}

type graphSink struct{ graph GraphMirror }

// GraphSink mirrors the concept graph into Neo4j.
func GraphSink(g GraphMirror) Sink { return graphSink{graph: g} }

func (graphSink) Name() string { return "neo4j" }

func (s graphSink) Push(ctx context.Context, p *Payload) error {
	return s.graph.Sync(ctx, p.NodeID, p.Concepts)
}

type vectorSink struct {
	index      VectorIndex
	collection string
}

// VectorSink indexes concept embeddings in Qdrant.
func VectorSink(v VectorIndex, collection string) Sink {
	return vectorSink{index: v, collection: collection}
}

func (vectorSink) Name() string { return "qdrant" }

func (s vectorSink) Push(ctx context.Context, p *Payload) error {
	_, err := s.index.IndexConcepts(ctx, s.collection, p.NodeID, p.Concepts)
	return err
}

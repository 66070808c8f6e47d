package graphstore

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mer/internal/memory"
)

func startStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("bolt url: %v", err)
	}
	s, err := NewStore(uri, "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

func concept(id string, valence float64, edges map[string]float64) memory.ConceptNode {
	n := memory.NewConceptNode(id, "essence "+id, valence)
	for target, w := range edges {
		n.Connections[target] = w
	}
	return *n
}

func TestSyncMirrorsGraph(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	graph := []memory.ConceptNode{
		concept("a", 0.5, map[string]float64{"b": 0.9, "c": 0.4, "dangling": 1}),
		concept("b", 0, map[string]float64{"a": 0.6}),
		concept("c", -0.5, nil),
	}
	if err := s.Sync(ctx, "node-a", graph); err != nil {
		t.Fatalf("sync: %v", err)
	}

	concepts, edges, err := s.Counts(ctx, "node-a")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if concepts != 3 || edges != 3 {
		t.Errorf("got %d concepts and %d edges, want 3 and 3", concepts, edges)
	}

	strong, err := s.StrongNeighbors(ctx, "node-a", "a", 0.5)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(strong) != 1 || strong[0].ID != "b" || strong[0].Essence != "essence b" {
		t.Errorf("got %+v", strong)
	}

	// A later sync replaces the mirror.
	if err := s.Sync(ctx, "node-a", graph[1:2]); err != nil {
		t.Fatalf("resync: %v", err)
	}
	concepts, edges, err = s.Counts(ctx, "node-a")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if concepts != 1 || edges != 0 {
		t.Errorf("after resync got %d concepts and %d edges", concepts, edges)
	}
}

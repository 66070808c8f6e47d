// Package graphstore mirrors a node's concept graph into Neo4j for
// inspection and graph queries. The in-process graph stays authoritative.
package graphstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mer/internal/memory"
)

// Store handles Neo4j operations for the concept graph mirror.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// Neighbor is a concept reachable over one CONNECTS edge.
type Neighbor struct {
	ID      string  `json:"id"`
	Essence string  `json:"essence"`
	Weight  float64 `json:"weight"`
}

// NewStore creates a new Neo4j graph store.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Sync replaces the mirror of nodeID with concepts in one write
// transaction. Edges whose target is not among concepts are not mirrored.
func (s *Store) Sync(ctx context.Context, nodeID string, concepts []memory.ConceptNode) error {
	ids := make([]any, 0, len(concepts))
	rows := make([]any, 0, len(concepts))
	known := make(map[string]struct{}, len(concepts))
	for _, c := range concepts {
		known[c.ID] = struct{}{}
	}

	var edges []any
	for _, c := range concepts {
		ids = append(ids, c.ID)
		rows = append(rows, map[string]any{
			"id":          c.ID,
			"essence":     c.Essence,
			"valence":     c.Valence,
			"activations": c.ActivationCount,
			"last":        c.LastActivation,
		})
		targets := make([]string, 0, len(c.Connections))
		for t := range c.Connections {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for _, t := range targets {
			if _, ok := known[t]; !ok {
				continue
			}
			edges = append(edges, map[string]any{"from": c.ID, "to": t, "weight": c.Connections[t]})
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MATCH (c:Concept {node_id: $node})
			 WHERE NOT c.id IN $ids
			 DETACH DELETE c`,
			map[string]any{"node": nodeID, "ids": ids}); err != nil {
			return nil, fmt.Errorf("prune concepts: %w", err)
		}
		if _, err := tx.Run(ctx,
			`MATCH (:Concept {node_id: $node})-[r:CONNECTS]->()
			 DELETE r`,
			map[string]any{"node": nodeID}); err != nil {
			return nil, fmt.Errorf("clear edges: %w", err)
		}
		if _, err := tx.Run(ctx,
			`UNWIND $rows AS row
			 MERGE (c:Concept {node_id: $node, id: row.id})
			 SET c.essence = row.essence, c.valence = row.valence,
			     c.activation_count = row.activations, c.last_activation = row.last,
			     c.synced_at = datetime()`,
			map[string]any{"node": nodeID, "rows": rows}); err != nil {
			return nil, fmt.Errorf("merge concepts: %w", err)
		}
		if _, err := tx.Run(ctx,
			`UNWIND $edges AS e
			 MATCH (a:Concept {node_id: $node, id: e.from})
			 MATCH (b:Concept {node_id: $node, id: e.to})
			 CREATE (a)-[:CONNECTS {weight: e.weight}]->(b)`,
			map[string]any{"node": nodeID, "edges": edges}); err != nil {
			return nil, fmt.Errorf("create edges: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync graph: %w", err)
	}

	s.logger.Info("concept graph mirrored",
		zap.String("node", nodeID),
		zap.Int("concepts", len(rows)),
		zap.Int("edges", len(edges)))
	return nil
}

// StrongNeighbors returns the concepts conceptID connects to with weight
// above minWeight, heaviest first.
func (s *Store) StrongNeighbors(ctx context.Context, nodeID, conceptID string, minWeight float64) ([]Neighbor, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Concept {node_id: $node, id: $id})-[r:CONNECTS]->(b:Concept)
		 WHERE r.weight > $min
		 RETURN b.id AS id, b.essence AS essence, r.weight AS weight
		 ORDER BY weight DESC, id ASC`,
		map[string]any{"node": nodeID, "id": conceptID, "min": minWeight})
	if err != nil {
		return nil, fmt.Errorf("strong neighbors: %w", err)
	}

	var out []Neighbor
	for result.Next(ctx) {
		rec := result.Record()
		var n Neighbor
		if v, ok := rec.Get("id"); ok && v != nil {
			n.ID = v.(string)
		}
		if v, ok := rec.Get("essence"); ok && v != nil {
			n.Essence = v.(string)
		}
		if v, ok := rec.Get("weight"); ok && v != nil {
			n.Weight = v.(float64)
		}
		out = append(out, n)
	}
	return out, result.Err()
}

// Counts returns the number of mirrored concepts and edges for nodeID.
func (s *Store) Counts(ctx context.Context, nodeID string) (concepts, edges int64, err error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (c:Concept {node_id: $node})
		 OPTIONAL MATCH (c)-[r:CONNECTS]->()
		 RETURN count(DISTINCT c) AS concepts, count(r) AS edges`,
		map[string]any{"node": nodeID})
	if err != nil {
		return 0, 0, fmt.Errorf("count graph: %w", err)
	}
	rec, err := result.Single(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count graph: %w", err)
	}
	if v, ok := rec.Get("concepts"); ok {
		concepts = v.(int64)
	}
	if v, ok := rec.Get("edges"); ok {
		edges = v.(int64)
	}
	return concepts, edges, nil
}

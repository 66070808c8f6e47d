package memory

import (
	"fmt"
	"sort"
	"strings"
)

// ConceptNode is the atomic compressed memory unit: a short essence, an
// emotional valence, and directed Hebbian connections to other concepts.
type ConceptNode struct {
	ID              string             `json:"id"`
	Essence         string             `json:"essence"`
	Valence         float64            `json:"valence"`
	Connections     map[string]float64 `json:"connections"`
	ActivationCount int                `json:"activation_count"`
	LastActivation  float64            `json:"last_activation"`
	Embedding       []float32          `json:"embedding,omitempty"`
}

// Edge is one weighted outgoing connection.
type Edge struct {
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// NewConceptNode creates a node with no connections and no activations.
func NewConceptNode(id, essence string, valence float64) *ConceptNode {
	return &ConceptNode{
		ID:          id,
		Essence:     truncateRunes(essence, maxEssenceLen),
		Valence:     valence,
		Connections: make(map[string]float64),
	}
}

// Activate records an activation at timestamp and decays every connection
// uniformly by the time elapsed since the node's previous activation.
// A node that was never activated decays from timestamp zero, which
// collapses any connection it already carries.
func (n *ConceptNode) Activate(timestamp float64) {
	decay := edgeDecay(timestamp - n.LastActivation)
	for id, w := range n.Connections {
		n.Connections[id] = clampWeight(w * decay)
	}
	n.ActivationCount++
	n.LastActivation = timestamp
}

// ConnectTo creates an edge of the given strength or, if one exists,
// reinforces it sub-linearly up to 1.0.
func (n *ConceptNode) ConnectTo(otherID string, strength float64) {
	if n.Connections == nil {
		n.Connections = make(map[string]float64)
	}
	if w, ok := n.Connections[otherID]; ok {
		n.Connections[otherID] = clampWeight(w + strength*reinforceRate)
		return
	}
	n.Connections[otherID] = clampWeight(strength)
}

// TopConnections returns up to k edges ordered by weight descending.
// Ties are broken by target id so the order is stable.
func (n *ConceptNode) TopConnections(k int) []Edge {
	edges := make([]Edge, 0, len(n.Connections))
	for id, w := range n.Connections {
		edges = append(edges, Edge{Target: id, Weight: w})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		return edges[i].Target < edges[j].Target
	})
	if k >= 0 && len(edges) > k {
		edges = edges[:k]
	}
	return edges
}

// Clone returns a deep copy.
func (n *ConceptNode) Clone() ConceptNode {
	c := *n
	c.Connections = make(map[string]float64, len(n.Connections))
	for id, w := range n.Connections {
		c.Connections[id] = w
	}
	if n.Embedding != nil {
		c.Embedding = append([]float32(nil), n.Embedding...)
	}
	return c
}

// Seed encodes the node as c1|id8|essence|valence|id8:w;id8:w;id8:w.
// Only the id prefix, the essence, the valence and the three strongest
// edges survive.
func (n *ConceptNode) Seed() string {
	edges := n.TopConnections(seedEdges)
	conns := make([]string, len(edges))
	for i, e := range edges {
		conns[i] = escapeField(shortID(e.Target)) + pairSep + formatFixed(e.Weight)
	}
	return strings.Join([]string{
		conceptSeedTag,
		escapeField(shortID(n.ID)),
		escapeField(truncateRunes(n.Essence, maxEssenceLen)),
		formatFixed(n.Valence),
		strings.Join(conns, edgeSep),
	}, fieldSep)
}

// ParseConceptSeed decodes a concept seed. An empty connections field is
// accepted; anything else missing or unparsable is ErrMalformedSeed.
func ParseConceptSeed(seed string) (*ConceptNode, error) {
	f, err := splitSeed(seed, conceptSeedTag, 4)
	if err != nil {
		return nil, err
	}
	id := unescapeField(f[0])
	if id == "" {
		return nil, fmt.Errorf("%w: concept seed without id", ErrMalformedSeed)
	}
	valence, err := parseFloatField("valence", f[2])
	if err != nil {
		return nil, err
	}
	node := NewConceptNode(id, unescapeField(f[1]), valence)
	if f[3] == "" {
		return node, nil
	}
	for _, conn := range strings.Split(f[3], edgeSep) {
		target, weight, ok := strings.Cut(conn, pairSep)
		if !ok || target == "" {
			return nil, fmt.Errorf("%w: connection %q", ErrMalformedSeed, conn)
		}
		w, err := parseFloatField("weight", weight)
		if err != nil {
			return nil, err
		}
		node.Connections[unescapeField(target)] = clampWeight(w)
	}
	return node, nil
}

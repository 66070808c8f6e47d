package memory

import (
	"fmt"
	"strconv"
	"strings"
)

// Episode is the compressed record of one encoding event.
type Episode struct {
	ID                 string   `json:"episode_id"`
	Timestamp          float64  `json:"timestamp"`
	AttributionID      string   `json:"attribution_id,omitempty"`
	ConceptIDs         []string `json:"concept_nodes"`
	EmotionalSignature float64  `json:"emotional_signature"`
	ComplexityScore    float64  `json:"complexity_score"`
}

// AddConcept appends id unless the episode already holds it.
func (e *Episode) AddConcept(id string) {
	for _, c := range e.ConceptIDs {
		if c == id {
			return
		}
	}
	e.ConceptIDs = append(e.ConceptIDs, id)
}

// HasAttribution reports whether the episode is linked to an external
// attribution record.
func (e *Episode) HasAttribution() bool { return e.AttributionID != "" }

// ComputeSignature sets the emotional signature to the mean valence of the
// concepts that resolve in graph and the complexity score to the distinct
// concept count divided by 100. An episode without concepts keeps zeros.
func (e *Episode) ComputeSignature(graph map[string]*ConceptNode) {
	if len(e.ConceptIDs) == 0 {
		return
	}
	var sum float64
	var resolved int
	for _, id := range e.ConceptIDs {
		if n, ok := graph[id]; ok {
			sum += n.Valence
			resolved++
		}
	}
	e.EmotionalSignature = 0
	if resolved > 0 {
		e.EmotionalSignature = sum / float64(resolved)
	}
	e.ComplexityScore = float64(len(e.ConceptIDs)) / 100
}

// Seed encodes the episode as
// e1|id|timestamp|signature|complexity|id8,...|attribution. Only the first
// ten concept ids are kept.
func (e *Episode) Seed() string {
	ids := e.ConceptIDs
	if len(ids) > seedEpisodeConcept {
		ids = ids[:seedEpisodeConcept]
	}
	attribution := noAttribution
	if e.HasAttribution() {
		attribution = escapeField(e.AttributionID)
	}
	return strings.Join([]string{
		episodeSeedTag,
		escapeField(e.ID),
		strconv.FormatFloat(e.Timestamp, 'f', -1, 64),
		formatFixed(e.EmotionalSignature),
		formatFixed(e.ComplexityScore),
		joinList(ids),
		attribution,
	}, fieldSep)
}

// ParseEpisodeSeed decodes an episode seed.
func ParseEpisodeSeed(seed string) (*Episode, error) {
	f, err := splitSeed(seed, episodeSeedTag, 6)
	if err != nil {
		return nil, err
	}
	id := unescapeField(f[0])
	if id == "" {
		return nil, fmt.Errorf("%w: episode seed without id", ErrMalformedSeed)
	}
	ts, err := parseFloatField("timestamp", f[1])
	if err != nil {
		return nil, err
	}
	sig, err := parseFloatField("emotional signature", f[2])
	if err != nil {
		return nil, err
	}
	cx, err := parseFloatField("complexity", f[3])
	if err != nil {
		return nil, err
	}
	if f[5] == "" {
		return nil, fmt.Errorf("%w: episode seed without attribution field", ErrMalformedSeed)
	}
	ep := &Episode{
		ID:                 id,
		Timestamp:          ts,
		ConceptIDs:         splitList(f[4]),
		EmotionalSignature: sig,
		ComplexityScore:    cx,
	}
	if f[5] != noAttribution {
		ep.AttributionID = unescapeField(f[5])
	}
	return ep, nil
}

package memory

import (
	"fmt"
	"sort"
	"strings"
)

// Tone classifies the mean valence of a recollection.
type Tone string

const (
	TonePositive Tone = "positive"
	ToneNegative Tone = "negative"
	ToneNeutral  Tone = "neutral"
)

const (
	headlineSize    = 5
	relationSources = 3
	relationsPer    = 2
	toneBand        = 0.3
	relationLabel   = 40
	provenanceLen   = 16
)

// UnavailableMessage is the recollection text when triggers fired but none
// of the activated concepts resolve in the graph.
const UnavailableMessage = "Concepts were activated but none are available in the graph."

// Relation lists the essences connected to one headline concept.
type Relation struct {
	Concept string   `json:"concept"`
	Related []string `json:"related"`
}

// Recollection is an approximate narrative reconstructed from activated
// concepts.
type Recollection struct {
	Tone        Tone       `json:"tone,omitempty"`
	MeanValence float64    `json:"mean_valence"`
	Headline    []string   `json:"headline,omitempty"`
	Relations   []Relation `json:"relations,omitempty"`
	Provenance  string     `json:"provenance,omitempty"`
	ConceptIDs  []string   `json:"concept_ids,omitempty"`
	Unavailable bool       `json:"unavailable,omitempty"`
	Text        string     `json:"text"`
}

func classifyTone(mean float64) Tone {
	switch {
	case mean > toneBand:
		return TonePositive
	case mean < -toneBand:
		return ToneNegative
	}
	return ToneNeutral
}

// synthesize resolves ids to nodes, drops the dangling ones and builds the
// recollection: tone from mean valence, the five highest-valence essences as
// headline, up to two related essences for each of the top three nodes, and
// the most recent attribution of any episode touching the activated set.
func (s *System) synthesize(ids map[string]struct{}) *Recollection {
	nodes := make([]*ConceptNode, 0, len(ids))
	for id := range ids {
		if n, ok := s.concepts[id]; ok {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return &Recollection{Unavailable: true, Text: UnavailableMessage}
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Valence != nodes[j].Valence {
			return nodes[i].Valence > nodes[j].Valence
		}
		return nodes[i].ID < nodes[j].ID
	})

	rec := &Recollection{ConceptIDs: make([]string, len(nodes))}
	var sum float64
	for i, n := range nodes {
		sum += n.Valence
		rec.ConceptIDs[i] = n.ID
	}
	rec.MeanValence = sum / float64(len(nodes))
	rec.Tone = classifyTone(rec.MeanValence)

	for _, n := range nodes[:min(headlineSize, len(nodes))] {
		rec.Headline = append(rec.Headline, n.Essence)
	}
	for _, n := range nodes[:min(relationSources, len(nodes))] {
		var related []string
		for _, e := range n.TopConnections(-1) {
			if other, ok := s.concepts[e.Target]; ok {
				related = append(related, other.Essence)
				if len(related) == relationsPer {
					break
				}
			}
		}
		if len(related) > 0 {
			rec.Relations = append(rec.Relations, Relation{Concept: n.Essence, Related: related})
		}
	}
	rec.Provenance = s.latestAttribution(ids)
	rec.Text = rec.render()
	return rec
}

// latestAttribution returns the attribution of the most recent attributed
// episode that touches any id in the set.
func (s *System) latestAttribution(ids map[string]struct{}) string {
	var latest *Episode
	for _, ep := range s.episodes {
		if !ep.HasAttribution() {
			continue
		}
		for _, id := range ep.ConceptIDs {
			if _, ok := ids[id]; ok {
				if latest == nil || ep.Timestamp >= latest.Timestamp {
					latest = ep
				}
				break
			}
		}
	}
	if latest == nil {
		return ""
	}
	return latest.AttributionID
}

func (r *Recollection) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reconstructed memory (%s tone):\n", r.Tone)
	b.WriteString(strings.Join(r.Headline, ", "))
	if len(r.Relations) > 0 {
		b.WriteString("\n\nRelations:")
		for _, rel := range r.Relations {
			fmt.Fprintf(&b, "\n  - %s <-> %s", truncateRunes(rel.Concept, relationLabel), strings.Join(rel.Related, ", "))
		}
	}
	if r.Provenance != "" {
		fmt.Fprintf(&b, "\n\n[attribution: %s...]", truncateRunes(r.Provenance, provenanceLen))
	}
	return b.String()
}

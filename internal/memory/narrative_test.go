package memory

import (
	"strings"
	"testing"
)

func TestClassifyTone(t *testing.T) {
	tests := []struct {
		mean float64
		want Tone
	}{
		{0.31, TonePositive},
		{0.3, ToneNeutral},
		{0, ToneNeutral},
		{-0.3, ToneNeutral},
		{-0.31, ToneNegative},
	}
	for _, tt := range tests {
		if got := classifyTone(tt.mean); got != tt.want {
			t.Errorf("mean %v: got %q, want %q", tt.mean, got, tt.want)
		}
	}
}

func TestSynthesizeSelectionRules(t *testing.T) {
	s := newTestSystem(t, nil)
	valences := map[string]float64{"a": 1, "b": 0.8, "c": 0.6, "d": 0.4, "e": 0.2, "f": 0, "g": -0.2}
	for id, v := range valences {
		s.concepts[id] = NewConceptNode(id, "essence "+id, v)
	}
	s.concepts["a"].Connections = map[string]float64{"f": 0.2, "g": 0.9, "missing": 1, "e": 0.5}
	s.concepts["b"].Connections = map[string]float64{"missing": 1}
	s.concepts["c"].Connections = map[string]float64{"a": 0.3}
	s.concepts["d"].Connections = map[string]float64{"a": 0.3}

	ids := map[string]struct{}{"dangling": {}}
	for id := range valences {
		ids[id] = struct{}{}
	}
	rec := s.synthesize(ids)

	if got := strings.Join(rec.Headline, ","); got != "essence a,essence b,essence c,essence d,essence e" {
		t.Errorf("got headline %q", got)
	}
	if len(rec.ConceptIDs) != 7 {
		t.Errorf("dangling id should be dropped, got %v", rec.ConceptIDs)
	}
	if rec.Tone != TonePositive {
		t.Errorf("got tone %q for mean %.3f", rec.Tone, rec.MeanValence)
	}
	if len(rec.Relations) != 2 {
		t.Fatalf("got relations %+v, want entries for a and c only", rec.Relations)
	}
	if rec.Relations[0].Concept != "essence a" || strings.Join(rec.Relations[0].Related, ",") != "essence g,essence e" {
		t.Errorf("got %+v", rec.Relations[0])
	}
	if rec.Relations[1].Concept != "essence c" {
		t.Errorf("node d is outside the top three, got %+v", rec.Relations[1])
	}
}

func TestSynthesizeNegativeTone(t *testing.T) {
	s := newTestSystem(t, nil)
	s.concepts["a"] = NewConceptNode("a", "fallo", -1)
	s.concepts["b"] = NewConceptNode("b", "riesgo", -0.5)
	rec := s.synthesize(map[string]struct{}{"a": {}, "b": {}})
	if rec.Tone != ToneNegative {
		t.Errorf("got tone %q", rec.Tone)
	}
	if rec.Headline[0] != "riesgo" {
		t.Errorf("headline should start with the highest valence, got %v", rec.Headline)
	}
}

func TestSynthesizeProvenanceUsesLatestAttribution(t *testing.T) {
	s := newTestSystem(t, nil)
	s.concepts["a"] = NewConceptNode("a", "uno", 0)
	s.concepts["b"] = NewConceptNode("b", "dos", 0)
	s.episodes = []*Episode{
		{ID: "1", Timestamp: 10, AttributionID: "older-attribution", ConceptIDs: []string{"a"}},
		{ID: "2", Timestamp: 30, AttributionID: "unrelated", ConceptIDs: []string{"z"}},
		{ID: "3", Timestamp: 20, AttributionID: "newest-touching-b", ConceptIDs: []string{"b"}},
		{ID: "4", Timestamp: 40, ConceptIDs: []string{"a"}},
	}

	rec := s.synthesize(map[string]struct{}{"a": {}, "b": {}})
	if rec.Provenance != "newest-touching-b" {
		t.Errorf("got provenance %q", rec.Provenance)
	}
	if !strings.Contains(rec.Text, "[attribution: newest-touching-...]") {
		t.Errorf("got text %q", rec.Text)
	}
}

func TestSynthesizeWithoutAttribution(t *testing.T) {
	s := newTestSystem(t, nil)
	s.concepts["a"] = NewConceptNode("a", "uno", 0)
	s.episodes = []*Episode{{ID: "1", ConceptIDs: []string{"a"}}}
	rec := s.synthesize(map[string]struct{}{"a": {}})
	if rec.Provenance != "" || strings.Contains(rec.Text, "attribution") {
		t.Errorf("got %+v", rec)
	}
}

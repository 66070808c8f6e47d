package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	minUnitLen       = 15 // sentence units and trigger phrases must be longer
	maxUnits         = 20
	quantizeDims     = 8
	hebbianWindow    = 3
	triggerWords     = 3
	maxPhraseRepeats = 2
	maxTriggers      = 5
	valenceWindow    = 100
	valenceProbeLen  = 20
	clockStep        = 1.0
)

var (
	positiveKeywords = []string{
		"excelente", "brillante", "fascinante", "perfecto",
		"exitoso", "logrado", "innovador", "soberano",
	}
	negativeKeywords = []string{
		"error", "fallo", "problema", "critico", "crítico",
		"riesgo", "centralizado", "privativo",
	}
)

type extracted struct {
	sentence string
	essence  string
	id       string
	vector   []float32
}

// Encode folds text into the graph and returns the id of the new episode.
// attributionID is optional; when set it links the episode to an external
// attribution record and its first 16 runes become the episode id.
// Embedding failures degrade to the lexical path and never abort encoding.
func (s *System) Encode(ctx context.Context, text, attributionID string) string {
	concepts := s.extractConcepts(ctx, text)

	ep := &Episode{
		ID:            episodeID(attributionID),
		Timestamp:     s.clock,
		AttributionID: attributionID,
	}

	var created int
	for i, c := range concepts {
		node, ok := s.concepts[c.id]
		if !ok {
			node = NewConceptNode(c.id, c.essence, estimateValence(c.essence, text))
			node.Embedding = s.conceptEmbedding(ctx, c)
			s.concepts[c.id] = node
			created++
		}
		node.Activate(s.clock)
		ep.AddConcept(c.id)

		lo, hi := max(0, i-hebbianWindow), min(len(concepts), i+hebbianWindow+1)
		for j := lo; j < hi; j++ {
			if j == i || concepts[j].id == c.id {
				continue
			}
			node.ConnectTo(concepts[j].id, 1.0/float64(abs(i-j)+1))
		}
	}

	var stored int
	for _, tr := range s.identifyTriggers(ctx, text, ep) {
		if s.triggers.Put(tr) {
			stored++
		}
	}

	ep.ComputeSignature(s.concepts)
	s.episodes = append(s.episodes, ep)
	s.clock += clockStep

	s.logger.Debug("encoded episode",
		zap.String("episode", ep.ID),
		zap.Int("concepts", len(ep.ConceptIDs)),
		zap.Int("new_concepts", created),
		zap.Int("triggers", stored),
		zap.Bool("attributed", ep.HasAttribution()))
	return ep.ID
}

// extractConcepts splits text on periods, keeps units longer than 15 runes
// and derives one concept per unit, at most 20. The id is a hash of the
// quantized embedding when one is available, else of the essence.
func (s *System) extractConcepts(ctx context.Context, text string) []extracted {
	var out []extracted
	for _, raw := range strings.Split(text, ".") {
		sentence := strings.TrimSpace(raw)
		if utf8.RuneCountInString(sentence) <= minUnitLen {
			continue
		}
		if len(out) == maxUnits {
			break
		}
		c := extracted{
			sentence: sentence,
			essence:  truncateRunes(sentence, maxEssenceLen),
			vector:   s.embed(ctx, sentence),
		}
		if c.vector != nil {
			c.id = hashHex(quantize(c.vector, quantizeDims))
		} else {
			c.id = hashHex(c.essence)
		}
		out = append(out, c)
	}
	return out
}

// conceptEmbedding reuses the unit's vector when the essence is the whole
// unit and embeds the truncated essence otherwise.
func (s *System) conceptEmbedding(ctx context.Context, c extracted) []float32 {
	if c.essence == c.sentence {
		return c.vector
	}
	return s.embed(ctx, c.essence)
}

// estimateValence counts sentiment keywords within 100 runes around the
// first occurrence of the concept in the source text.
func estimateValence(essence, text string) float64 {
	lower := strings.ToLower(text)
	probe := truncateRunes(strings.ToLower(essence), valenceProbeLen)
	at := strings.Index(lower, probe)
	if at < 0 {
		return 0
	}
	runes := []rune(lower)
	idx := utf8.RuneCountInString(lower[:at])
	window := string(runes[max(0, idx-valenceWindow):min(len(runes), idx+valenceWindow)])

	var pos, neg int
	for _, w := range positiveKeywords {
		if strings.Contains(window, w) {
			pos++
		}
	}
	for _, w := range negativeKeywords {
		if strings.Contains(window, w) {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// identifyTriggers slides a three-word window over text and keeps the first
// five phrases longer than 15 runes that occur at most twice verbatim.
func (s *System) identifyTriggers(ctx context.Context, text string, ep *Episode) []*Trigger {
	words := strings.Fields(text)
	contextHash := hashHex(text)

	var out []*Trigger
	for i := 0; i+triggerWords <= len(words) && len(out) < maxTriggers; i++ {
		phrase := strings.Join(words[i:i+triggerWords], " ")
		if utf8.RuneCountInString(phrase) <= minUnitLen || strings.Count(text, phrase) > maxPhraseRepeats {
			continue
		}
		out = append(out, NewTrigger(phrase, ep.ConceptIDs, contextHash, s.embed(ctx, phrase)))
	}
	return out
}

func episodeID(attributionID string) string {
	if attributionID != "" {
		return truncateRunes(attributionID, 16)
	}
	return newID()
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

package memory

import (
	"fmt"
	"strings"
)

// DefaultActivationThreshold is the minimum cosine similarity for a
// trigger to fire on an embedded probe.
const DefaultActivationThreshold = 0.75

// maxLinkedConcepts bounds the concepts a trigger reactivates.
const maxLinkedConcepts = 5

// Trigger is a phrase key, optionally embedded, that reactivates the
// concepts it links to when a probe resembles it.
type Trigger struct {
	Token               string    `json:"token"`
	LinkedConcepts      []string  `json:"linked_concepts"`
	ContextHash         string    `json:"context_hash"`
	Embedding           []float32 `json:"embedding,omitempty"`
	ActivationThreshold float64   `json:"activation_threshold"`
}

// NewTrigger builds a trigger with the default threshold. The token is cut
// to 50 runes and only the first five linked concepts are kept.
func NewTrigger(token string, linked []string, contextHash string, embedding []float32) *Trigger {
	if len(linked) > maxLinkedConcepts {
		linked = linked[:maxLinkedConcepts]
	}
	return &Trigger{
		Token:               truncateRunes(token, maxTokenLen),
		LinkedConcepts:      append([]string(nil), linked...),
		ContextHash:         contextHash,
		Embedding:           embedding,
		ActivationThreshold: DefaultActivationThreshold,
	}
}

// ShouldActivate reports whether the trigger fires for a probe. With an
// embedding on both sides it compares cosine similarity to the threshold;
// otherwise it falls back to case-insensitive containment of the token.
func (t *Trigger) ShouldActivate(context string, contextEmbedding []float32) bool {
	if len(t.Embedding) > 0 && len(contextEmbedding) > 0 {
		return CosineSimilarity(t.Embedding, contextEmbedding) >= t.ActivationThreshold
	}
	return strings.Contains(strings.ToLower(context), strings.ToLower(t.Token))
}

// Seed encodes the trigger as t1|token|id8,id8,...|hash16. The embedding
// is not carried, and decoding restores the default threshold.
func (t *Trigger) Seed() string {
	return strings.Join([]string{
		triggerSeedTag,
		escapeField(truncateRunes(t.Token, maxTokenLen)),
		joinList(t.LinkedConcepts),
		escapeField(truncateRunes(t.ContextHash, seedContextHashLen)),
	}, fieldSep)
}

// ParseTriggerSeed decodes a trigger seed.
func ParseTriggerSeed(seed string) (*Trigger, error) {
	f, err := splitSeed(seed, triggerSeedTag, 3)
	if err != nil {
		return nil, err
	}
	token := unescapeField(f[0])
	if token == "" {
		return nil, fmt.Errorf("%w: trigger seed without token", ErrMalformedSeed)
	}
	return NewTrigger(token, splitList(f[1]), unescapeField(f[2]), nil), nil
}

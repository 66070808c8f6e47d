package memory

import (
	"fmt"
	"sort"
)

// CollisionPolicy decides what happens when a trigger is stored under a
// token that is already present.
type CollisionPolicy string

const (
	// LastWriteWins replaces the earlier trigger. This is the default.
	LastWriteWins CollisionPolicy = "last_write_wins"
	// FirstWriteWins keeps the earlier trigger and drops the new one.
	FirstWriteWins CollisionPolicy = "first_write_wins"
)

// ParseCollisionPolicy maps a config string to a policy. Empty means
// LastWriteWins.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(s) {
	case "", LastWriteWins:
		return LastWriteWins, nil
	case FirstWriteWins:
		return FirstWriteWins, nil
	}
	return "", fmt.Errorf("unknown trigger collision policy %q", s)
}

// TriggerTable indexes triggers by token text under a collision policy.
type TriggerTable struct {
	policy  CollisionPolicy
	entries map[string]*Trigger
}

// NewTriggerTable creates an empty table.
func NewTriggerTable(policy CollisionPolicy) *TriggerTable {
	if policy == "" {
		policy = LastWriteWins
	}
	return &TriggerTable{policy: policy, entries: make(map[string]*Trigger)}
}

// Policy returns the collision policy of the table.
func (t *TriggerTable) Policy() CollisionPolicy { return t.policy }

// Put stores tr and reports whether it was kept.
func (t *TriggerTable) Put(tr *Trigger) bool {
	if _, exists := t.entries[tr.Token]; exists && t.policy == FirstWriteWins {
		return false
	}
	t.entries[tr.Token] = tr
	return true
}

// Get returns the trigger stored under token.
func (t *TriggerTable) Get(token string) (*Trigger, bool) {
	tr, ok := t.entries[token]
	return tr, ok
}

// Len returns the number of stored triggers.
func (t *TriggerTable) Len() int { return len(t.entries) }

// Sorted returns all triggers ordered by token.
func (t *TriggerTable) Sorted() []*Trigger {
	out := make([]*Trigger, 0, len(t.entries))
	for _, tr := range t.entries {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Match returns every trigger that fires for the probe, ordered by token.
func (t *TriggerTable) Match(probe string, probeEmbedding []float32) []*Trigger {
	var fired []*Trigger
	for _, tr := range t.Sorted() {
		if tr.ShouldActivate(probe, probeEmbedding) {
			fired = append(fired, tr)
		}
	}
	return fired
}

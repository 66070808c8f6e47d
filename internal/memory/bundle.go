package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// BundleVersion identifies the bundle and seed layout written by Export.
const BundleVersion = "mer/1"

// bundle is the wire form of an exported system. Field order is the
// canonical order the digest is computed over.
type bundle struct {
	Version      string   `json:"version"`
	NodeID       string   `json:"node_id"`
	SessionID    string   `json:"session_id"`
	Clock        float64  `json:"clock"`
	Concepts     []string `json:"concepts"`
	Triggers     []string `json:"triggers"`
	Episodes     []string `json:"episodes"`
	Attributions []string `json:"attributions"`
	Digest       string   `json:"digest,omitempty"`
}

// digest hashes the canonical encoding of b with the digest field removed.
func (b bundle) digest() (string, error) {
	b.Digest = ""
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Export serialises the whole state as seeds and appends a digest over the
// canonical encoding. Concepts are ordered by id, triggers by token and
// episodes temporally.
func (s *System) Export() (string, error) {
	b := bundle{
		Version:      BundleVersion,
		NodeID:       s.nodeID,
		SessionID:    s.sessionID,
		Clock:        s.clock,
		Concepts:     make([]string, 0, len(s.concepts)),
		Triggers:     make([]string, 0, s.triggers.Len()),
		Episodes:     make([]string, 0, len(s.episodes)),
		Attributions: []string{},
	}
	for _, id := range s.ConceptIDs() {
		b.Concepts = append(b.Concepts, s.concepts[id].Seed())
	}
	for _, tr := range s.triggers.Sorted() {
		b.Triggers = append(b.Triggers, tr.Seed())
	}
	for _, ep := range s.episodes {
		b.Episodes = append(b.Episodes, ep.Seed())
		if ep.HasAttribution() {
			b.Attributions = append(b.Attributions, ep.AttributionID)
		}
	}

	digest, err := b.digest()
	if err != nil {
		return "", err
	}
	b.Digest = digest

	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}
	s.logger.Info("exported memory bundle",
		zap.Int("concepts", len(b.Concepts)),
		zap.Int("triggers", len(b.Triggers)),
		zap.Int("episodes", len(b.Episodes)),
		zap.String("digest", digest))
	return string(out), nil
}

// BundleInfo describes a verified bundle.
type BundleInfo struct {
	Version      string   `json:"version"`
	NodeID       string   `json:"node_id"`
	SessionID    string   `json:"session_id"`
	Clock        float64  `json:"clock"`
	Digest       string   `json:"digest"`
	Concepts     int      `json:"concepts"`
	Triggers     int      `json:"triggers"`
	Episodes     int      `json:"episodes"`
	Attributions []string `json:"attributions"`
}

// VerifyBundle parses raw and checks its digest without touching any
// system. It returns ErrIntegrityViolation if the bundle cannot be parsed
// or its digest does not match.
func VerifyBundle(raw string) (BundleInfo, error) {
	b, err := decodeBundle(raw)
	if err != nil {
		return BundleInfo{}, err
	}
	return BundleInfo{
		Version:      b.Version,
		NodeID:       b.NodeID,
		SessionID:    b.SessionID,
		Clock:        b.Clock,
		Digest:       b.Digest,
		Concepts:     len(b.Concepts),
		Triggers:     len(b.Triggers),
		Episodes:     len(b.Episodes),
		Attributions: b.Attributions,
	}, nil
}

// bundleKeys are the exact top-level keys of a bundle. encoding/json
// matches struct fields case-insensitively, so keys are checked against
// this set before the bundle is decoded into its struct.
var bundleKeys = []string{
	"version", "node_id", "session_id", "clock",
	"concepts", "triggers", "episodes", "attributions", "digest",
}

func decodeBundle(raw string) (bundle, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&fields); err != nil {
		return bundle{}, fmt.Errorf("%w: decode bundle: %v", ErrIntegrityViolation, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return bundle{}, fmt.Errorf("%w: trailing data after bundle", ErrIntegrityViolation)
	}
	if len(fields) != len(bundleKeys) {
		return bundle{}, fmt.Errorf("%w: bundle has %d keys, want %d", ErrIntegrityViolation, len(fields), len(bundleKeys))
	}
	for _, key := range bundleKeys {
		if _, ok := fields[key]; !ok {
			return bundle{}, fmt.Errorf("%w: missing key %q", ErrIntegrityViolation, key)
		}
	}

	var b bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return bundle{}, fmt.Errorf("%w: decode bundle: %v", ErrIntegrityViolation, err)
	}

	stated := b.Digest
	computed, err := b.digest()
	if err != nil {
		return bundle{}, err
	}
	if stated == "" || stated != computed {
		return bundle{}, fmt.Errorf("%w: digest mismatch", ErrIntegrityViolation)
	}
	if b.Version != BundleVersion {
		return bundle{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, b.Version)
	}
	return b, nil
}

// Import verifies raw and, on success, replaces the concept graph, trigger
// table and episode log wholesale and adopts the bundle's session id and
// logical clock. The new state is fully decoded before anything is
// swapped, so a failed import leaves the system unchanged.
func (s *System) Import(raw string) error {
	b, err := decodeBundle(raw)
	if err != nil {
		s.logger.Warn("rejected memory bundle", zap.Error(err))
		return err
	}
	concepts, triggers, episodes, err := s.decodeSeeds(b)
	if err != nil {
		s.logger.Warn("rejected memory bundle",
			zap.String("from_node", b.NodeID),
			zap.String("digest", b.Digest),
			zap.Error(err))
		return err
	}

	s.concepts = concepts
	s.triggers = triggers
	s.episodes = episodes
	s.sessionID = b.SessionID
	s.clock = b.Clock

	s.logger.Info("imported memory bundle",
		zap.String("from_node", b.NodeID),
		zap.String("session", b.SessionID),
		zap.Int("concepts", len(concepts)),
		zap.Int("triggers", triggers.Len()),
		zap.Int("episodes", len(episodes)))
	return nil
}

// decodeSeeds parses every seed of b into fresh state without touching s.
func (s *System) decodeSeeds(b bundle) (map[string]*ConceptNode, *TriggerTable, []*Episode, error) {
	concepts := make(map[string]*ConceptNode, len(b.Concepts))
	for i, seed := range b.Concepts {
		n, err := ParseConceptSeed(seed)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("import concept %d: %w", i, err)
		}
		concepts[n.ID] = n
	}
	triggers := NewTriggerTable(s.triggers.Policy())
	for i, seed := range b.Triggers {
		tr, err := ParseTriggerSeed(seed)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("import trigger %d: %w", i, err)
		}
		triggers.Put(tr)
	}
	episodes := make([]*Episode, 0, len(b.Episodes))
	for i, seed := range b.Episodes {
		ep, err := ParseEpisodeSeed(seed)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("import episode %d: %w", i, err)
		}
		episodes = append(episodes, ep)
	}
	return concepts, triggers, episodes, nil
}

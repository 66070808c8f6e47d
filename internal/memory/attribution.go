package memory

import (
	"context"
	"time"
)

// AttributionProtocol tags attribution records produced by EncodeAttributed.
const AttributionProtocol = "mer-attribution/1"

// AttributionRecord links an encoded episode to the content that produced
// it. It is traceability only; nothing here authenticates the origin.
type AttributionRecord struct {
	AttributionHash string `json:"attribution_hash"`
	ContentHash     string `json:"content_hash"`
	EpisodeID       string `json:"episode_id"`
	Timestamp       string `json:"timestamp"`
	NodeID          string `json:"node_id"`
	ConceptCount    int    `json:"concept_count"`
	Protocol        string `json:"protocol"`
}

// EncodeAttributed derives an attribution hash from the node id, the
// current time and the content hash, then encodes text under it. An empty
// nodeID means the system's own node.
func (s *System) EncodeAttributed(ctx context.Context, text, nodeID string) AttributionRecord {
	if nodeID == "" {
		nodeID = s.nodeID
	}
	ts := s.now().UTC().Format(time.RFC3339Nano)
	contentHash := hashHex(text)
	attribution := hashHex(nodeID + ":" + ts + ":" + contentHash)

	episode := s.Encode(ctx, text, attribution)
	return AttributionRecord{
		AttributionHash: attribution,
		ContentHash:     contentHash,
		EpisodeID:       episode,
		Timestamp:       ts,
		NodeID:          nodeID,
		ConceptCount:    len(s.concepts),
		Protocol:        AttributionProtocol,
	}
}

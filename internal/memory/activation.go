package memory

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	// propagationHops is the fixed depth of activation spread.
	propagationHops = 2
	// strongEdge is the weight an edge must exceed to carry activation.
	strongEdge = 0.5
)

// Reconstruct matches probe against the trigger table, spreads activation
// two hops along strong edges and synthesises a recollection. It returns
// false when no trigger fires.
func (s *System) Reconstruct(ctx context.Context, probe string) (*Recollection, bool) {
	start := time.Now()
	probeVec := s.embed(ctx, probe)

	fired := s.triggers.Match(probe, probeVec)
	if len(fired) == 0 {
		s.logger.Debug("no trigger matched probe",
			zap.Int("triggers", s.triggers.Len()),
			zap.Bool("embedded", probeVec != nil))
		return nil, false
	}

	seeds := make(map[string]struct{})
	for _, tr := range fired {
		for _, id := range tr.LinkedConcepts {
			seeds[id] = struct{}{}
		}
	}
	activated := s.propagate(seeds)
	rec := s.synthesize(activated)

	s.logger.Info("reconstruction complete",
		zap.Int("triggers_fired", len(fired)),
		zap.Int("seed_concepts", len(seeds)),
		zap.Int("activated", len(activated)),
		zap.Bool("unavailable", rec.Unavailable),
		zap.Duration("duration", time.Since(start)))
	return rec, true
}

// propagate spreads activation breadth-first for exactly propagationHops
// hops, following only edges heavier than strongEdge out of concepts that
// resolve in the graph. The result includes the seeds.
func (s *System) propagate(seeds map[string]struct{}) map[string]struct{} {
	activated := make(map[string]struct{}, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for id := range seeds {
		activated[id] = struct{}{}
		frontier = append(frontier, id)
	}
	sort.Strings(frontier)

	for hop := 0; hop < propagationHops; hop++ {
		var next []string
		for _, id := range frontier {
			node, ok := s.concepts[id]
			if !ok {
				continue
			}
			for _, e := range node.TopConnections(-1) {
				if e.Weight <= strongEdge {
					break
				}
				if _, seen := activated[e.Target]; seen {
					continue
				}
				activated[e.Target] = struct{}{}
				next = append(next, e.Target)
			}
		}
		frontier = next
	}
	return activated
}

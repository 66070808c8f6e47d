package memory

import "math"

const (
	// edgeDecayPeriod is the time constant, in seconds, of connection decay.
	edgeDecayPeriod = 86400.0

	// reinforceRate scales the strength added to an existing connection.
	reinforceRate = 0.1
)

// edgeDecay returns the multiplicative factor applied to every connection
// of a node whose previous activation was elapsed seconds ago.
func edgeDecay(elapsed float64) float64 {
	return math.Exp(-elapsed / edgeDecayPeriod)
}

// clampWeight keeps a connection weight inside [0, 1].
func clampWeight(w float64) float64 {
	switch {
	case math.IsNaN(w) || w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}

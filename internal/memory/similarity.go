package memory

import (
	"math"
	"strconv"
	"strings"
)

// CosineSimilarity returns the cosine of the angle between a and b.
// A zero-norm vector on either side, or vectors of different length,
// yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// quantize renders the first dims components of v rounded to 2 decimals.
// Near-paraphrases whose leading components agree collapse to the same key.
func quantize(v []float32, dims int) string {
	if len(v) > dims {
		v = v[:dims]
	}
	parts := make([]string, len(v))
	for i, x := range v {
		r := math.Round(float64(x)*100) / 100
		if r == 0 {
			r = 0 // drop negative zero
		}
		parts[i] = strconv.FormatFloat(r, 'f', 2, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

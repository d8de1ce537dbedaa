package search

// Similarities converts distances to similarities in [0,1] by
// 1 - d/max(d). When every distance is zero all similarities are 1.
func Similarities(distances []float64) []float64 {
	out := make([]float64, len(distances))
	var maxDist float64
	for _, d := range distances {
		if d > maxDist {
			maxDist = d
		}
	}
	for i, d := range distances {
		if maxDist > 0 {
			out[i] = 1 - d/maxDist
		} else {
			out[i] = 1
		}
	}
	return out
}

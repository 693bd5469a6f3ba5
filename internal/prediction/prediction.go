// Package prediction computes, for every candidate pump count, the band of
// water levels the plant could reach after one 5-second cycle (spec.md
// §4.3). It is a pure function of its inputs: no state, no allocation
// beyond the caller-supplied output buffer.
package prediction

const tickSeconds = 5.0

// Band is the predicted [min,max] water level after one cycle if exactly
// the corresponding pump count is run.
type Band struct {
	Min float64
	Max float64
}

// Midpoint is the center of the band, used to rank candidate pump counts
// against the normal-band target H.
func (b Band) Midpoint() float64 {
	return b.Min + (b.Max-b.Min)/2
}

// Predict fills out[0..pumpCount] with the predicted band for running k
// pumps, k = index into out. out must have capacity >= pumpCount+1; the
// caller owns the backing array (spec.md §5: no allocation in steady
// state). capacity[i] is litres/s for pump i.
func Predict(out []Band, water, steam, maxSteam float64, pumpCount int, capacity []float64) {
	var totalCapacity float64
	for k := 0; k <= pumpCount; k++ {
		if k > 0 {
			totalCapacity += capacity[k-1]
		}
		out[k] = Band{
			Min: water + tickSeconds*totalCapacity - tickSeconds*maxSteam,
			Max: water + tickSeconds*totalCapacity - tickSeconds*steam,
		}
	}
}

// Choose selects k* minimising |midpoint(bands[k]) - target|, breaking ties
// in favor of the smaller k (spec.md §4.3, P5).
func Choose(bands []Band, target float64) int {
	best := 0
	bestDist := absf(bands[0].Midpoint() - target)
	for k := 1; k < len(bands); k++ {
		d := absf(bands[k].Midpoint() - target)
		if d < bestDist {
			best = k
			bestDist = d
		}
	}
	return best
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

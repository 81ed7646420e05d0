// Package analysis computes same-multiplier distance statistics over
// chronologically ordered outcomes: for each occurrence of a multiplier, the
// nonce gap since its previous occurrence in the scanned range.
package analysis

import (
	"math"
	"sort"

	"github.com/MJE43/pump-replay-go/internal/pump"
)

// Record is one outcome's gap to the previous outcome in the same bucket.
// The first occurrence of a bucket has no defined gap.
type Record struct {
	Nonce  uint64 `json:"nonce"`
	Gap    uint64 `json:"gap,omitempty"`
	HasGap bool   `json:"has_gap"`
}

// Stats describes a gap distribution. Percentiles use the nearest-rank
// method and StdDev is the population standard deviation, matching the run
// analytics the API exposes.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    uint64  `json:"min"`
	Max    uint64  `json:"max"`
	P90    uint64  `json:"p90"`
	P99    uint64  `json:"p99"`
	StdDev float64 `json:"stddev"`
	CV     float64 `json:"cv"`
}

// Result is the distance analysis for a single multiplier target.
type Result struct {
	Count  int      `json:"count"`
	Nonces []uint64 `json:"nonces"`
	Gaps   []uint64 `json:"distances"`
	Stats  *Stats   `json:"stats,omitempty"`
}

// Bucket collapses a multiplier to 2 decimals so equal outcomes group
// together despite floating-point noise.
func Bucket(multiplier float64) float64 {
	return math.Round(multiplier*100) / 100
}

// Distances buckets outcomes by multiplier and emits per-bucket gap records
// in one left-to-right pass (O(n) regardless of distinct bucket count).
// Outcomes must be nonce-ascending; unsorted input is sorted first since
// correctness, not just speed, depends on order.
func Distances(outcomes []pump.Outcome) map[float64][]Record {
	if !sort.SliceIsSorted(outcomes, func(i, j int) bool { return outcomes[i].Nonce < outcomes[j].Nonce }) {
		sorted := make([]pump.Outcome, len(outcomes))
		copy(sorted, outcomes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Nonce < sorted[j].Nonce })
		outcomes = sorted
	}

	byBucket := make(map[float64][]Record)
	lastNonce := make(map[float64]uint64)

	for _, out := range outcomes {
		b := Bucket(out.Multiplier)
		rec := Record{Nonce: out.Nonce}
		if prev, seen := lastNonce[b]; seen {
			rec.Gap = out.Nonce - prev
			rec.HasGap = true
		}
		byBucket[b] = append(byBucket[b], rec)
		lastNonce[b] = out.Nonce
	}
	return byBucket
}

// ForTarget filters outcomes to those whose multiplier matches target within
// tol and returns their nonces, consecutive gaps, and gap statistics. With
// fewer than two occurrences there are no gaps and Stats is nil.
func ForTarget(outcomes []pump.Outcome, target, tol float64) Result {
	nonces := make([]uint64, 0, 16)
	for _, out := range outcomes {
		if math.Abs(out.Multiplier-target) <= tol {
			nonces = append(nonces, out.Nonce)
		}
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	return FromNonces(nonces)
}

// FromNonces computes gaps and statistics for an ascending occurrence list,
// e.g. the persisted hit nonces of a run.
func FromNonces(nonces []uint64) Result {
	res := Result{Count: len(nonces), Nonces: nonces, Gaps: []uint64{}}
	if len(nonces) < 2 {
		return res
	}

	gaps := make([]uint64, len(nonces)-1)
	for i := 1; i < len(nonces); i++ {
		gaps[i-1] = nonces[i] - nonces[i-1]
	}
	res.Gaps = gaps
	res.Stats = describe(gaps)
	return res
}

func describe(gaps []uint64) *Stats {
	sorted := make([]uint64, len(gaps))
	copy(sorted, gaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	var sum float64
	for _, g := range sorted {
		sum += float64(g)
	}
	mean := sum / float64(n)

	var median float64
	if n%2 == 0 {
		median = (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
	} else {
		median = float64(sorted[n/2])
	}

	nearestRank := func(p float64) uint64 {
		k := int(math.Ceil(p * float64(n) / 100))
		if k < 1 {
			k = 1
		}
		return sorted[k-1]
	}

	var variance float64
	for _, g := range sorted {
		d := float64(g) - mean
		variance += d * d
	}
	variance /= float64(n)
	stddev := math.Sqrt(variance)

	cv := 0.0
	if mean > 0 {
		cv = stddev / mean
	}

	return &Stats{
		Mean:   mean,
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		P90:    nearestRank(90),
		P99:    nearestRank(99),
		StdDev: stddev,
		CV:     cv,
	}
}

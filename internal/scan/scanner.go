// Package scan drives the pump evaluator across a nonce range, collecting
// per-target hit lists and run-level summary statistics.
//
// Outcomes for different nonces are independent, so the range is sharded
// into fixed-size batches consumed by a worker pool. Workers keep purely
// local accumulators; the only synchronization is the final merge.
package scan

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MJE43/pump-replay-go/internal/engine"
	"github.com/MJE43/pump-replay-go/internal/pump"
)

const (
	// ATOL is the absolute tolerance for matching a computed multiplier
	// against a requested target.
	ATOL = 1e-9

	// DefaultMaxRange bounds a single scan unless the request overrides it.
	DefaultMaxRange = 1_000_000

	// batchSize is the number of nonces handed to a worker at a time. Large
	// enough to amortize channel traffic, small enough to balance load.
	batchSize = 8192

	// cancelCheckInterval is how many nonces a worker processes between
	// context checks inside a batch.
	cancelCheckInterval = 1024

	// maxTopHits caps the nonces reported for the maximum multiplier.
	maxTopHits = 5
)

// Request describes one scan. Zero Tolerance means ATOL, zero MaxRange means
// DefaultMaxRange, zero Workers means GOMAXPROCS.
type Request struct {
	Seeds      engine.Seeds    `json:"seeds"`
	Start      uint64          `json:"start"`
	End        uint64          `json:"end"`
	Difficulty pump.Difficulty `json:"difficulty"`
	Targets    []float64       `json:"targets"`
	Tolerance  float64         `json:"tolerance,omitempty"`
	MaxRange   uint64          `json:"-"`
	Workers    int             `json:"-"`
}

// TopHit is one of the nonces attaining the range's maximum multiplier.
type TopHit struct {
	Nonce      uint64  `json:"nonce"`
	Multiplier float64 `json:"max_multiplier"`
}

// Summary aggregates a completed scan.
type Summary struct {
	Count            uint64          `json:"count"`
	Start            uint64          `json:"start"`
	End              uint64          `json:"end"`
	Difficulty       pump.Difficulty `json:"difficulty"`
	Targets          []float64       `json:"targets"`
	DurationMs       int64           `json:"duration_ms"`
	MaxMultiplier    float64         `json:"max_multiplier"`
	MedianMultiplier float64         `json:"median_multiplier"`
	CountsByTarget   map[string]int  `json:"counts_by_target"`
	TopMax           []TopHit        `json:"top_max"`
	EngineVersion    string          `json:"engine_version"`
}

// Result holds the hit lists and summary for a scan. Hit lists are in
// ascending nonce order.
type Result struct {
	HitsByTarget map[float64][]uint64
	Summary      Summary
}

// Scanner runs scans with a fixed worker pool size.
type Scanner struct {
	workers int
}

// New returns a scanner sized to the machine.
func New() *Scanner {
	return &Scanner{workers: runtime.GOMAXPROCS(0)}
}

// partial is one worker's accumulators. Hit lists are indexed by target
// position; maxNonces holds the first few nonces (ascending) at localMax.
type partial struct {
	hits        [][]uint64
	multipliers []float64
	localMax    float64
	maxNonces   []uint64
}

// Scan validates the request and runs it to completion or cancellation.
// All validation failures are reported before any outcome is computed.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Result, error) {
	if !req.Difficulty.Valid() {
		return nil, fmt.Errorf("%w: %q", pump.ErrInvalidDifficulty, req.Difficulty)
	}
	if req.Start < 1 || req.End < req.Start {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, req.Start, req.End)
	}
	maxRange := req.MaxRange
	if maxRange == 0 {
		maxRange = DefaultMaxRange
	}
	count := req.End - req.Start + 1
	if count > maxRange {
		return nil, fmt.Errorf("%w: %d nonces exceeds maximum %d", ErrInvalidRange, count, maxRange)
	}
	targets, err := sanitizeTargets(req.Targets)
	if err != nil {
		return nil, err
	}
	tolerance := req.Tolerance
	if tolerance == 0 {
		tolerance = ATOL
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("%w: negative tolerance", ErrMalformedTargets)
	}

	workers := req.Workers
	if workers <= 0 {
		workers = s.workers
	}
	if batches := int((count + batchSize - 1) / batchSize); workers > batches {
		workers = batches
	}

	started := time.Now()

	type batch struct{ start, end uint64 }
	jobs := make(chan batch, workers*2)

	partials := make([]*partial, workers)
	for i := range partials {
		p := &partial{
			hits:        make([][]uint64, len(targets)),
			multipliers: make([]float64, 0, count/uint64(workers)+batchSize),
		}
		partials[i] = p
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for cur := req.Start; cur <= req.End; {
			end := cur + batchSize - 1
			if end > req.End || end < cur { // overflow guard
				end = req.End
			}
			select {
			case jobs <- batch{cur, end}:
				cur = end + 1
				if cur == 0 {
					return nil
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		p := partials[i]
		g.Go(func() error {
			eval := pump.NewEvaluator(req.Seeds)
			for b := range jobs {
				for nonce := b.start; ; nonce++ {
					if (nonce-b.start)%cancelCheckInterval == 0 {
						select {
						case <-gctx.Done():
							return gctx.Err()
						default:
						}
					}

					out, err := eval.Outcome(nonce, req.Difficulty)
					if err != nil {
						return err
					}
					p.observe(out, targets, tolerance)

					if nonce == b.end {
						break
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil || err == context.Canceled || err == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil, err
	}

	return merge(partials, req, targets, count, time.Since(started)), nil
}

func (p *partial) observe(out pump.Outcome, targets []float64, tolerance float64) {
	p.multipliers = append(p.multipliers, out.Multiplier)

	if out.Multiplier > p.localMax {
		p.localMax = out.Multiplier
		p.maxNonces = p.maxNonces[:0]
	}
	if out.Multiplier == p.localMax && len(p.maxNonces) < maxTopHits {
		p.maxNonces = append(p.maxNonces, out.Nonce)
	}

	for i, t := range targets {
		if math.Abs(out.Multiplier-t) <= tolerance {
			p.hits[i] = append(p.hits[i], out.Nonce)
		}
	}
}

func merge(partials []*partial, req Request, targets []float64, count uint64, elapsed time.Duration) *Result {
	hitsByTarget := make(map[float64][]uint64, len(targets))
	countsByTarget := make(map[string]int, len(targets))
	for i, t := range targets {
		var nonces []uint64
		for _, p := range partials {
			nonces = append(nonces, p.hits[i]...)
		}
		sort.Slice(nonces, func(a, b int) bool { return nonces[a] < nonces[b] })
		if nonces == nil {
			nonces = []uint64{}
		}
		hitsByTarget[t] = nonces
		countsByTarget[FormatTarget(t)] = len(nonces)
	}

	all := make([]float64, 0, count)
	maxMultiplier := 0.0
	for _, p := range partials {
		all = append(all, p.multipliers...)
		if p.localMax > maxMultiplier {
			maxMultiplier = p.localMax
		}
	}
	sort.Float64s(all)

	var median float64
	if n := len(all); n > 0 {
		if n%2 == 0 {
			median = (all[n/2-1] + all[n/2]) / 2
		} else {
			median = all[n/2]
		}
	}

	var topNonces []uint64
	for _, p := range partials {
		if p.localMax == maxMultiplier {
			topNonces = append(topNonces, p.maxNonces...)
		}
	}
	sort.Slice(topNonces, func(a, b int) bool { return topNonces[a] < topNonces[b] })
	if len(topNonces) > maxTopHits {
		topNonces = topNonces[:maxTopHits]
	}
	topMax := make([]TopHit, len(topNonces))
	for i, n := range topNonces {
		topMax[i] = TopHit{Nonce: n, Multiplier: maxMultiplier}
	}

	return &Result{
		HitsByTarget: hitsByTarget,
		Summary: Summary{
			Count:            count,
			Start:            req.Start,
			End:              req.End,
			Difficulty:       req.Difficulty,
			Targets:          targets,
			DurationMs:       elapsed.Milliseconds(),
			MaxMultiplier:    maxMultiplier,
			MedianMultiplier: median,
			CountsByTarget:   countsByTarget,
			TopMax:           topMax,
			EngineVersion:    pump.Version,
		},
	}
}

// sanitizeTargets dedupes, sorts, and rejects non-finite targets.
func sanitizeTargets(raw []float64) ([]float64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty target set", ErrMalformedTargets)
	}
	seen := make(map[float64]struct{}, len(raw))
	targets := make([]float64, 0, len(raw))
	for _, t := range raw {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: non-finite target %v", ErrMalformedTargets, t)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}
	sort.Float64s(targets)
	return targets, nil
}

// FormatTarget renders a target as the canonical string key used in
// summaries and persisted run JSON.
func FormatTarget(t float64) string {
	return strconv.FormatFloat(t, 'g', -1, 64)
}

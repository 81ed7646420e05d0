// Package pump replays Stake Pump outcomes from a disclosed seed pair.
//
// An outcome is a pure function of (server seed, client seed, nonce,
// difficulty): the HMAC byte stream drives a float-indexed selection shuffle
// over positions 1-25, the first M entries of the resulting permutation are
// the POP tokens, and the payout follows from the lowest POP position.
package pump

import (
	"errors"

	"github.com/MJE43/pump-replay-go/internal/engine"
)

// Version identifies the replay engine in persisted runs and API responses.
const Version = "pump-go-1.0.0"

// ErrInvalidDifficulty is returned for difficulties outside the closed set.
var ErrInvalidDifficulty = errors.New("invalid difficulty")

// Outcome is the fully resolved result for one nonce.
type Outcome struct {
	Nonce      uint64  `json:"nonce"`
	PopPoint   int     `json:"pop_point"`
	SafePumps  int     `json:"max_pumps"`
	Multiplier float64 `json:"max_multiplier"`
}

// Evaluator computes outcomes with no per-call heap allocation. It is cheap
// to create but not safe for concurrent use; the scanner gives each worker
// its own.
type Evaluator struct {
	bg   *engine.ByteGenerator
	pool [Positions]int
	perm [Positions]int
}

// NewEvaluator binds an evaluator to a seed pair.
func NewEvaluator(seeds engine.Seeds) *Evaluator {
	return &Evaluator{bg: engine.NewByteGenerator(seeds.Server, seeds.Client, 1)}
}

// Permutation returns the selection-shuffle permutation of positions 1-25
// for the nonce. The returned slice aliases the evaluator's buffer and is
// valid until the next call.
func (e *Evaluator) Permutation(nonce uint64) []int {
	e.bg.Reset(nonce)

	for i := range e.pool {
		e.pool[i] = i + 1
	}

	// Draw without replacement: j = floor(u * remaining). u < 1 keeps j in
	// range mathematically; the clamp guards the j == remaining edge anyway.
	for picked := 0; picked < Positions; picked++ {
		remaining := Positions - picked
		j := int(e.bg.NextFloat() * float64(remaining))
		if j >= remaining {
			j = remaining - 1
		}

		e.perm[picked] = e.pool[j]
		copy(e.pool[j:], e.pool[j+1:remaining])
	}

	return e.perm[:]
}

// Outcome resolves the nonce under the given difficulty.
func (e *Evaluator) Outcome(nonce uint64, difficulty Difficulty) (Outcome, error) {
	if !difficulty.Valid() {
		return Outcome{}, ErrInvalidDifficulty
	}
	return resolve(e.Permutation(nonce), nonce, difficulty), nil
}

// resolve maps a permutation to pop point, safe pumps, and multiplier.
func resolve(permutation []int, nonce uint64, difficulty Difficulty) Outcome {
	m := difficulty.M()

	popPoint := permutation[0]
	for _, p := range permutation[1:m] {
		if p < popPoint {
			popPoint = p
		}
	}

	safePumps := popPoint - 1
	if maxSafe := difficulty.MaxSafePumps(); safePumps > maxSafe {
		safePumps = maxSafe
	}

	return Outcome{
		Nonce:      nonce,
		PopPoint:   popPoint,
		SafePumps:  safePumps,
		Multiplier: difficulty.Table()[safePumps],
	}
}

// Verify replays a single nonce. This is the one-shot form of
// Evaluator.Outcome for callers outside the scan hot path.
func Verify(serverSeed, clientSeed string, nonce uint64, difficulty Difficulty) (Outcome, error) {
	e := NewEvaluator(engine.Seeds{Server: serverSeed, Client: clientSeed})
	return e.Outcome(nonce, difficulty)
}

package scan

import (
	"context"
	"testing"

	"github.com/MJE43/pump-replay-go/internal/pump"
)

// The product requirement is ~200k nonces in single-digit seconds; this
// benchmark tracks per-nonce cost so regressions show up in ns/op.
func BenchmarkScan10k(b *testing.B) {
	s := New()
	req := Request{
		Seeds:      testSeeds,
		Start:      1,
		End:        10_000,
		Difficulty: pump.Expert,
		Targets:    []float64{11200.65},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Scan(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScanSingleWorker10k(b *testing.B) {
	s := New()
	req := Request{
		Seeds:      testSeeds,
		Start:      1,
		End:        10_000,
		Difficulty: pump.Expert,
		Targets:    []float64{11200.65},
		Workers:    1,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Scan(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

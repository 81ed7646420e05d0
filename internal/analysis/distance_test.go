package analysis

import (
	"context"
	"math"
	"testing"

	"github.com/MJE43/pump-replay-go/internal/engine"
	"github.com/MJE43/pump-replay-go/internal/pump"
	"github.com/MJE43/pump-replay-go/internal/scan"
)

var testSeeds = engine.Seeds{
	Server: "564e967b90f03d0153fdcb2d2d1cc5a5057e0df78163611fe3801d6498e681ca",
	Client: "zXv1upuFns",
}

func expertOutcomes(t *testing.T, start, end uint64) []pump.Outcome {
	t.Helper()
	e := pump.NewEvaluator(testSeeds)
	outcomes := make([]pump.Outcome, 0, end-start+1)
	for n := start; n <= end; n++ {
		out, err := e.Outcome(n, pump.Expert)
		if err != nil {
			t.Fatal(err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Reference values for target 1.63 over expert nonces 1-1000 come from the
// reference implementation: 231 occurrences, first gaps 8,5,2,8,5,...
func TestForTargetReferenceRange(t *testing.T) {
	res := ForTarget(expertOutcomes(t, 1, 1000), 1.63, 1e-9)

	if res.Count != 231 {
		t.Fatalf("count = %d, want 231", res.Count)
	}
	if len(res.Gaps) != 230 {
		t.Fatalf("gaps = %d, want 230", len(res.Gaps))
	}

	wantFirst := []uint64{8, 5, 2, 8, 5, 1, 1, 5, 2, 6}
	for i, want := range wantFirst {
		if res.Gaps[i] != want {
			t.Fatalf("gap %d = %d, want %d", i, res.Gaps[i], want)
		}
	}

	s := res.Stats
	if s == nil {
		t.Fatal("stats missing")
	}
	approx := func(got, want float64) bool { return math.Abs(got-want) <= 1e-9 }
	if !approx(s.Mean, 4.260869565217392) {
		t.Errorf("mean = %v", s.Mean)
	}
	if s.Median != 3 {
		t.Errorf("median = %v, want 3", s.Median)
	}
	if s.Min != 1 || s.Max != 20 {
		t.Errorf("min/max = %d/%d, want 1/20", s.Min, s.Max)
	}
	if s.P90 != 8 || s.P99 != 18 {
		t.Errorf("p90/p99 = %d/%d, want 8/18", s.P90, s.P99)
	}
	if !approx(s.StdDev, 3.5547566577798597) {
		t.Errorf("stddev = %v", s.StdDev)
	}
	if !approx(s.CV, 3.5547566577798597/4.260869565217392) {
		t.Errorf("cv = %v", s.CV)
	}
}

func TestForTargetFewOccurrences(t *testing.T) {
	res := FromNonces([]uint64{42})
	if res.Count != 1 || len(res.Gaps) != 0 || res.Stats != nil {
		t.Errorf("single occurrence should have no gaps or stats: %+v", res)
	}

	res = FromNonces(nil)
	if res.Count != 0 || len(res.Gaps) != 0 || res.Stats != nil {
		t.Errorf("empty input should have no gaps or stats: %+v", res)
	}
}

func TestDistancesSinglePass(t *testing.T) {
	outcomes := expertOutcomes(t, 1, 500)
	byBucket := Distances(outcomes)

	total := 0
	for bucket, records := range byBucket {
		total += len(records)
		// First record per bucket is gapless, the rest carry gaps that
		// reproduce the occurrence spacing.
		if records[0].HasGap {
			t.Errorf("bucket %v: first record has a gap", bucket)
		}
		for i := 1; i < len(records); i++ {
			if !records[i].HasGap {
				t.Errorf("bucket %v: record %d missing gap", bucket, i)
				continue
			}
			if want := records[i].Nonce - records[i-1].Nonce; records[i].Gap != want {
				t.Errorf("bucket %v: gap %d = %d, want %d", bucket, i, records[i].Gap, want)
			}
		}
	}
	if total != len(outcomes) {
		t.Errorf("records total %d, want %d", total, len(outcomes))
	}
}

func TestDistancesBucketsMatchForTarget(t *testing.T) {
	outcomes := expertOutcomes(t, 1, 1000)
	byBucket := Distances(outcomes)

	records := byBucket[1.63]
	res := ForTarget(outcomes, 1.63, 1e-9)
	if len(records) != res.Count {
		t.Fatalf("bucket has %d records, target analysis found %d", len(records), res.Count)
	}
	for i, gap := range res.Gaps {
		if records[i+1].Gap != gap {
			t.Fatalf("gap %d: bucket %d vs target %d", i, records[i+1].Gap, gap)
		}
	}
}

func TestDistancesUnsortedInput(t *testing.T) {
	outcomes := expertOutcomes(t, 1, 200)
	shuffled := make([]pump.Outcome, len(outcomes))
	copy(shuffled, outcomes)
	for i := 0; i < len(shuffled)-1; i += 2 {
		shuffled[i], shuffled[i+1] = shuffled[i+1], shuffled[i]
	}

	want := Distances(outcomes)
	got := Distances(shuffled)

	for bucket, wantRecs := range want {
		gotRecs := got[bucket]
		if len(gotRecs) != len(wantRecs) {
			t.Fatalf("bucket %v: %d records, want %d", bucket, len(gotRecs), len(wantRecs))
		}
		for i := range wantRecs {
			if gotRecs[i] != wantRecs[i] {
				t.Fatalf("bucket %v record %d: %+v, want %+v", bucket, i, gotRecs[i], wantRecs[i])
			}
		}
	}
}

// Gaps are idempotent under windowing: restricting to a sub-range while
// keeping one occurrence of lookback reproduces the full-history gaps for
// that window.
func TestDistanceWindowIdempotence(t *testing.T) {
	full := ForTarget(expertOutcomes(t, 1, 1000), 1.63, 1e-9)

	// Find the last occurrence before nonce 500 to serve as lookback.
	var lookbackIdx int
	for i, n := range full.Nonces {
		if n < 500 {
			lookbackIdx = i
		}
	}

	windowed := FromNonces(full.Nonces[lookbackIdx:])

	// Full-history gaps from the window onward must match the windowed run.
	fullTail := full.Gaps[lookbackIdx:]
	if len(fullTail) != len(windowed.Gaps) {
		t.Fatalf("gap counts differ: %d vs %d", len(fullTail), len(windowed.Gaps))
	}
	for i := range fullTail {
		if fullTail[i] != windowed.Gaps[i] {
			t.Fatalf("gap %d: full %d vs windowed %d", i, fullTail[i], windowed.Gaps[i])
		}
	}
}

// Distance analysis over persisted scan hits equals analysis over raw
// outcomes; this is how the API's /distances endpoint consumes it.
func TestFromNoncesMatchesScanHits(t *testing.T) {
	res, err := scan.New().Scan(context.Background(), scan.Request{
		Seeds:      testSeeds,
		Start:      1,
		End:        1000,
		Difficulty: pump.Expert,
		Targets:    []float64{1.63},
	})
	if err != nil {
		t.Fatal(err)
	}

	fromHits := FromNonces(res.HitsByTarget[1.63])
	fromOutcomes := ForTarget(expertOutcomes(t, 1, 1000), 1.63, 1e-9)

	if fromHits.Count != fromOutcomes.Count {
		t.Fatalf("counts differ: %d vs %d", fromHits.Count, fromOutcomes.Count)
	}
	for i := range fromOutcomes.Gaps {
		if fromHits.Gaps[i] != fromOutcomes.Gaps[i] {
			t.Fatalf("gap %d differs", i)
		}
	}
}

func TestBucketAbsorbsNoise(t *testing.T) {
	if Bucket(1.6300000000000001) != 1.63 {
		t.Error("bucket should absorb float noise above")
	}
	if Bucket(1.6299999999999999) != 1.63 {
		t.Error("bucket should absorb float noise below")
	}
	if Bucket(2254.00) != 2254.00 {
		t.Error("bucket should preserve exact 2-decimal values")
	}
}

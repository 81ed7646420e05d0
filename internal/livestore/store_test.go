package livestore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBet(betID string, nonce int64, result float64) Bet {
	return Bet{
		BetID:       betID,
		PlacedAt:    time.Now().UTC(),
		Nonce:       nonce,
		Amount:      decimal.RequireFromString("0.00000001"),
		Payout:      decimal.RequireFromString("0.00000163"),
		Difficulty:  "expert",
		RoundResult: result,
	}
}

func TestFindOrCreateStreamIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.FindOrCreateStream(ctx, "hash1", "client1")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.FindOrCreateStream(ctx, "hash1", "client1")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("same seed pair produced different streams: %s vs %s", id1, id2)
	}

	other, err := s.FindOrCreateStream(ctx, "hash1", "client2")
	if err != nil {
		t.Fatal(err)
	}
	if other == id1 {
		t.Error("different client seed reused the stream")
	}
}

func TestIngestBetDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	streamID, err := s.FindOrCreateStream(ctx, "hash", "client")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.IngestBet(ctx, streamID, sampleBet("bet-1", 10, 1.63)); err != nil {
		t.Fatal(err)
	}
	if err := s.IngestBet(ctx, streamID, sampleBet("bet-1", 10, 1.63)); !errors.Is(err, ErrDuplicateBet) {
		t.Errorf("replay: got %v, want ErrDuplicateBet", err)
	}

	st, err := s.GetStream(ctx, streamID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalBets != 1 {
		t.Errorf("total bets = %d, want 1", st.TotalBets)
	}
}

func TestListAndTailBets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	streamID, err := s.FindOrCreateStream(ctx, "hash", "client")
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 10; i++ {
		result := 1.0
		if i%3 == 0 {
			result = 9.08
		}
		if err := s.IngestBet(ctx, streamID, sampleBet("bet-"+uuid.NewString(), i, result)); err != nil {
			t.Fatal(err)
		}
	}

	asc, total, err := s.ListBets(ctx, streamID, 0, true, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 10 || len(asc) != 10 {
		t.Fatalf("total=%d len=%d, want 10/10", total, len(asc))
	}
	if asc[0].Nonce != 1 || asc[9].Nonce != 10 {
		t.Errorf("ascending order broken: first=%d last=%d", asc[0].Nonce, asc[9].Nonce)
	}
	if !asc[0].Amount.Equal(decimal.RequireFromString("0.00000001")) {
		t.Errorf("amount round trip: %s", asc[0].Amount)
	}

	filtered, totalHigh, err := s.ListBets(ctx, streamID, 2.0, true, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if totalHigh != 3 || len(filtered) != 3 {
		t.Errorf("min-result filter: total=%d len=%d, want 3/3", totalHigh, len(filtered))
	}

	// Tail from the 5th row id onward.
	tail, err := s.TailBets(ctx, streamID, asc[4].ID, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 5 {
		t.Fatalf("tail len=%d, want 5", len(tail))
	}
	if tail[0].ID <= asc[4].ID {
		t.Errorf("tail returned already-seen row %d", tail[0].ID)
	}
}

func TestListStreamsTotal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.FindOrCreateStream(ctx, "hash", "client-"+uuid.NewString()); err != nil {
			t.Fatal(err)
		}
	}

	streams, total, err := s.ListStreams(ctx, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(streams) != 2 {
		t.Errorf("page len = %d, want 2", len(streams))
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
}

func TestHitNoncesAndMultipliers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	streamID, err := s.FindOrCreateStream(ctx, "hash", "client")
	if err != nil {
		t.Fatal(err)
	}
	// 1.63 at nonces 3, 10, 24; 9.08 at nonce 7; out-of-order ingest.
	for _, b := range []struct {
		nonce  int64
		result float64
	}{{10, 1.63}, {3, 1.63}, {7, 9.08}, {24, 1.63}} {
		if err := s.IngestBet(ctx, streamID, sampleBet("bet-"+uuid.NewString(), b.nonce, b.result)); err != nil {
			t.Fatal(err)
		}
	}

	nonces, err := s.HitNonces(ctx, streamID, 1.63, 1e-9)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{3, 10, 24}
	if len(nonces) != len(want) {
		t.Fatalf("nonces = %v, want %v", nonces, want)
	}
	for i := range want {
		if nonces[i] != want[i] {
			t.Errorf("nonces[%d] = %d, want %d", i, nonces[i], want[i])
		}
	}

	multipliers, err := s.Multipliers(ctx, streamID)
	if err != nil {
		t.Fatal(err)
	}
	if len(multipliers) != 2 {
		t.Fatalf("distinct multipliers = %d, want 2", len(multipliers))
	}
	if multipliers[0].Multiplier != 9.08 || multipliers[0].Count != 1 {
		t.Errorf("first = %+v, want 9.08 x1", multipliers[0])
	}
	if multipliers[1].Multiplier != 1.63 || multipliers[1].Count != 3 {
		t.Errorf("second = %+v, want 1.63 x3", multipliers[1])
	}
}

func TestDeleteStreamCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	streamID, err := s.FindOrCreateStream(ctx, "hash", "client")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.IngestBet(ctx, streamID, sampleBet("bet-1", 1, 1.0)); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteStream(ctx, streamID); err != nil {
		t.Fatal(err)
	}

	bets, err := s.TailBets(ctx, streamID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bets) != 0 {
		t.Errorf("bets survived stream deletion: %v", bets)
	}
}

func TestSeedAlias(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LookupSeedAlias(ctx, "h"); err != nil || ok {
		t.Fatalf("unexpected alias before upsert: ok=%v err=%v", ok, err)
	}
	if err := s.UpsertSeedAlias(ctx, "h", "plain1"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSeedAlias(ctx, "h", "plain2"); err != nil {
		t.Fatal(err)
	}
	plain, ok, err := s.LookupSeedAlias(ctx, "h")
	if err != nil || !ok || plain != "plain2" {
		t.Errorf("alias = %q ok=%v err=%v, want plain2", plain, ok, err)
	}
}

func TestExportCSV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	streamID, err := s.FindOrCreateStream(ctx, "hash", "client")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.IngestBet(ctx, streamID, sampleBet("bet-1", 7, 11200.65)); err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	if err := s.ExportCSV(ctx, &sb, streamID); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header + 1 row: %q", len(lines), sb.String())
	}
	if lines[0] != "id,nonce,placed_at,amount,payout,difficulty,round_result" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], ",7,") || !strings.Contains(lines[1], "11200.65") {
		t.Errorf("row = %q", lines[1])
	}
}

package pump

import "testing"

func TestTableShapes(t *testing.T) {
	wantLen := map[Difficulty]int{Easy: 25, Medium: 23, Hard: 21, Expert: 16}

	for _, d := range Difficulties() {
		if got := len(d.Table()); got != wantLen[d] {
			t.Errorf("%s table has %d entries, want %d", d, got, wantLen[d])
		}
		if got := d.MaxSafePumps() + 1; got != wantLen[d] {
			t.Errorf("%s max safe pumps %d inconsistent with table length %d", d, d.MaxSafePumps(), wantLen[d])
		}
	}
}

// Spot-check cells that differ between published table variants; these values
// are the ones Stake's verifier produces.
func TestTableValues(t *testing.T) {
	tests := []struct {
		difficulty Difficulty
		safePumps  int
		want       float64
	}{
		{Easy, 0, 1.00},
		{Easy, 15, 2.43},
		{Easy, 24, 24.50},
		{Medium, 22, 2254.00},
		{Hard, 12, 40.49},
		{Hard, 20, 52067.40},
		{Expert, 1, 1.63},
		{Expert, 12, 11200.65},
		{Expert, 15, 3203384.80},
	}

	for _, tt := range tests {
		if got := tt.difficulty.Table()[tt.safePumps]; got != tt.want {
			t.Errorf("table[%s][%d] = %v, want %v", tt.difficulty, tt.safePumps, got, tt.want)
		}
	}
}

func TestDifficultyValid(t *testing.T) {
	for _, d := range Difficulties() {
		if !d.Valid() {
			t.Errorf("%s should be valid", d)
		}
	}
	for _, d := range []Difficulty{"", "EASY", "extreme", "Expert "} {
		if d.Valid() {
			t.Errorf("%q should be invalid", d)
		}
	}
}

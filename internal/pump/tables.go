package pump

import "fmt"

// Difficulty selects how many POP tokens (M) are placed among the 25
// positions. The set is closed; anything else is rejected up front.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
	Expert Difficulty = "expert"
)

// Positions is the number of balloon positions; it never varies.
const Positions = 25

var mValues = map[Difficulty]int{
	Easy:   1,
	Medium: 3,
	Hard:   5,
	Expert: 10,
}

// Payout tables indexed by safe pumps. Each table must have exactly
// 25 - M + 1 entries; this is checked at package load.
var multiplierTables = map[Difficulty][]float64{
	Easy: {
		1.00, 1.02, 1.06, 1.11, 1.17, 1.23, 1.29, 1.36, 1.44, 1.53,
		1.62, 1.75, 1.88, 2.00, 2.23, 2.43, 2.72, 3.05, 3.50, 4.08,
		5.00, 6.25, 8.00, 12.25, 24.50,
	},
	Medium: {
		1.00, 1.11, 1.27, 1.46, 1.69, 1.98, 2.33, 2.76, 3.31, 4.03,
		4.95, 6.19, 7.87, 10.25, 13.66, 18.78, 26.83, 38.76, 64.40, 112.70,
		225.40, 563.50, 2254.00,
	},
	Hard: {
		1.00, 1.23, 1.55, 1.98, 2.56, 3.36, 4.48, 6.08, 8.41, 11.92,
		17.00, 26.01, 40.49, 65.74, 112.70, 206.62, 413.23, 929.77, 2479.40, 8677.90,
		52067.40,
	},
	Expert: {
		1.00, 1.63, 2.80, 4.95, 9.08, 17.34, 34.68, 73.21, 164.72,
		400.02, 1066.73, 3200.18, 11200.65, 48536.13, 291216.80, 3203384.80,
	},
}

func init() {
	// A mis-shaped table is a packaging bug, never a request-time condition.
	for d, m := range mValues {
		want := Positions - m + 1
		if got := len(multiplierTables[d]); got != want {
			panic(fmt.Sprintf("pump: multiplier table %s has %d entries, want %d", d, got, want))
		}
	}
}

// Difficulties lists the valid difficulties in ascending M order.
func Difficulties() []Difficulty {
	return []Difficulty{Easy, Medium, Hard, Expert}
}

// Valid reports whether d is a recognized difficulty.
func (d Difficulty) Valid() bool {
	_, ok := mValues[d]
	return ok
}

// M returns the POP token count for the difficulty.
func (d Difficulty) M() int {
	return mValues[d]
}

// MaxSafePumps returns the largest reachable safe-pump count, 25 - M.
func (d Difficulty) MaxSafePumps() int {
	return Positions - mValues[d]
}

// Table returns the payout table for the difficulty. Callers must not
// mutate it.
func (d Difficulty) Table() []float64 {
	return multiplierTables[d]
}

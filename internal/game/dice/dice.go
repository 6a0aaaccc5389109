// Package dice provides the randomness abstraction shared by the damage model,
// loot generator, and NPC lifecycle. Every random draw in the engine goes
// through a Source so tests can replay exact outcomes.
package dice

import "fmt"

// Source is the randomness provider for all engine draws.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// unitResolution is the number of discrete steps Unit draws from.
const unitResolution = 1_000_000

// Unit returns a uniform draw in [0, 1).
//
// Precondition: src must be non-nil.
// Postcondition: 0 <= result < 1.
func Unit(src Source) float64 {
	return float64(src.Intn(unitResolution)) / unitResolution
}

// Percent returns a uniform draw in [0, 100).
func Percent(src Source) int {
	return src.Intn(100)
}

// Between returns a uniform integer in the closed range [lo, hi].
//
// Precondition: lo <= hi.
// Postcondition: lo <= result <= hi.
func Between(src Source, lo, hi int) int {
	if hi < lo {
		panic(fmt.Sprintf("dice: Between called with lo %d > hi %d", lo, hi))
	}
	if hi == lo {
		return lo
	}
	return lo + src.Intn(hi-lo+1)
}

// Pick returns a uniformly chosen element of items.
//
// Precondition: len(items) > 0.
func Pick[T any](src Source, items []T) T {
	return items[src.Intn(len(items))]
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "math/rand/v2"

// mulberry32 returns a generator of floats in [0, 1). The mixing steps use
// wrapping uint32 arithmetic so that browsers running the same routine on the
// same seed land on the same values.
func mulberry32(seed uint32) func() float64 {
	t := seed

	return func() float64 {
		t += 0x6D2B79F5
		x := (t ^ (t >> 15)) * (t | 1)
		x ^= x + (x^(x>>7))*(x|61)

		return float64(x^(x>>14)) / 4294967296
	}
}

// Spinner is broadcast at game start. Clients replay mulberry32 from Seed to
// animate the same pick the server made.
type Spinner struct {
	Seed       uint32 `json:"seed"`
	DurationMs int    `json:"durationMs"`
}

func makeSpinner(rng *rand.Rand) Spinner {
	return Spinner{
		Seed:       rng.Uint32() >> 1,
		DurationMs: 2400 + rng.IntN(800),
	}
}

func spinnerPickIndex(seed uint32, players int) int {
	if players <= 0 {
		return 0
	}

	return int(mulberry32(seed)() * float64(players))
}

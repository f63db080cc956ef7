package main

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulberry32MatchesBrowser(t *testing.T) {
	cases := []struct {
		seed uint32
		want []float64
	}{
		{0, []float64{0.26642920868471265, 0.0003297457005828619, 0.2232720274478197}},
		{1, []float64{0.6270739405881613, 0.002735721180215478, 0.5274470399599522}},
		{12345, []float64{0.9797282677609473, 0.3067522644996643, 0.484205421525985}},
		{2147483647, []float64{0.4290980885270983, 0.12713524978607893, 0.3852774982806295}},
	}

	for _, tc := range cases {
		next := mulberry32(tc.seed)
		for i, want := range tc.want {
			assert.Equal(t, want, next(), "seed %d draw %d", tc.seed, i)
		}
	}
}

func TestSpinnerPickIndex(t *testing.T) {
	assert.Equal(t, 2, spinnerPickIndex(12345, 3))
	assert.Equal(t, 2, spinnerPickIndex(42, 4))
	assert.Equal(t, 0, spinnerPickIndex(7, 6))
	assert.Equal(t, 0, spinnerPickIndex(7, 0))
}

func TestMakeSpinnerRanges(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for range 500 {
		s := makeSpinner(rng)
		assert.Less(t, s.Seed, uint32(1)<<31)
		assert.GreaterOrEqual(t, s.DurationMs, 2400)
		assert.Less(t, s.DurationMs, 3200)
	}
}

// Package prng provides the engine's single seedable random source: a
// uniform generator plus the Gamma(alpha, beta) and uniform-int samplers the
// coordinator and state store draw from. Workers never sample; only the
// coordinator path holds a Source, which keeps single-threaded runs
// reproducible from one seed.
package prng

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Source is a seedable uniform PRNG with Gamma and uniform-int sampling.
type Source struct {
	rng *rand.Rand
}

// New returns a Source seeded deterministically from seed. A seed of 0 is
// valid and, like any other fixed seed, makes a single-threaded run fully
// reproducible.
func New(seed uint64) *Source {
	return &Source{rng: rand.New(rand.NewSource(seed))}
}

// UniformInt returns a uniform random integer in [0, n).
func (s *Source) UniformInt(n int) int {
	return s.rng.Intn(n)
}

// Uniform returns a uniform random float64 in [0, 1).
func (s *Source) Uniform() float64 {
	return s.rng.Float64()
}

// Gamma draws a single sample from a Gamma distribution with the given
// shape and scale. distuv.Gamma takes a rate, so Beta = 1/scale.
func (s *Source) Gamma(shape, scale float64) float64 {
	g := distuv.Gamma{Alpha: shape, Beta: 1.0 / scale, Src: s.rng}
	return g.Rand()
}

// ShuffleInts performs a Fisher-Yates shuffle of v in place, used once at
// construction to build the shuffled-node array the subsample scan walks.
func (s *Source) ShuffleInts(v []int) {
	s.rng.Shuffle(len(v), func(i, j int) { v[i], v[j] = v[j], v[i] })
}

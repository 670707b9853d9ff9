// Package heldout builds the validation and (optional) test SNP sets used
// both for held-out likelihood reporting and the online stop rule.
package heldout

import (
	"github.com/Ghastn/terastructure/internal/genotype"
	"github.com/Ghastn/terastructure/internal/prng"
)

// KV identifies a single (individual, locus) genotype pair.
type KV struct {
	Indiv int
	Loc   int
}

// Set is a held-out (individual, locus) membership map.
type Set map[KV]bool

// Sets holds the disjoint validation and test sets built at startup.
type Sets struct {
	Validation Set
	Test       Set
}

// PerLocValidation returns the per-locus validation held-out count for n
// individuals: 20x the validation ratio when n<=2000 or simulation mode is
// set, else 2x.
func PerLocValidation(n int, validationRatio float64, simulation bool) int {
	if n <= 2000 || simulation {
		return int(float64(n) * validationRatio * 20)
	}
	return int(float64(n) * validationRatio * 2)
}

// PerLocTest returns the per-locus test held-out count, always 20x the test
// ratio.
func PerLocTest(n int, testRatio float64) int {
	return int(float64(n) * testRatio * 20)
}

// Build draws the validation set, and the test set if includeTest is true,
// disjointly from each other and only over valid (non-missing) genotypes.
// The two ratios and the simulation flag come straight from config.
func Build(g genotype.Provider, src *prng.Source, validationRatio, testRatio float64, includeTest, simulation bool) *Sets {
	sets := &Sets{Validation: Set{}, Test: Set{}}
	if includeTest {
		buildOne(g, src, sets, sets.Test, testRatio, PerLocTest(g.N(), testRatio))
	}
	buildOne(g, src, sets, sets.Validation, validationRatio, PerLocValidation(g.N(), validationRatio, simulation))
	return sets
}

// buildOne draws distinct loci until a fraction of L is covered, and for
// each chosen locus draws perLocH distinct individuals satisfying KVOk
// against the sets built so far (so validation and test stay disjoint
// regardless of build order). A locus without perLocH eligible individuals
// left (already saturated by the other set, or too many missing genotypes)
// is skipped and another drawn, so the redraw loop for individuals cannot
// spin on an exhausted locus.
func buildOne(g genotype.Provider, src *prng.Source, sets *Sets, target Set, ratio float64, perLocH int) {
	nlocs := int(float64(g.L()) * ratio)
	if nlocs < 1 {
		nlocs = 1
	}
	chosenLocs := map[int]bool{}
	for attempts := 0; len(chosenLocs) < nlocs && attempts < 20*g.L(); attempts++ {
		loc := src.UniformInt(g.L())
		if chosenLocs[loc] || eligible(g, sets, loc) < perLocH {
			continue
		}
		chosenLocs[loc] = true

		c := 0
		for c < perLocH {
			indiv := src.UniformInt(g.N())
			if !KVOk(g, sets, indiv, loc) {
				continue
			}
			target[KV{Indiv: indiv, Loc: loc}] = true
			c++
		}
	}
}

// eligible counts individuals at loc that could still be held out.
func eligible(g genotype.Provider, sets *Sets, loc int) int {
	c := 0
	for n := 0; n < g.N(); n++ {
		if KVOk(g, sets, n, loc) {
			c++
		}
	}
	return c
}

// KVOk reports whether (n,l) is a valid genotype and not already claimed by
// either held-out set, the predicate workers and the coordinator use to
// skip masked pairs during training.
func KVOk(g genotype.Provider, sets *Sets, n, l int) bool {
	if g.Y(n, l) == genotype.Missing {
		return false
	}
	if sets.Validation[KV{Indiv: n, Loc: l}] {
		return false
	}
	if sets.Test[KV{Indiv: n, Loc: l}] {
		return false
	}
	return true
}

// Package likelihood computes held-out per-SNP predictive log-likelihood
// and drives the online validation stop rule.
package likelihood

import (
	"math"
	"time"

	"github.com/Ghastn/terastructure/internal/genotype"
	"github.com/Ghastn/terastructure/internal/heldout"
	"github.com/Ghastn/terastructure/internal/state"
)

// clampProb keeps a binomial success probability away from the log(0)
// singularity without biasing scores at any value actually reachable by a
// converged beta-hat/theta-hat pair.
const clampProb = 1e-12

// Result is one reporting row: mean held-out log-likelihood over Count
// (individual, locus) pairs, plus its exponent for convenience.
type Result struct {
	MeanLogLik    float64
	Count         int
	ExpMeanLogLik float64
}

// Scorer computes SNP-level and aggregate held-out likelihoods against a
// Store's current theta-hat/beta-hat views.
type Scorer struct {
	store *state.Store
	geno  genotype.Provider
	start time.Time
}

// NewScorer builds a Scorer. start anchors the elapsed_seconds column every
// reported row carries.
func NewScorer(store *state.Store, geno genotype.Provider, start time.Time) *Scorer {
	return &Scorer{store: store, geno: geno, start: start}
}

// Elapsed returns the time since the scorer was constructed, the
// elapsed_seconds value every /validation.txt or /test.txt row carries.
func (s *Scorer) Elapsed() time.Duration { return time.Since(s.start) }

// SNPLikelihood returns Σₙ log p(Yₙₗ | θ̂ₙ, β̂ₗ) over indivs at locus l, where
// p(y|θ,β) = Bin(y; 2, Σₖ θₖβₗₖ). Missing genotypes are skipped, not scored
// as 0.
func (s *Scorer) SNPLikelihood(l int, indivs []int) float64 {
	k := s.store.K()
	betaRow := make([]float64, k)
	for j := 0; j < k; j++ {
		betaRow[j] = s.store.Ebeta().At(l, j)
	}

	sum := 0.0
	for _, n := range indivs {
		y := s.geno.Y(n, l)
		if y == genotype.Missing {
			continue
		}
		thetaRow := s.store.Etheta().Row(n)
		p := 0.0
		for j := 0; j < k; j++ {
			p += thetaRow[j] * betaRow[j]
		}
		sum += logBinomial2(int(y), p)
	}
	return sum
}

// logBinomial2 is log Bin(y; 2, p) for y in {0,1,2}.
func logBinomial2(y int, p float64) float64 {
	if p < clampProb {
		p = clampProb
	} else if p > 1-clampProb {
		p = 1 - clampProb
	}
	switch y {
	case 0:
		return 2 * math.Log(1-p)
	case 1:
		return math.Log(2) + math.Log(p) + math.Log(1-p)
	default:
		return 2 * math.Log(p)
	}
}

// groupByLocus partitions a held-out set's (indiv,locus) pairs by locus so
// each locus's beta row is fetched once per report.
func groupByLocus(set heldout.Set) map[int][]int {
	m := map[int][]int{}
	for kv := range set {
		m[kv.Loc] = append(m[kv.Loc], kv.Indiv)
	}
	return m
}

// ComputeLikelihood groups set by locus, sums each locus's SNPLikelihood,
// and divides by the total number of (individual, locus) pairs evaluated.
// The returned MeanLogLik is the per-SNP mean for validation and test sets
// alike, so rows from the two report files are directly comparable.
func (s *Scorer) ComputeLikelihood(set heldout.Set) Result {
	groups := groupByLocus(set)
	total := 0.0
	count := 0
	for l, indivs := range groups {
		total += s.SNPLikelihood(l, indivs)
		count += len(indivs)
	}
	if count == 0 {
		return Result{}
	}
	mean := total / float64(count)
	return Result{MeanLogLik: mean, Count: count, ExpMeanLogLik: math.Exp(mean)}
}

// StopReason enumerates why the online stop rule fired.
type StopReason int

const (
	// StopConverged fires when the mean held-out log-likelihood improved but
	// by a relative amount below 1e-5.
	StopConverged StopReason = 0
	// StopPatienceExhausted fires once the mean held-out log-likelihood has
	// dropped more than 3 times since it last improved. An unchanged score
	// neither counts as a drop nor resets the count.
	StopPatienceExhausted StopReason = 1
)

// StopRule implements the validation-only online stop rule: it only
// evaluates past iter 2000, tracks a "non-help" streak nh and the best-seen
// score max_h, and reports why it stopped.
type StopRule struct {
	nh       int
	maxH     float64
	havePrev bool
	prevA    float64
}

// NewStopRule returns a stop rule with no history yet.
func NewStopRule() *StopRule {
	return &StopRule{maxH: math.Inf(-1)}
}

// MaxH returns the best mean held-out log-likelihood observed past the
// warm-up window.
func (r *StopRule) MaxH() float64 { return r.maxH }

// NH returns the current non-help streak length.
func (r *StopRule) NH() int { return r.nh }

// Observe feeds the current iteration's mean held-out log-likelihood a into
// the rule and reports whether the engine should stop and why. The first
// 2000 iterations are a warm-up window: only the previous-score memory
// advances there; nh, max_h, and the stop checks are untouched, so noisy
// early scores can neither exhaust the patience budget nor pollute max_h.
func (r *StopRule) Observe(iter int, a float64) (stop bool, why StopReason) {
	if iter > 2000 && r.havePrev {
		p := r.prevA
		switch {
		case a > p && math.Abs(a-p)/math.Abs(p) < 1e-5:
			stop = true
			why = StopConverged
		case a < p:
			r.nh++
		case a > p:
			r.nh = 0
		}
		if a > r.maxH {
			r.maxH = a
		}
		if r.nh > 3 {
			stop = true
			why = StopPatienceExhausted
		}
	}
	r.prevA = a
	r.havePrev = true
	return stop, why
}

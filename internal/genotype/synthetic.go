package genotype

import "github.com/Ghastn/terastructure/internal/prng"

// NewSynthetic builds a Matrix drawn from a simple admixture-like generative
// process: K population allele frequencies per locus, one random population
// assignment per individual (shared by both allele copies), and
// Binomial(2, p) genotypes.
// It exists purely to exercise the engine end-to-end (simulation mode and
// tests) without a genotype file.
func NewSynthetic(n, l, k int, src *prng.Source) *Matrix {
	freqs := make([]float64, l*k)
	for i := range freqs {
		freqs[i] = 0.1 + 0.8*src.Uniform()
	}

	y := make([]int8, n*l)
	for i := 0; i < n; i++ {
		pop := src.UniformInt(k)
		for j := 0; j < l; j++ {
			p := freqs[j*k+pop]
			count := 0
			if src.Uniform() < p {
				count++
			}
			if src.Uniform() < p {
				count++
			}
			y[i*l+j] = int8(count)
		}
	}

	maf := make([]float64, l)
	for j := 0; j < l; j++ {
		avg := 0.0
		for kk := 0; kk < k; kk++ {
			avg += freqs[j*k+kk]
		}
		avg /= float64(k)
		if avg > 0.5 {
			avg = 1 - avg
		}
		maf[j] = avg
	}

	return NewMatrix(n, l, y, maf, nil)
}

// WithMissing clears a fraction of entries to Missing, deterministically
// via src, for exercising kv_ok-driven skip paths.
func WithMissing(m *Matrix, fraction float64, src *prng.Source) *Matrix {
	y := append([]int8(nil), m.y...)
	for i := range y {
		if src.Uniform() < fraction {
			y[i] = Missing
		}
	}
	return NewMatrix(m.n, m.l, y, m.maf, m.labels)
}

// Package state owns the engine's variational parameters: gamma, lambda,
// their priors, the derived expected-log and normalized views, and the
// per-individual/per-locus Robbins-Monro step schedules.
package state

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Ghastn/terastructure/internal/prng"
	"github.com/Ghastn/terastructure/internal/tensor"
)

// Store is the shared variational state: row-partitioned writes by workers
// (gamma, Elogtheta, Etheta) and coordinator-only writes (lambda, Elogbeta,
// Ebeta). No mutex guards any of this; correctness depends on callers
// respecting that ownership discipline.
type Store struct {
	n, k, l, t int

	alpha []float64      // K, Dirichlet prior on theta
	eta   *tensor.Matrix2D // K x T, Beta prior on beta

	gamma  *tensor.Matrix2D // N x K
	lambda *tensor.Matrix3D // L x K x T

	elogTheta *tensor.Matrix2D // N x K
	elogBeta  *tensor.Matrix3D // L x K x T
	etheta    *tensor.Matrix2D // N x K, normalized gamma
	ebeta     *tensor.Matrix2D // L x K, lambda[.,.,0]/(lambda[.,.,0]+lambda[.,.,1])

	cIndiv   []int
	cLoc     []int
	rhoIndiv []float64
	rhoLoc   []float64

	tau0, kappa         float64
	nodeTau0, nodeKappa float64
}

// Schedule carries the two independent Robbins-Monro step schedules:
// (tau0+1, kappa) for loci, (nodetau0+1, nodekappa) for individuals.
// Callers pass the raw config values; New adds the +1 offset.
type Schedule struct {
	Tau0, Kappa         float64
	NodeTau0, NodeKappa float64
}

// New allocates a Store for n individuals, k populations, l loci, and t
// allele-copy slots (t=2 for biallelic data). alpha0 fills the Dirichlet
// prior uniformly; eta0/eta1 fill the Beta prior per population. Priors are
// immutable after construction.
func New(n, k, l, t int, alpha0, eta0, eta1 float64, sched Schedule) *Store {
	s := &Store{
		n: n, k: k, l: l, t: t,
		alpha:     make([]float64, k),
		eta:       tensor.NewMatrix2D(k, t),
		gamma:     tensor.NewMatrix2D(n, k),
		lambda:    tensor.NewMatrix3D(l, k, t),
		elogTheta: tensor.NewMatrix2D(n, k),
		elogBeta:  tensor.NewMatrix3D(l, k, t),
		etheta:    tensor.NewMatrix2D(n, k),
		ebeta:     tensor.NewMatrix2D(l, k),
		cIndiv:    make([]int, n),
		cLoc:      make([]int, l),
		rhoIndiv:  make([]float64, n),
		rhoLoc:    make([]float64, l),
		tau0:      sched.Tau0 + 1,
		kappa:     sched.Kappa,
		nodeTau0:  sched.NodeTau0 + 1,
		nodeKappa: sched.NodeKappa,
	}
	for k2 := 0; k2 < k; k2++ {
		s.alpha[k2] = alpha0
		s.eta.Set(k2, 0, eta0)
		s.eta.Set(k2, 1, eta1)
	}
	return s
}

// Init draws gamma from Gamma(100v, 0.01) and lambda from eta plus the same
// draw, then refreshes the expected-log views. v = 1 if K<100, else 100/K,
// concentrating the initial draws more tightly as K grows.
func (s *Store) Init(src *prng.Source) {
	v := 1.0
	if s.k >= 100 {
		v = 100.0 / float64(s.k)
	}
	for n := 0; n < s.n; n++ {
		row := s.gamma.Row(n)
		for k := range row {
			row[k] = src.Gamma(100*v, 0.01)
		}
	}
	tensor.SetDirExp(s.gamma, s.elogTheta)

	for l := 0; l < s.l; l++ {
		for k := 0; k < s.k; k++ {
			slice := s.lambda.Slice(l, k)
			for t := range slice {
				slice[t] = s.eta.At(k, t) + src.Gamma(100*v, 0.01)
			}
		}
	}
	tensor.SetDirExpBeta(s.lambda, s.elogBeta)
	s.EstimateAllTheta()
}

// N, K, L, T are the model's fixed dimensions.
func (s *Store) N() int { return s.n }
func (s *Store) K() int { return s.k }
func (s *Store) L() int { return s.l }
func (s *Store) T() int { return s.t }

// Gamma returns the N×K variational Dirichlet parameters.
func (s *Store) Gamma() *tensor.Matrix2D { return s.gamma }

// Lambda returns the L×K×T variational Beta parameters.
func (s *Store) Lambda() *tensor.Matrix3D { return s.lambda }

// ElogTheta returns the N×K expected-log-theta view.
func (s *Store) ElogTheta() *tensor.Matrix2D { return s.elogTheta }

// ElogBeta returns the L×K×T expected-log-beta view.
func (s *Store) ElogBeta() *tensor.Matrix3D { return s.elogBeta }

// Etheta returns the N×K normalized theta-hat view.
func (s *Store) Etheta() *tensor.Matrix2D { return s.etheta }

// Ebeta returns the L×K normalized beta-hat view.
func (s *Store) Ebeta() *tensor.Matrix2D { return s.ebeta }

// Alpha returns the Dirichlet prior component for population k.
func (s *Store) Alpha(k int) float64 { return s.alpha[k] }

// Eta returns the Beta prior component (k,t).
func (s *Store) Eta(k, t int) float64 { return s.eta.At(k, t) }

// RhoIndiv returns the current individual learning rate for n.
func (s *Store) RhoIndiv(n int) float64 { return s.rhoIndiv[n] }

// RhoLoc returns the current locus learning rate for l.
func (s *Store) RhoLoc(l int) float64 { return s.rhoLoc[l] }

// CIndiv returns the number of gamma-updates applied to row n.
func (s *Store) CIndiv(n int) int { return s.cIndiv[n] }

// CLoc returns the number of lambda-updates applied to locus l.
func (s *Store) CLoc(l int) int { return s.cLoc[l] }

// UpdateRhoIndiv advances individual n's Robbins-Monro schedule: increments
// cIndiv[n] and recomputes rhoIndiv[n] = (nodeTau0+c)^-nodeKappa. Called
// exactly once per gamma update for n.
func (s *Store) UpdateRhoIndiv(n int) {
	s.rhoIndiv[n] = math.Pow(s.nodeTau0+float64(s.cIndiv[n]), -s.nodeKappa)
	s.cIndiv[n]++
}

// UpdateRhoLoc advances locus l's Robbins-Monro schedule analogously.
func (s *Store) UpdateRhoLoc(l int) {
	s.rhoLoc[l] = math.Pow(s.tau0+float64(s.cLoc[l]), -s.kappa)
	s.cLoc[l]++
}

// EstimateThetaRow recomputes theta-hat and Elogtheta for row n from the
// current gamma row, the way a worker does immediately after updating the
// rows it owns.
func (s *Store) EstimateThetaRow(n int) {
	row := s.gamma.Row(n)
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	thetaRow := s.etheta.Row(n)
	elogRow := s.elogTheta.Row(n)
	psiSum := tensor.Digamma(sum)
	for k, v := range row {
		thetaRow[k] = v / sum
		elogRow[k] = tensor.Digamma(v) - psiSum
	}
}

// EstimateAllTheta recomputes theta-hat/Elogtheta for every individual,
// used once after initialization.
func (s *Store) EstimateAllTheta() {
	for n := 0; n < s.n; n++ {
		s.EstimateThetaRow(n)
	}
}

// EstimateBetaLoc recomputes beta-hat and Elogbeta for locus l from the
// current lambda row.
func (s *Store) EstimateBetaLoc(l int) {
	for k := 0; k < s.k; k++ {
		slice := s.lambda.Slice(l, k)
		sum := 0.0
		for _, v := range slice {
			sum += v
		}
		s.ebeta.Set(l, k, slice[0]/sum)
		psiSum := tensor.Digamma(sum)
		eslice := s.elogBeta.Slice(l, k)
		for t, v := range slice {
			eslice[t] = tensor.Digamma(v) - psiSum
		}
	}
}

// LoadModel reloads a previously saved beta/theta pair, restoring Ebeta and
// Etheta without re-fitting gamma/lambda, to resume reporting against a
// previously written checkpoint.
func (s *Store) LoadModel(betaFile, thetaFile io.Reader) error {
	if err := s.loadBeta(betaFile); err != nil {
		return fmt.Errorf("state: loading beta: %w", err)
	}
	if err := s.loadTheta(thetaFile); err != nil {
		return fmt.Errorf("state: loading theta: %w", err)
	}
	return nil
}

func (s *Store) loadBeta(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	l := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < s.k+1 {
			return fmt.Errorf("row %d: want at least %d fields, got %d", l, s.k+1, len(fields))
		}
		for k := 0; k < s.k; k++ {
			v, err := strconv.ParseFloat(fields[k+1], 64)
			if err != nil {
				return err
			}
			s.ebeta.Set(l, k, v)
		}
		l++
	}
	return scanner.Err()
}

func (s *Store) loadTheta(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// fields[0] = index, fields[1] = label, fields[2:2+k] = theta, last = argmax
		if len(fields) < s.k+2 {
			return fmt.Errorf("row %d: want at least %d fields, got %d", n, s.k+2, len(fields))
		}
		for k := 0; k < s.k; k++ {
			v, err := strconv.ParseFloat(fields[k+2], 64)
			if err != nil {
				return err
			}
			s.etheta.Set(n, k, v)
		}
		n++
	}
	return scanner.Err()
}

// Package tensor provides the dense numeric containers and elementwise
// kernels the SVI engine runs its natural-gradient updates over: row-major
// N×K and L×K×T matrices, Dirichlet/Beta expected-log transforms, and the
// handful of vector ops (lognormalize, abs-mean) those updates need.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mathext"
)

// Matrix2D is a dense, row-major M×N matrix of float64.
type Matrix2D struct {
	rows, cols int
	data       []float64
}

// NewMatrix2D allocates a zeroed rows×cols matrix.
func NewMatrix2D(rows, cols int) *Matrix2D {
	return &Matrix2D{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// Rows returns the row count.
func (m *Matrix2D) Rows() int { return m.rows }

// Cols returns the column count.
func (m *Matrix2D) Cols() int { return m.cols }

// Row returns the backing slice for row i. Mutating it mutates the matrix.
// Callers rely on this to hand a worker goroutine exclusive ownership of a
// contiguous row range for the duration of an iteration.
func (m *Matrix2D) Row(i int) []float64 {
	o := i * m.cols
	return m.data[o : o+m.cols]
}

// At returns element (i,j).
func (m *Matrix2D) At(i, j int) float64 { return m.data[i*m.cols+j] }

// Set assigns element (i,j).
func (m *Matrix2D) Set(i, j int, v float64) { m.data[i*m.cols+j] = v }

// SetElements fills row i with a scalar.
func (m *Matrix2D) SetElements(i int, v float64) {
	row := m.Row(i)
	for j := range row {
		row[j] = v
	}
}

// SetRow copies vals into row i. len(vals) must equal m.Cols().
func (m *Matrix2D) SetRow(i int, vals []float64) {
	copy(m.Row(i), vals)
}

// Zero resets every element of the matrix to 0, used to clear a worker's
// local lambda-accumulator at the start of each chunk.
func (m *Matrix2D) Zero() {
	for i := range m.data {
		m.data[i] = 0
	}
}

// RowSum returns the sum of row i.
func (m *Matrix2D) RowSum(i int) float64 {
	s := 0.0
	for _, v := range m.Row(i) {
		s += v
	}
	return s
}

// Matrix3D is a dense, row-major L×K×T matrix of float64.
type Matrix3D struct {
	l, k, t int
	data    []float64
}

// NewMatrix3D allocates a zeroed L×K×T matrix.
func NewMatrix3D(l, k, t int) *Matrix3D {
	return &Matrix3D{l: l, k: k, t: t, data: make([]float64, l*k*t)}
}

func (m *Matrix3D) L() int { return m.l }
func (m *Matrix3D) K() int { return m.k }
func (m *Matrix3D) T() int { return m.t }

func (m *Matrix3D) offset(l, k int) int { return (l*m.k + k) * m.t }

// At returns element (l,k,t).
func (m *Matrix3D) At(l, k, t int) float64 { return m.data[m.offset(l, k)+t] }

// Set assigns element (l,k,t).
func (m *Matrix3D) Set(l, k, t int, v float64) { m.data[m.offset(l, k)+t] = v }

// Slice returns the backing T-length slice for (l,k). Mutating it mutates
// the matrix; λ updates use this to touch only the current locus's row.
func (m *Matrix3D) Slice(l, k int) []float64 {
	o := m.offset(l, k)
	return m.data[o : o+m.t]
}

// LocRows returns the K×T backing slice for locus l as a flat []float64,
// laid out k-major then t. Sub and CopyLoc use it for the init phase's
// per-locus change check.
func (m *Matrix3D) LocRows(l int) []float64 {
	o := l * m.k * m.t
	return m.data[o : o+m.k*m.t]
}

// LogNormalize overwrites v in place with exp(v-max(v)) / sum(exp(v-max(v))),
// i.e. a numerically stable softmax. v must be non-empty.
func LogNormalize(v []float64) {
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	sum := 0.0
	for i, x := range v {
		e := math.Exp(x - max)
		v[i] = e
		sum += e
	}
	for i := range v {
		v[i] /= sum
	}
}

// Sub fills v with A[l,·,·] - B, i.e. the K·T-length delta between locus l
// of a Matrix3D and a flat K·T snapshot of the same shape (typically a
// pre-update copy of that same locus, as used by the meanchangethresh check).
func Sub(l int, a *Matrix3D, b []float64, v []float64) {
	arow := a.LocRows(l)
	for i := range v {
		v[i] = arow[i] - b[i]
	}
}

// CopyLoc returns a fresh copy of locus l's K·T backing slice, for callers
// that need a pre-update snapshot to diff against after mutating in place.
func (m *Matrix3D) CopyLoc(l int) []float64 {
	return append([]float64(nil), m.LocRows(l)...)
}

// AbsMean returns the mean absolute value of v.
func AbsMean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += math.Abs(x)
	}
	return s / float64(len(v))
}

// Digamma is the stable ψ implementation every expected-log transform in
// this package relies on.
func Digamma(x float64) float64 {
	return mathext.Digamma(x)
}

// SetDirExp fills E (N×K) with the Dirichlet expected-log transform of D
// (N×K): E[n,k] = ψ(D[n,k]) - ψ(Σ_j D[n,j]).
func SetDirExp(d, e *Matrix2D) {
	if d.rows != e.rows || d.cols != e.cols {
		panic(fmt.Sprintf("tensor: SetDirExp shape mismatch %dx%d vs %dx%d", d.rows, d.cols, e.rows, e.cols))
	}
	for n := 0; n < d.rows; n++ {
		SetDirExpRow(d, e, n)
	}
}

// SetDirExpRow refreshes a single row of E from D; SetDirExp applies it to
// every row.
func SetDirExpRow(d, e *Matrix2D, row int) {
	drow := d.Row(row)
	erow := e.Row(row)
	s := 0.0
	for _, v := range drow {
		s += v
	}
	psiSum := Digamma(s)
	for k, v := range drow {
		erow[k] = Digamma(v) - psiSum
	}
}

// SetDirExpBeta fills E (L×K×T) with the Beta two-parameter expected-log
// transform of D (L×K×T): E[l,k,t] = ψ(D[l,k,t]) - ψ(D[l,k,0]+D[l,k,1]).
func SetDirExpBeta(d, e *Matrix3D) {
	for l := 0; l < d.l; l++ {
		SetDirExpBetaLoc(d, e, l)
	}
}

// SetDirExpBetaLoc refreshes locus l only; SetDirExpBeta applies it to every
// locus.
func SetDirExpBetaLoc(d, e *Matrix3D, l int) {
	for k := 0; k < d.k; k++ {
		dslice := d.Slice(l, k)
		s := 0.0
		for _, v := range dslice {
			s += v
		}
		psiSum := Digamma(s)
		eslice := e.Slice(l, k)
		for t, v := range dslice {
			eslice[t] = Digamma(v) - psiSum
		}
	}
}

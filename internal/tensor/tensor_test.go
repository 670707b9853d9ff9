package tensor

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogNormalize(t *testing.T) {
	Convey("Given an arbitrary vector", t, func() {
		v := []float64{1.0, 2.0, 3.0, -4.0}
		LogNormalize(v)

		Convey("It becomes a simplex", func() {
			sum := 0.0
			for _, x := range v {
				So(x, ShouldBeGreaterThan, 0)
				sum += x
			}
			So(sum, ShouldAlmostEqual, 1.0, 1e-9)
		})

		Convey("Log-normalizing the log of a simplex gives the simplex back", func() {
			again := make([]float64, len(v))
			for i, x := range v {
				again[i] = math.Log(x)
			}
			LogNormalize(again)
			for i := range v {
				So(again[i], ShouldAlmostEqual, v[i], 1e-12)
			}
		})
	})
}

func TestLogNormalizeStability(t *testing.T) {
	Convey("Given extreme-magnitude inputs", t, func() {
		v := []float64{1e300, -1e300, 0}
		LogNormalize(v)

		Convey("The result is finite and a valid simplex", func() {
			sum := 0.0
			for _, x := range v {
				So(math.IsInf(x, 0), ShouldBeFalse)
				So(math.IsNaN(x), ShouldBeFalse)
				sum += x
			}
			So(sum, ShouldAlmostEqual, 1.0, 1e-9)
		})
	})
}

func TestSetDirExp(t *testing.T) {
	Convey("Given a Dirichlet parameter matrix with widely varying magnitudes", t, func() {
		d := NewMatrix2D(1, 2)
		d.Set(0, 0, 1e-4)
		d.Set(0, 1, 1e6)
		e := NewMatrix2D(1, 2)

		SetDirExp(d, e)

		Convey("The expected logs are finite", func() {
			So(math.IsNaN(e.At(0, 0)), ShouldBeFalse)
			So(math.IsInf(e.At(0, 0), 0), ShouldBeFalse)
			So(math.IsNaN(e.At(0, 1)), ShouldBeFalse)
			So(math.IsInf(e.At(0, 1), 0), ShouldBeFalse)
		})

		Convey("It matches the digamma definition to high precision", func() {
			s := d.At(0, 0) + d.At(0, 1)
			want0 := Digamma(d.At(0, 0)) - Digamma(s)
			So(e.At(0, 0), ShouldAlmostEqual, want0, 1e-10)
		})

		Convey("lognormalize of Elogtheta+Elogbeta yields a valid simplex", func() {
			v := []float64{e.At(0, 0) + 0.1, e.At(0, 1) - 0.2}
			LogNormalize(v)
			So(v[0]+v[1], ShouldAlmostEqual, 1.0, 1e-9)
			// v[0] is about exp(-10014), which underflows to 0 in float64.
			So(v[0], ShouldAlmostEqual, 0.0, 1e-12)
			So(v[1], ShouldBeGreaterThan, 0)
		})
	})
}

func TestSetDirExpRowIndependence(t *testing.T) {
	Convey("Given a matrix with several independent rows", t, func() {
		d := NewMatrix2D(3, 2)
		for n := 0; n < 3; n++ {
			d.Set(n, 0, float64(n+1)*2.5)
			d.Set(n, 1, float64(n+1)*1.5)
		}

		Convey("Processing rows in any order yields identical results", func() {
			forward := NewMatrix2D(3, 2)
			SetDirExp(d, forward)

			reverse := NewMatrix2D(3, 2)
			for n := 2; n >= 0; n-- {
				SetDirExpRow(d, reverse, n)
			}

			for n := 0; n < 3; n++ {
				for k := 0; k < 2; k++ {
					So(reverse.At(n, k), ShouldAlmostEqual, forward.At(n, k), 1e-12)
				}
			}
		})
	})
}

func TestSetDirExpBeta(t *testing.T) {
	Convey("Given a Beta (L x K x T) parameter tensor", t, func() {
		d := NewMatrix3D(2, 2, 2)
		for l := 0; l < 2; l++ {
			for k := 0; k < 2; k++ {
				d.Set(l, k, 0, 3.0)
				d.Set(l, k, 1, 5.0)
			}
		}
		e := NewMatrix3D(2, 2, 2)
		SetDirExpBeta(d, e)

		Convey("Each (l,k,t) matches the two-parameter Beta expected-log form", func() {
			psiSum := Digamma(8.0)
			So(e.At(0, 0, 0), ShouldAlmostEqual, Digamma(3.0)-psiSum, 1e-10)
			So(e.At(0, 0, 1), ShouldAlmostEqual, Digamma(5.0)-psiSum, 1e-10)
		})

		Convey("SetDirExpBetaLoc refreshing one locus doesn't touch others", func() {
			other := NewMatrix3D(2, 2, 2)
			SetDirExpBeta(d, other)
			d.Set(1, 0, 0, 9.0)
			SetDirExpBetaLoc(d, other, 1)
			So(other.At(0, 0, 0), ShouldAlmostEqual, e.At(0, 0, 0), 1e-12)
			So(other.At(1, 0, 0), ShouldNotAlmostEqual, e.At(1, 0, 0), 1e-12)
		})
	})
}

func TestAbsMeanAndSub(t *testing.T) {
	Convey("Given a K x T matrix and a flat snapshot for the same locus", t, func() {
		a := NewMatrix3D(1, 2, 2)
		a.Set(0, 0, 0, 5)
		a.Set(0, 0, 1, 5)
		a.Set(0, 1, 0, 5)
		a.Set(0, 1, 1, 5)
		b := []float64{2, 8, 1, 9}

		v := make([]float64, 4)
		Sub(0, a, b, v)

		Convey("Sub computes an elementwise delta", func() {
			So(v, ShouldResemble, []float64{3, -3, 4, -4})
		})

		Convey("AbsMean is the mean absolute delta", func() {
			So(AbsMean(v), ShouldAlmostEqual, 3.5, 1e-12)
		})
	})
}

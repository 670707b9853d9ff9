package prng

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDeterminism(t *testing.T) {
	Convey("Given two sources built from the same seed", t, func() {
		a := New(42)
		b := New(42)

		Convey("Their draw sequences are identical", func() {
			for i := 0; i < 50; i++ {
				So(a.UniformInt(1000), ShouldEqual, b.UniformInt(1000))
			}
			for i := 0; i < 50; i++ {
				So(a.Gamma(100, 0.01), ShouldEqual, b.Gamma(100, 0.01))
			}
		})
	})

	Convey("Given two sources built from different seeds", t, func() {
		a := New(1)
		b := New(2)

		Convey("Their draws eventually diverge", func() {
			diverged := false
			for i := 0; i < 50; i++ {
				if a.UniformInt(1_000_000) != b.UniformInt(1_000_000) {
					diverged = true
					break
				}
			}
			So(diverged, ShouldBeTrue)
		})
	})
}

func TestGammaPositive(t *testing.T) {
	Convey("Gamma draws with positive shape/scale are always positive", t, func() {
		s := New(7)
		for i := 0; i < 200; i++ {
			So(s.Gamma(100, 0.01), ShouldBeGreaterThan, 0)
		}
	})
}

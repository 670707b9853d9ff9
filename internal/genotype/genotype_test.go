package genotype

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Ghastn/terastructure/internal/prng"
)

func TestLoadTSV(t *testing.T) {
	Convey("Given a small TSV genotype matrix with labels", t, func() {
		input := "ind1\t0\t1\t2\n" + "ind2\t2\t?\t0\n"
		m, err := LoadTSV(strings.NewReader(input), true)

		Convey("It parses without error", func() {
			So(err, ShouldBeNil)
			So(m.N(), ShouldEqual, 2)
			So(m.L(), ShouldEqual, 3)
		})

		Convey("Values and missing sentinels round-trip", func() {
			So(m.Y(0, 0), ShouldEqual, int8(0))
			So(m.Y(0, 2), ShouldEqual, int8(2))
			So(m.Y(1, 1), ShouldEqual, Missing)
		})

		Convey("Labels are preserved", func() {
			So(m.Label(0), ShouldEqual, "ind1")
			So(m.Label(1), ShouldEqual, "ind2")
		})
	})
}

func TestLoadTSVRejectsRaggedRows(t *testing.T) {
	Convey("Given rows of differing width", t, func() {
		input := "0\t1\t2\n" + "0\t1\n"
		_, err := LoadTSV(strings.NewReader(input), false)

		Convey("Loading fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSynthetic(t *testing.T) {
	Convey("Given a synthetic matrix", t, func() {
		src := prng.New(7)
		m := NewSynthetic(20, 30, 3, src)

		Convey("Every genotype is a valid allele count", func() {
			for n := 0; n < m.N(); n++ {
				for l := 0; l < m.L(); l++ {
					v := m.Y(n, l)
					So(v, ShouldBeBetweenOrEqual, int8(0), int8(2))
				}
			}
		})

		Convey("MAF is within [0, 0.5]", func() {
			for l := 0; l < m.L(); l++ {
				maf := m.MAF(l)
				So(maf, ShouldBeGreaterThanOrEqualTo, 0)
				So(maf, ShouldBeLessThanOrEqualTo, 0.5)
			}
		})
	})
}

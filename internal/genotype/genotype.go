// Package genotype gives the engine read-only access to the N×L genotype
// matrix Y, per-locus minor-allele frequencies, and individual labels. The
// engine only ever reads through the Provider
// interface; parsing a concrete source file is a boundary concern kept
// deliberately small and dependency-free.
package genotype

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Missing is the sentinel genotype value for an unobserved (indiv, locus)
// pair; any other value must be in {0,1,2}.
const Missing int8 = -1

// Provider is the external collaborator the engine depends on: read-only
// access to genotypes, MAFs, and individual labels.
type Provider interface {
	// N is the individual count.
	N() int
	// L is the locus count.
	L() int
	// Y returns the genotype at (n, l): 0, 1, 2, or Missing.
	Y(n, l int) int8
	// MAF returns locus l's minor allele frequency. The uniform locus
	// sampler never consults it; it is part of the provider contract for
	// frequency-aware samplers.
	MAF(l int) float64
	// Label returns individual n's label, or "" if unknown.
	Label(n int) string
}

// Matrix is an in-memory Provider backed by a dense []int8 genotype matrix.
type Matrix struct {
	n, l   int
	y      []int8
	maf    []float64
	labels []string
}

// NewMatrix builds a Matrix Provider from a pre-populated genotype slice
// (row-major, N*L long), per-locus MAFs (length L, may be nil), and labels
// (length N, may be nil).
func NewMatrix(n, l int, y []int8, maf []float64, labels []string) *Matrix {
	if len(y) != n*l {
		panic(fmt.Sprintf("genotype: y has length %d, want %d", len(y), n*l))
	}
	return &Matrix{n: n, l: l, y: y, maf: maf, labels: labels}
}

func (m *Matrix) N() int { return m.n }
func (m *Matrix) L() int { return m.l }

func (m *Matrix) Y(n, l int) int8 { return m.y[n*m.l+l] }

func (m *Matrix) MAF(l int) float64 {
	if m.maf == nil {
		return computeMAF(m, l)
	}
	return m.maf[l]
}

func (m *Matrix) Label(n int) string {
	if m.labels == nil || n >= len(m.labels) {
		return ""
	}
	return m.labels[n]
}

func computeMAF(m *Matrix, l int) float64 {
	sum, count := 0, 0
	for n := 0; n < m.n; n++ {
		y := m.Y(n, l)
		if y == Missing {
			continue
		}
		sum += int(y)
		count++
	}
	if count == 0 {
		return 0
	}
	freq := float64(sum) / float64(2*count)
	if freq > 0.5 {
		return 1 - freq
	}
	return freq
}

// LoadTSV reads a whitespace/tab-delimited genotype matrix: one row per
// individual, optionally prefixed by a label column, with L integer
// genotype fields in {0,1,2} or "?"/"-1" for missing.
func LoadTSV(r io.Reader, hasLabels bool) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)

	var y [][]int8
	var labels []string
	l := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if hasLabels {
			labels = append(labels, fields[0])
			fields = fields[1:]
		}
		if l == -1 {
			l = len(fields)
		} else if len(fields) != l {
			return nil, fmt.Errorf("genotype: row %d has %d fields, want %d", len(y), len(fields), l)
		}
		row := make([]int8, l)
		for j, f := range fields {
			if f == "?" || f == "-1" {
				row[j] = Missing
				continue
			}
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("genotype: parsing field %q: %w", f, err)
			}
			if v < 0 || v > 2 {
				return nil, fmt.Errorf("genotype: value %d out of range {0,1,2}", v)
			}
			row[j] = int8(v)
		}
		y = append(y, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	n := len(y)
	flat := make([]int8, n*l)
	for i, row := range y {
		copy(flat[i*l:(i+1)*l], row)
	}
	if !hasLabels {
		labels = nil
	}
	return NewMatrix(n, l, flat, nil, labels), nil
}

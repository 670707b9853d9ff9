// Package report writes the engine's plain-text output files: per-entity
// gamma/theta/beta dumps, validation/test likelihood rows, the final
// max.txt stop summary, and the held-out sampler's locus diagnostics.
package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ghastn/terastructure/internal/genotype"
	"github.com/Ghastn/terastructure/internal/heldout"
	"github.com/Ghastn/terastructure/internal/likelihood"
	"github.com/Ghastn/terastructure/internal/state"
)

// Writer owns the output directory and the file_suffix toggle governing
// whether report filenames carry an "_<iter>" suffix.
type Writer struct {
	dir        string
	fileSuffix bool
}

// New returns a Writer rooted at dir.
func New(dir string, fileSuffix bool) *Writer {
	return &Writer{dir: dir, fileSuffix: fileSuffix}
}

// path builds the full path for a base report name ("gamma", "beta", ...)
// at the given iteration, honoring the file_suffix toggle.
func (w *Writer) path(base string, iter int) string {
	if w.fileSuffix {
		return filepath.Join(w.dir, fmt.Sprintf("%s_%d.txt", base, iter))
	}
	return filepath.Join(w.dir, base+".txt")
}

// WriteGammaTheta writes /gamma[_iter].txt and /theta[_iter].txt: one row
// per individual, `n <label> γₙ₀ ... γₙ,K-1 argmaxₖγₙₖ` (and the same with
// theta-hat).
func (w *Writer) WriteGammaTheta(st *state.Store, geno genotype.Provider, iter int) error {
	gf, err := os.Create(w.path("gamma", iter))
	if err != nil {
		return fmt.Errorf("report: opening gamma file: %w", err)
	}
	defer gf.Close()
	tf, err := os.Create(w.path("theta", iter))
	if err != nil {
		return fmt.Errorf("report: opening theta file: %w", err)
	}
	defer tf.Close()

	gw := bufio.NewWriter(gf)
	tw := bufio.NewWriter(tf)
	defer gw.Flush()
	defer tw.Flush()

	k := st.K()
	for n := 0; n < st.N(); n++ {
		label := geno.Label(n)
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(gw, "%d\t%s\t", n, label)
		fmt.Fprintf(tw, "%d\t%s\t", n, label)

		gammaRow := st.Gamma().Row(n)
		thetaRow := st.Etheta().Row(n)
		maxK := 0
		maxV := 0.0
		for j := 0; j < k; j++ {
			fmt.Fprintf(gw, "%.8f\t", gammaRow[j])
			fmt.Fprintf(tw, "%.8f\t", thetaRow[j])
			if gammaRow[j] > maxV {
				maxV = gammaRow[j]
				maxK = j
			}
		}
		fmt.Fprintf(gw, "%d\n", maxK)
		fmt.Fprintf(tw, "%d\n", maxK)
	}
	return nil
}

// WriteBeta writes /beta[_iter].txt: one row per locus, `ℓ β̂ℓ0 ... β̂ℓ,K-1`.
func (w *Writer) WriteBeta(st *state.Store, iter int) error {
	f, err := os.Create(w.path("beta", iter))
	if err != nil {
		return fmt.Errorf("report: opening beta file: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	defer bw.Flush()

	k := st.K()
	for l := 0; l < st.L(); l++ {
		fmt.Fprintf(bw, "%d\t", l)
		for j := 0; j < k; j++ {
			fmt.Fprintf(bw, "%.8f\t", st.Ebeta().At(l, j))
		}
		fmt.Fprintln(bw)
	}
	return nil
}

// LikelihoodFile is an append-only handle to /validation.txt or /test.txt.
type LikelihoodFile struct {
	f     *os.File
	start time.Time
}

// openLikelihoodFile opens name under dir for appending, creating it first
// if absent. These files are opened once at startup and appended to on
// every report, not reopened each time.
func openLikelihoodFile(dir, name string, start time.Time) (*LikelihoodFile, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: opening %s: %w", name, err)
	}
	return &LikelihoodFile{f: f, start: start}, nil
}

// OpenValidationFile opens /validation.txt for appending.
func OpenValidationFile(dir string, start time.Time) (*LikelihoodFile, error) {
	return openLikelihoodFile(dir, "validation.txt", start)
}

// OpenTestFile opens /test.txt for appending.
func OpenTestFile(dir string, start time.Time) (*LikelihoodFile, error) {
	return openLikelihoodFile(dir, "test.txt", start)
}

// Close closes the underlying file.
func (lf *LikelihoodFile) Close() error { return lf.f.Close() }

// Append writes one `iter secs mean_loglik count exp(mean_loglik)` row.
func (lf *LikelihoodFile) Append(iter int, r likelihood.Result) error {
	secs := int(time.Since(lf.start).Seconds())
	_, err := fmt.Fprintf(lf.f, "%d\t%d\t%.9f\t%d\t%f\n", iter, secs, r.MeanLogLik, r.Count, r.ExpMeanLogLik)
	return err
}

// WriteMax writes /max.txt on stop: `iter secs a train val max_h why`.
// The train and val columns are fixed at 0; nothing computes them at stop
// time and downstream tooling keys on the other five columns.
func (w *Writer) WriteMax(iter int, elapsed time.Duration, a, maxH float64, why likelihood.StopReason) error {
	f, err := os.Create(filepath.Join(w.dir, "max.txt"))
	if err != nil {
		return fmt.Errorf("report: opening max.txt: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\t%d\t%.5f\t%.5f\t%.5f\t%.5f\t%d\n",
		iter, int(elapsed.Seconds()), a, 0.0, 0.0, maxH, int(why))
	return err
}

// WriteLocDiagnostics writes the held-out sampler's per-locus diagnostics
// once at startup: /validation-locs.txt counts validation pairs,
// /heldout-locs.txt counts validation plus test pairs, and
// /training-locs.txt counts n minus both (missing genotypes are not
// subtracted).
func (w *Writer) WriteLocDiagnostics(n, l int, sets *heldout.Sets) error {
	validationByLoc := make([]int, l)
	testByLoc := make([]int, l)
	for kv := range sets.Validation {
		validationByLoc[kv.Loc]++
	}
	for kv := range sets.Test {
		testByLoc[kv.Loc]++
	}

	if err := writeLocCounts(filepath.Join(w.dir, "validation-locs.txt"), validationByLoc); err != nil {
		return err
	}
	if err := writeLocCounts(filepath.Join(w.dir, "heldout-locs.txt"), addCounts(validationByLoc, testByLoc)); err != nil {
		return err
	}
	training := make([]int, l)
	for i := range training {
		training[i] = n - validationByLoc[i] - testByLoc[i]
	}
	return writeLocCounts(filepath.Join(w.dir, "training-locs.txt"), training)
}

func addCounts(a, b []int) []int {
	out := make([]int, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func writeLocCounts(path string, counts []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: opening %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	defer bw.Flush()
	for l, c := range counts {
		fmt.Fprintf(bw, "%d\t%d\n", l, c)
	}
	return nil
}

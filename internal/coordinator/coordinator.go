// Package coordinator implements the single coordinator goroutine driving
// the SVI main loop (and the optional init phase): subsampling, chunk
// partitioning, reducing worker contributions, the global lambda/beta step,
// periodic reporting, and the checkpoint/stop poll.
package coordinator

import (
	"context"
	"math"
	"time"

	"github.com/Ghastn/terastructure/internal/config"
	"github.com/Ghastn/terastructure/internal/genotype"
	"github.com/Ghastn/terastructure/internal/heldout"
	"github.com/Ghastn/terastructure/internal/likelihood"
	"github.com/Ghastn/terastructure/internal/prng"
	"github.com/Ghastn/terastructure/internal/report"
	"github.com/Ghastn/terastructure/internal/state"
	"github.com/Ghastn/terastructure/internal/tensor"
	"github.com/Ghastn/terastructure/internal/worker"
	"github.com/Ghastn/terastructure/internal/workqueue"
)

// Snapshot is the coordinator's current-state view, published for the
// progress server and for logging, never consumed by the SVI math itself.
type Snapshot struct {
	Iter           int
	X              int
	InitPhase      bool
	Elapsed        time.Duration
	LastValidation likelihood.Result
	LastTest       likelihood.Result
	MaxH           float64
	NH             int
	Stopped        bool
	StopReason     likelihood.StopReason
}

// Coordinator owns the subsampling PRNG, the worker pool's shared
// queues/barrier, and the Store's coordinator-only writes (lambda,
// Elogbeta, Ebeta, rhoLoc). Exactly one goroutine must call Run.
type Coordinator struct {
	store *state.Store
	geno  genotype.Provider
	sets  *heldout.Sets
	src   *prng.Source
	cfg   *config.Params

	shared  *worker.Shared
	chunkQ  *workqueue.ChunkQueue
	idQ     *workqueue.IDQueue
	barrier *workqueue.Barrier
	workers map[int]*worker.Worker

	scorer   *likelihood.Scorer
	stopRule *likelihood.StopRule
	rw       *report.Writer
	valFile  *report.LikelihoodFile
	testFile *report.LikelihoodFile

	shuffledNodes   []int
	globalLambdaDot *tensor.Matrix2D

	start time.Time
	iter  int

	// Terminate is polled between iterations; if it returns true the
	// coordinator checkpoints and exits cleanly.
	Terminate func() bool

	// OnSnapshot, if set, is called after every iteration's reduction and
	// after every reporting pass, so a progress server can publish the
	// latest state without coupling this package to any transport.
	OnSnapshot func(Snapshot)

	snap Snapshot
}

// New builds a Coordinator. shuffledNodes must already be a permutation of
// [0,N); it is shuffled once at engine construction and never again.
func New(
	store *state.Store, geno genotype.Provider, sets *heldout.Sets, src *prng.Source, cfg *config.Params,
	shared *worker.Shared, chunkQ *workqueue.ChunkQueue, idQ *workqueue.IDQueue, barrier *workqueue.Barrier,
	workers map[int]*worker.Worker, scorer *likelihood.Scorer, rw *report.Writer,
	valFile, testFile *report.LikelihoodFile, shuffledNodes []int, start time.Time,
) *Coordinator {
	return &Coordinator{
		store: store, geno: geno, sets: sets, src: src, cfg: cfg,
		shared: shared, chunkQ: chunkQ, idQ: idQ, barrier: barrier, workers: workers,
		scorer: scorer, stopRule: likelihood.NewStopRule(), rw: rw,
		valFile: valFile, testFile: testFile,
		shuffledNodes:   shuffledNodes,
		globalLambdaDot: tensor.NewMatrix2D(store.K(), store.T()),
		start:           start,
	}
}

// Snapshot returns the most recently published progress snapshot.
func (c *Coordinator) Snapshot() Snapshot { return c.snap }

// Run executes the main-phase loop until ctx is cancelled, Terminate
// reports true, or the validation stop rule fires with use_validation_stop
// set. It always returns nil — there is no recoverable-error condition in
// the inference loop itself. Errors returned by the report writer and the
// likelihood files are discarded and do not abort inference.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if c.Terminate != nil && c.Terminate() {
			c.checkpoint()
			return nil
		}

		loc := c.src.UniformInt(c.store.L())
		indivs := c.getSubsample(loc)
		if indivs == nil {
			// No individual satisfies kv_ok for this locus within a
			// bounded scan. Skip the iteration; loc is simply
			// resampled on the next pass.
			continue
		}

		chunks := partitionChunks(indivs, c.cfg.NThreads)

		c.shared.Loc = loc
		c.shared.InitPhase = false
		c.shared.Iter = c.iter
		for _, ch := range chunks {
			c.chunkQ.Push(ch)
		}

		c.globalLambdaDot.Zero()
		seen := 0
		for seen < len(c.workers) {
			id := c.idQ.Pop()
			w, ok := c.workers[id]
			if !ok {
				continue
			}
			addInto(c.globalLambdaDot, w.LambdaDot())
			seen++
		}

		c.updateLambda(loc, len(indivs), false)
		c.store.EstimateBetaLoc(loc)
		c.barrier.Advance()

		c.iter++
		c.maybeReport()
		if c.snap.Stopped && c.cfg.UseValidationStop {
			return nil
		}
	}
}

// RunInitPhase executes the optional static-partition warm-up pass: for
// each outer step it samples a locus, then inner-loops x =
// 0..online_iterations pushing the same static chunks, reducing, and
// performing a full (unscaled, un-rho'd) lambda/beta M-step, breaking early
// once AbsMean(lambda[loc]-lambda_old) < meanchangethresh. It is only ever
// invoked when cfg.InitPhase is set; the main SVI loop in Run does not
// depend on it having run.
func (c *Coordinator) RunInitPhase(ctx context.Context, outerSteps int) error {
	staticChunks := partitionChunks(c.shuffledNodes, c.cfg.NThreads)

	for step := 0; step < outerSteps; step++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		loc := c.src.UniformInt(c.store.L())
		c.shared.Loc = loc
		c.shared.InitPhase = true

		for x := 0; x < c.cfg.OnlineIterations; x++ {
			old := c.store.Lambda().CopyLoc(loc)

			c.shared.X = x
			for _, ch := range staticChunks {
				c.chunkQ.Push(ch)
			}

			c.globalLambdaDot.Zero()
			seen := 0
			for seen < len(c.workers) {
				id := c.idQ.Pop()
				w, ok := c.workers[id]
				if !ok {
					continue
				}
				addInto(c.globalLambdaDot, w.LambdaDot())
				seen++
			}

			c.updateLambda(loc, len(c.shuffledNodes), true)
			c.store.EstimateBetaLoc(loc)
			c.barrier.Advance()

			delta := make([]float64, len(old))
			tensor.Sub(loc, c.store.Lambda(), old, delta)
			if tensor.AbsMean(delta) < c.cfg.MeanChangeThresh {
				break
			}
		}

		c.iter++
		c.publishSnapshot()
	}
	return nil
}

// getSubsample draws indiv_sample_size individuals by scanning the
// coordinator's fixed shuffled-node permutation from a random aligned
// offset, skipping any n that fails kv_ok. The scan is bounded at one full
// pass of the permutation: each individual is visited at most once, so the
// returned set never contains duplicates and no two workers can be handed
// the same gamma row. When fewer than indiv_sample_size individuals are
// eligible the smaller distinct set is returned (the N/|S| scale in the
// lambda step adjusts); nil means nothing at this locus is trainable and
// the iteration should be skipped.
func (c *Coordinator) getSubsample(loc int) []int {
	n := c.store.N()
	size := c.cfg.IndivSampleSize
	v := float64(c.src.UniformInt(n)) / float64(size)
	q := int(v) * size
	indivs := make([]int, 0, size)
	for steps := 0; len(indivs) < size && steps < n; steps++ {
		nd := c.shuffledNodes[q]
		if heldout.KVOk(c.geno, c.sets, nd, loc) {
			indivs = append(indivs, nd)
		}
		q = (q + 1) % n
	}
	if len(indivs) == 0 {
		return nil
	}
	return indivs
}

// partitionChunks splits indivs into nthreads chunks of roughly equal size,
// with the last chunk absorbing any remainder.
func partitionChunks(indivs []int, nthreads int) []workqueue.Chunk {
	chunkSize := len(indivs) / nthreads
	chunks := make([]workqueue.Chunk, nthreads)
	t, c := 0, 0
	for _, n := range indivs {
		chunks[t] = append(chunks[t], n)
		c++
		if c >= chunkSize && t < nthreads-1 {
			c = 0
			t++
		}
	}
	return chunks
}

// addInto accumulates src's K x T entries into dst.
func addInto(dst, src *tensor.Matrix2D) {
	for k := 0; k < dst.Rows(); k++ {
		drow := dst.Row(k)
		srow := src.Row(k)
		for t := range drow {
			drow[t] += srow[t]
		}
	}
}

// updateLambda performs the global lambda step for loc: scale = N/|S| in
// main phase, 1 in init phase; rho_loc only applies the step in main phase,
// init phase takes the full M-step delta.
func (c *Coordinator) updateLambda(loc, sampleSize int, initPhase bool) {
	scale := 1.0
	if !initPhase {
		scale = float64(c.store.N()) / float64(sampleSize)
	}
	c.store.UpdateRhoLoc(loc)
	rho := c.store.RhoLoc(loc)
	k := c.store.K()
	for j := 0; j < k; j++ {
		slice := c.store.Lambda().Slice(loc, j)
		ldt := c.globalLambdaDot.Row(j)
		for t := range slice {
			delta := c.store.Eta(j, t) + scale*ldt[t] - slice[t]
			if initPhase {
				slice[t] += delta
			} else {
				slice[t] += rho * delta
			}
		}
	}
}

// maybeReport runs the periodic held-out likelihood computation, model
// save, and progress publish every reportfreq iterations, and applies the
// validation stop rule.
func (c *Coordinator) maybeReport() {
	if c.cfg.ReportFreq <= 0 || c.iter%c.cfg.ReportFreq != 0 {
		c.publishSnapshot()
		return
	}

	valResult := c.scorer.ComputeLikelihood(c.sets.Validation)
	c.valFile.Append(c.iter, valResult)
	c.snap.LastValidation = valResult

	var testResult likelihood.Result
	if c.cfg.UseTestSet {
		testResult = c.scorer.ComputeLikelihood(c.sets.Test)
		c.testFile.Append(c.iter, testResult)
		c.snap.LastTest = testResult
	}

	stop, why := c.stopRule.Observe(c.iter, valResult.MeanLogLik)
	// MaxH is -Inf until the stop rule's warm-up window has passed; keep
	// the snapshot's zero value until then so it stays JSON-encodable for
	// the websocket publisher.
	if m := c.stopRule.MaxH(); !math.IsInf(m, -1) {
		c.snap.MaxH = m
	}
	c.snap.NH = c.stopRule.NH()

	c.rw.WriteGammaTheta(c.store, c.geno, c.iter)
	if c.cfg.SaveBeta {
		c.rw.WriteBeta(c.store, c.iter)
	}

	if stop {
		c.snap.Stopped = true
		c.snap.StopReason = why
		c.rw.WriteMax(c.iter, time.Since(c.start), valResult.MeanLogLik, c.stopRule.MaxH(), why)
		if c.cfg.UseValidationStop {
			c.publishSnapshot()
			return
		}
	}

	c.publishSnapshot()
}

func (c *Coordinator) publishSnapshot() {
	c.snap.Iter = c.iter
	c.snap.X = c.shared.X
	c.snap.InitPhase = c.shared.InitPhase
	c.snap.Elapsed = time.Since(c.start)
	if c.OnSnapshot != nil {
		c.OnSnapshot(c.snap)
	}
}

// checkpoint persists the current model before a clean terminate-flag exit.
func (c *Coordinator) checkpoint() {
	c.rw.WriteGammaTheta(c.store, c.geno, c.iter)
	if c.cfg.SaveBeta {
		c.rw.WriteBeta(c.store, c.iter)
	}
}

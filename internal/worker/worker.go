// Package worker implements the phi-worker pool: each worker
// owns per-locus phimom/phidad scratch and a local lambda accumulator, and
// loops popping chunks of individuals off the shared chunk queue, updating
// the variational parameters it owns, and reporting completion through the
// ID queue and barrier.
package worker

import (
	"context"

	"github.com/Ghastn/terastructure/atomic_float"
	"github.com/Ghastn/terastructure/internal/genotype"
	"github.com/Ghastn/terastructure/internal/heldout"
	"github.com/Ghastn/terastructure/internal/state"
	"github.com/Ghastn/terastructure/internal/tensor"
	"github.com/Ghastn/terastructure/internal/workqueue"
)

// Shared is the coordinator-owned, worker-read description of "what are we
// working on right now": the coordinator sets these fields before pushing a
// round of chunks, and workers read them only after a successful Pop. No
// lock guards this struct: the chunk queue's own mutex already establishes
// the happens-before edge between the coordinator's write and the worker's
// read.
type Shared struct {
	Loc       int
	InitPhase bool
	Iter      int
	X         int

	// Processed counts individuals processed across all workers and
	// iterations, for the progress server's throughput readout.
	// AtomicFloat64 lets many workers update a shared numeric value
	// without a mutex.
	Processed *atomic_float.AtomicFloat64
}

// NewShared returns a Shared with its throughput counter initialized.
func NewShared() *Shared {
	return &Shared{Processed: atomic_float.NewAtomicFloat64(0)}
}

// Worker is one member of the phi-worker pool.
type Worker struct {
	id int

	store  *state.Store
	geno   genotype.Provider
	sets   *heldout.Sets
	shared *Shared

	chunkQ  *workqueue.ChunkQueue
	idQ     *workqueue.IDQueue
	barrier *workqueue.Barrier

	phimom, phidad *tensor.Matrix2D // N x K scratch, touched only for owned rows
	lambdaDot      *tensor.Matrix2D // K x T local accumulator, reduced by the coordinator

	oldList         workqueue.Chunk
	prevLoc         int
	first           bool
	observedBarrier int
}

// New builds a worker with N x K phimom/phidad scratch and a K x T local
// lambda accumulator, allocated once for the life of the pool.
func New(id int, store *state.Store, geno genotype.Provider, sets *heldout.Sets, shared *Shared,
	chunkQ *workqueue.ChunkQueue, idQ *workqueue.IDQueue, barrier *workqueue.Barrier) *Worker {
	return &Worker{
		id:        id,
		store:     store,
		geno:      geno,
		sets:      sets,
		shared:    shared,
		chunkQ:    chunkQ,
		idQ:       idQ,
		barrier:   barrier,
		phimom:    tensor.NewMatrix2D(store.N(), store.K()),
		phidad:    tensor.NewMatrix2D(store.N(), store.K()),
		lambdaDot: tensor.NewMatrix2D(store.K(), store.T()),
		prevLoc:   -1,
		first:     true,
	}
}

// ID returns the worker's identifier, the value it pushes to the ID queue.
func (w *Worker) ID() int { return w.id }

// LambdaDot returns the worker's K x T local lambda accumulator. The
// coordinator reads this only after popping this worker's ID off the ID
// queue for the current round. The worker itself zeroes it after every Pop,
// so the coordinator never zeroes it, and a coordinator read before the
// worker's next Pop sees a stable accumulator.
func (w *Worker) LambdaDot() *tensor.Matrix2D { return w.lambdaDot }

// Run pops chunks until ctx is cancelled. The engine starts it as a
// detached goroutine that is never joined; ctx is only checked between
// chunks, so a worker blocked in Pop does not return. There is no internal
// error condition, so it always returns nil.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		chunk := w.chunkQ.Pop()
		loc := w.shared.Loc
		initPhase := w.shared.InitPhase

		if loc != w.prevLoc {
			if initPhase && !w.first {
				w.updateGamma(w.oldList, w.prevLoc)
				w.estimateTheta(w.oldList)
			}
			w.prevLoc = loc
		}
		w.first = false

		w.lambdaDot.Zero()

		k := w.store.K()
		u := 1.0 / float64(k)
		for _, n := range chunk {
			if !heldout.KVOk(w.geno, w.sets, n, loc) {
				continue
			}
			w.phimom.SetElements(n, u)
			w.phidad.SetElements(n, u)
			w.updatePhimom(n, loc)
			w.updatePhidad(n, loc)
		}

		if initPhase {
			w.updateLambdaT(chunk, loc)
		} else {
			w.updateGamma(chunk, loc)
			w.updateLambdaT(chunk, loc)
			w.estimateTheta(chunk)
		}

		if w.shared.Processed != nil {
			for {
				if _, ok := w.shared.Processed.AtomicAdd(float64(len(chunk))); ok {
					break
				}
			}
		}

		w.oldList = chunk
		w.idQ.Push(w.id)
		w.barrier.WaitPast(w.observedBarrier)
		w.observedBarrier = w.barrier.Counter()
	}
}

// updatePhimom recomputes worker n's phimom row at locus loc:
// phimom[n] = lognormalize(Elogtheta[n] + Elogbeta[loc,.,0]).
func (w *Worker) updatePhimom(n, loc int) {
	k := w.store.K()
	row := w.phimom.Row(n)
	elogTheta := w.store.ElogTheta().Row(n)
	for j := 0; j < k; j++ {
		row[j] = elogTheta[j] + w.store.ElogBeta().At(loc, j, 0)
	}
	tensor.LogNormalize(row)
}

// updatePhidad is the dad-allele counterpart of updatePhimom, against
// Elogbeta[loc,.,1].
func (w *Worker) updatePhidad(n, loc int) {
	k := w.store.K()
	row := w.phidad.Row(n)
	elogTheta := w.store.ElogTheta().Row(n)
	for j := 0; j < k; j++ {
		row[j] = elogTheta[j] + w.store.ElogBeta().At(loc, j, 1)
	}
	tensor.LogNormalize(row)
}

// updateGamma applies the natural-gradient gamma update for every
// (individual, locus) pair in chunk that is not held out, advancing each
// individual's Robbins-Monro schedule exactly once per updated row.
func (w *Worker) updateGamma(chunk workqueue.Chunk, loc int) {
	if len(chunk) == 0 {
		return
	}
	k := w.store.K()
	scale := float64(w.store.L())
	for _, n := range chunk {
		if !heldout.KVOk(w.geno, w.sets, n, loc) {
			continue
		}
		y := float64(w.geno.Y(n, loc))
		w.store.UpdateRhoIndiv(n)
		rho := w.store.RhoIndiv(n)
		gammaRow := w.store.Gamma().Row(n)
		phimomRow := w.phimom.Row(n)
		phidadRow := w.phidad.Row(n)
		for j := 0; j < k; j++ {
			natGrad := w.store.Alpha(j) + scale*(y*phimomRow[j]+(2-y)*phidadRow[j]) - gammaRow[j]
			gammaRow[j] += rho * natGrad
		}
	}
}

// updateLambdaT accumulates chunk's contribution to the worker's local K x T
// lambda sufficient statistics for locus loc, the local half the coordinator
// later reduces into its global accumulator.
func (w *Worker) updateLambdaT(chunk workqueue.Chunk, loc int) {
	k := w.store.K()
	for _, n := range chunk {
		if !heldout.KVOk(w.geno, w.sets, n, loc) {
			continue
		}
		y := float64(w.geno.Y(n, loc))
		phimomRow := w.phimom.Row(n)
		phidadRow := w.phidad.Row(n)
		for j := 0; j < k; j++ {
			slice := w.lambdaDot.Row(j)
			slice[0] += phimomRow[j] * y
			slice[1] += phidadRow[j] * (2 - y)
		}
	}
}

// estimateTheta refreshes theta-hat/Elogtheta for every individual in chunk
// from their current gamma row, regardless of kv_ok; recomputing from an
// unchanged gamma row is a no-op.
func (w *Worker) estimateTheta(chunk workqueue.Chunk) {
	for _, n := range chunk {
		w.store.EstimateThetaRow(n)
	}
}

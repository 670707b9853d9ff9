// Package engine wires the state store, worker pool, coordinator, and
// reporting/progress machinery together into one runnable inference job.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Ghastn/terastructure/internal/config"
	"github.com/Ghastn/terastructure/internal/coordinator"
	"github.com/Ghastn/terastructure/internal/genotype"
	"github.com/Ghastn/terastructure/internal/heldout"
	"github.com/Ghastn/terastructure/internal/likelihood"
	"github.com/Ghastn/terastructure/internal/prng"
	"github.com/Ghastn/terastructure/internal/report"
	"github.com/Ghastn/terastructure/internal/state"
	"github.com/Ghastn/terastructure/internal/worker"
	"github.com/Ghastn/terastructure/internal/workqueue"
)

// Engine owns every long-lived component of one inference run: spawn the
// worker pool, then run the single coordinating loop on the caller's
// goroutine.
type Engine struct {
	cfg   *config.Params
	store *state.Store
	geno  genotype.Provider
	sets  *heldout.Sets

	shared  *worker.Shared
	chunkQ  *workqueue.ChunkQueue
	idQ     *workqueue.IDQueue
	barrier *workqueue.Barrier
	workers map[int]*worker.Worker

	coord *coordinator.Coordinator

	rw       *report.Writer
	valFile  *report.LikelihoodFile
	testFile *report.LikelihoodFile

	// OnSnapshot, if set before Run, is forwarded every coordinator
	// snapshot; progress.Broadcaster.OnSnapshot plugs in here to feed the
	// live dashboard.
	OnSnapshot func(coordinator.Snapshot)

	// Terminate, if set before Run, is polled by the coordinator between
	// iterations for a clean stop request.
	Terminate func() bool
}

// New constructs every component for one run: the variational Store, the
// held-out split, the worker pool and its shared queues/barrier, and the
// coordinator, opening the report/likelihood files under cfg.OutDir.
func New(cfg *config.Params, geno genotype.Provider, start time.Time) (*Engine, error) {
	src := prng.New(cfg.Seed)

	sched := state.Schedule{Tau0: cfg.Tau0, Kappa: cfg.Kappa, NodeTau0: cfg.NodeTau0, NodeKappa: cfg.NodeKappa}
	st := state.New(cfg.N, cfg.K, cfg.L, cfg.T, cfg.Alpha, cfg.Eta0, cfg.Eta1, sched)
	st.Init(src)

	if cfg.LoadBetaFile != "" && cfg.LoadThetaFile != "" {
		if err := loadModel(st, cfg); err != nil {
			return nil, err
		}
	}

	sets := heldout.Build(geno, src, cfg.ValidationRatio, cfg.TestRatio, cfg.UseTestSet, cfg.Simulation)

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating outdir: %w", err)
	}

	rw := report.New(cfg.OutDir, cfg.FileSuffix)
	if err := rw.WriteLocDiagnostics(cfg.N, cfg.L, sets); err != nil {
		return nil, fmt.Errorf("engine: writing held-out diagnostics: %w", err)
	}

	valFile, err := report.OpenValidationFile(cfg.OutDir, start)
	if err != nil {
		return nil, fmt.Errorf("engine: opening validation file: %w", err)
	}
	testFile, err := report.OpenTestFile(cfg.OutDir, start)
	if err != nil {
		return nil, fmt.Errorf("engine: opening test file: %w", err)
	}

	shared := worker.NewShared()
	chunkQ := workqueue.NewChunkQueue()
	idQ := workqueue.NewIDQueue()
	barrier := workqueue.NewBarrier()

	workers := make(map[int]*worker.Worker, cfg.NThreads)
	for id := 0; id < cfg.NThreads; id++ {
		workers[id] = worker.New(id, st, geno, sets, shared, chunkQ, idQ, barrier)
	}

	shuffled := make([]int, cfg.N)
	for i := range shuffled {
		shuffled[i] = i
	}
	src.ShuffleInts(shuffled)

	scorer := likelihood.NewScorer(st, geno, start)
	coord := coordinator.New(st, geno, sets, src, cfg, shared, chunkQ, idQ, barrier, workers,
		scorer, rw, valFile, testFile, shuffled, start)

	return &Engine{
		cfg: cfg, store: st, geno: geno, sets: sets,
		shared: shared, chunkQ: chunkQ, idQ: idQ, barrier: barrier, workers: workers,
		coord: coord, rw: rw, valFile: valFile, testFile: testFile,
	}, nil
}

// loadModel resumes beta/theta from checkpoint files before inference
// begins. Called only when both files are specified:
// state.Store.LoadModel always reads both readers unconditionally.
func loadModel(st *state.Store, cfg *config.Params) error {
	betaR, err := os.Open(cfg.LoadBetaFile)
	if err != nil {
		return fmt.Errorf("engine: opening beta checkpoint: %w", err)
	}
	defer betaR.Close()

	thetaR, err := os.Open(cfg.LoadThetaFile)
	if err != nil {
		return fmt.Errorf("engine: opening theta checkpoint: %w", err)
	}
	defer thetaR.Close()

	return st.LoadModel(betaR, thetaR)
}

// Shared exposes the worker pool's shared throughput counter, for wiring
// into server.NewServer's /throughput handler.
func (e *Engine) Shared() *worker.Shared { return e.shared }

// Run spawns the worker pool as background goroutines and drives the
// coordinator (optionally through an init phase first, per cfg.InitPhase) on
// the calling goroutine until ctx is cancelled, Terminate fires, or the
// validation stop rule halts the main loop.
//
// Workers are never joined: ChunkQueue.Pop/IDQueue.Pop block
// unconditionally and have no context-aware wakeup, so the worker
// goroutines are abandoned once Run returns. The caller is expected to exit
// the process shortly after.
func (e *Engine) Run(ctx context.Context) error {
	e.coord.OnSnapshot = e.OnSnapshot
	e.coord.Terminate = e.Terminate

	for _, w := range e.workers {
		w := w
		go func() { _ = w.Run(ctx) }()
	}

	defer e.closeFiles()
	if e.cfg.InitPhase {
		if err := e.coord.RunInitPhase(ctx, e.cfg.OnlineIterations); err != nil {
			return err
		}
	}
	return e.coord.Run(ctx)
}

func (e *Engine) closeFiles() {
	e.valFile.Close()
	e.testFile.Close()
}

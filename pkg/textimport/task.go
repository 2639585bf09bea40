package textimport

import (
	"context"

	"github.com/cometdata/comet/pkg/errors"
)

// Task is one unit of work on the ring. A single slot is reused across
// phases: the Phase tag discriminates which stage payload is live, and
// the stage payloads are separate sub-records so a slot never grows.
// WorkerID is stamped by the executing worker before Run, which lets
// stages name their output files after the worker that produced them.
type Task struct {
	ID       int
	Phase    Phase
	WorkerID int
	Ctx      context.Context
	Err      error

	boundary  boundaryStage
	index     indexStage
	load      loadStage
	symMerge  symbolMergeStage
	symUpdate symbolUpdateStage
	colIndex  columnIndexStage
}

func (t *Task) ofBoundary(id int, ctx context.Context, stage boundaryStage) {
	t.reset(id, PhaseBoundaryCheck, ctx)
	t.boundary = stage
}

func (t *Task) ofIndex(id int, ctx context.Context, stage indexStage) {
	t.reset(id, PhaseIndexing, ctx)
	t.index = stage
}

func (t *Task) ofLoad(id int, ctx context.Context, stage loadStage) {
	t.reset(id, PhasePartitionImport, ctx)
	t.load = stage
}

func (t *Task) ofSymbolMerge(id int, ctx context.Context, stage symbolMergeStage) {
	t.reset(id, PhaseSymbolTableMerge, ctx)
	t.symMerge = stage
}

func (t *Task) ofSymbolUpdate(id int, ctx context.Context, stage symbolUpdateStage) {
	t.reset(id, PhaseUpdateSymbolKeys, ctx)
	t.symUpdate = stage
}

func (t *Task) ofColumnIndex(id int, ctx context.Context, stage columnIndexStage) {
	t.reset(id, PhaseBuildIndex, ctx)
	t.colIndex = stage
}

func (t *Task) reset(id int, phase Phase, ctx context.Context) {
	t.ID = id
	t.Phase = phase
	t.Ctx = ctx
	t.Err = nil
}

// Run executes the live stage. The cancellation token is polled before
// dispatch; a tripped token records a cancelled error instead of running.
func (t *Task) Run() {
	if t.Ctx != nil && t.Ctx.Err() != nil {
		t.Err = errors.Wrap(t.Ctx.Err(), errors.ErrorTypeCancelled, "task cancelled")
		return
	}

	switch t.Phase {
	case PhaseBoundaryCheck:
		t.Err = t.boundary.run()
	case PhaseIndexing:
		t.index.workerID = t.WorkerID
		t.Err = t.index.run()
	case PhasePartitionImport:
		t.Err = t.load.run()
	case PhaseSymbolTableMerge:
		t.Err = t.symMerge.run()
	case PhaseUpdateSymbolKeys:
		t.Err = t.symUpdate.run()
	case PhaseBuildIndex:
		t.Err = t.colIndex.run()
	default:
		t.Err = errors.Newf(errors.ErrorTypeInternal, "unexpected task phase %s", t.Phase)
	}
}

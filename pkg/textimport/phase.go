// Package textimport implements parallel import of large unordered CSV
// files into time-partitioned columnar tables.
//
// The import runs as a strictly ordered sequence of phases over a shared
// task ring: chunk boundaries are discovered without parsing the whole
// file from the start, chunks are indexed into per-partition
// (timestamp, offset) files, indexes are merged and replayed into
// per-worker shadow tables, symbol dictionaries are reconciled into the
// target, secondary indexes are built, and finally the prepared
// partition directories are moved under the target table and attached.
// Within a phase tasks execute in parallel on a fixed worker pool; the
// driver steals work whenever the ring is full or results are pending.
package textimport

import "fmt"

// Phase identifies a stage of the import state machine.
type Phase uint8

const (
	// PhaseInit is the pre-flight state
	PhaseInit Phase = iota
	// PhaseBoundaryCheck scans chunks for quote and newline statistics
	PhaseBoundaryCheck
	// PhaseIndexing builds per-partition (timestamp, offset) indexes
	PhaseIndexing
	// PhasePartitionImport merges indexes and loads shadow tables
	PhasePartitionImport
	// PhaseSymbolTableMerge folds shadow dictionaries into the target
	PhaseSymbolTableMerge
	// PhaseUpdateSymbolKeys rewrites shadow symbol keys in place
	PhaseUpdateSymbolKeys
	// PhaseBuildIndex builds secondary indexes over shadow tables
	PhaseBuildIndex
	// PhaseMovePartitions renames or copies partition directories
	PhaseMovePartitions
	// PhaseAttachPartitions attaches moved partitions to the target
	PhaseAttachPartitions
	// PhaseDone is the terminal success state
	PhaseDone
)

var phaseNames = [...]string{
	PhaseInit:             "init",
	PhaseBoundaryCheck:    "boundary_check",
	PhaseIndexing:         "indexing",
	PhasePartitionImport:  "partition_import",
	PhaseSymbolTableMerge: "symbol_table_merge",
	PhaseUpdateSymbolKeys: "update_symbol_keys",
	PhaseBuildIndex:       "build_index",
	PhaseMovePartitions:   "move_partitions",
	PhaseAttachPartitions: "attach_partitions",
	PhaseDone:             "done",
}

// String returns the snake_case phase name used in logs and metrics.
func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase_%d", p)
}

// Status is the terminal outcome of an import run.
type Status uint8

const (
	// StatusOK means all phases completed
	StatusOK Status = iota
	// StatusCancelled means the cancellation token tripped
	StatusCancelled
	// StatusFailed means a phase reported an error
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// ImportError carries the phase an import failed in.
type ImportError struct {
	Phase Phase
	Err   error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	return fmt.Sprintf("import failed in %s phase: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ImportError) Unwrap() error {
	return e.Err
}

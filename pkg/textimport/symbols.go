package textimport

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cometdata/comet/pkg/errors"
	"github.com/cometdata/comet/pkg/mmap"
	"github.com/cometdata/comet/pkg/table"
)

// symbolMergeStage folds the shadow dictionaries of one symbol column
// into the target dictionary and writes a remap file next to each shadow
// table: a dense array of 4-byte target keys indexed by shadow-local key.
//
// Shadows are processed in worker order and local keys in ascending
// order, so target key assignment is deterministic for a given input.
// One task runs per target symbol column; the target dictionary of that
// column is only touched by this task.
type symbolMergeStage struct {
	importRoot   string
	tableName    string
	targetWriter *table.Writer
	columnName   string
	columnIndex  int
	shadowCount  int
}

func (s *symbolMergeStage) run() error {
	sw, err := s.targetWriter.SymbolMapWriter(s.columnIndex)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "could not open target symbol dictionary")
	}

	for t := 0; t < s.shadowCount; t++ {
		shadowDir := filepath.Join(s.importRoot, fmt.Sprintf("%s_%d", s.tableName, t))

		reader, err := table.OpenSymbolMapReader(shadowDir, s.columnName)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "could not read shadow symbol dictionary %s", s.columnName)
		}

		values := reader.Values()
		remap := make([]byte, 4*len(values))
		for local, value := range values {
			target, err := sw.Put(value)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "could not grow target symbol dictionary")
			}
			binary.LittleEndian.PutUint32(remap[local*4:], uint32(target))
		}

		remapPath := filepath.Join(shadowDir, s.columnName+table.RemapFileSuffix)
		if err := os.WriteFile(remapPath, remap, 0o644); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "could not write remap file %s", remapPath)
		}
	}

	if err := sw.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "could not flush target symbol dictionary")
	}
	return nil
}

// symbolUpdateStage rewrites the 32-bit keys of one (shadow, partition,
// column) tuple in place through the shadow's remap file. A non-negative
// key outside the remap range means the shadow and its dictionary
// disagree, which fails the import as corruption. Negative keys are
// nulls and pass through.
type symbolUpdateStage struct {
	importRoot  string
	tableName   string
	shadowIndex int

	partitionDir  string
	partitionRows int64
	columnName    string
}

func (s *symbolUpdateStage) run() error {
	shadowDir := filepath.Join(s.importRoot, fmt.Sprintf("%s_%d", s.tableName, s.shadowIndex))

	remapPath := filepath.Join(shadowDir, s.columnName+table.RemapFileSuffix)
	remapData, err := os.ReadFile(remapPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not read remap file %s", remapPath)
	}
	remapLen := int32(len(remapData) / 4)

	colPath := filepath.Join(shadowDir, s.partitionDir, s.columnName+table.DataFileSuffix)
	colData, err := mmap.MapFileRW(colPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not map symbol column %s", colPath)
	}
	defer mmap.Unmap(colData)

	rows := s.partitionRows
	if max := int64(len(colData) / 4); rows > max {
		rows = max
	}

	for i := int64(0); i < rows; i++ {
		key := int32(binary.LittleEndian.Uint32(colData[i*4:]))
		if key < 0 {
			continue
		}
		if key >= remapLen {
			return errors.Newf(errors.ErrorTypeCorruption,
				"symbol key %d out of remap range %d in %s row %d", key, remapLen, colPath, i)
		}
		target := binary.LittleEndian.Uint32(remapData[key*4:])
		binary.LittleEndian.PutUint32(colData[i*4:], target)
	}

	return nil
}

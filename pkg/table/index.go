package table

import (
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"
)

// AddIndex builds a secondary index over a symbol column: for every
// committed partition, a $col.k file mapping each dictionary key to the
// ascending row positions holding it. Null keys are not indexed.
func (w *Writer) AddIndex(column string) error {
	col := w.structure.ColumnIndex(column)
	if col < 0 || w.structure.Columns[col].Type != ColumnSymbol {
		return &IndexError{Column: column, Reason: "not a symbol column"}
	}

	for _, p := range w.txn.Partitions {
		dir := filepath.Join(w.dir, w.structure.PartitionBy.DirName(p.Key))
		keys, err := ReadIntColumn(dir, column)
		if err != nil {
			return err
		}

		index := make(map[string][]int64)
		for row, key := range keys {
			if key < 0 {
				continue
			}
			k := strconv.Itoa(int(key))
			index[k] = append(index[k], int64(row))
		}

		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		if err := atomicWriteFile(filepath.Join(dir, column+IndexFileSuffix), data); err != nil {
			return err
		}
	}

	w.structure.Columns[col].Indexed = true
	return WriteStructure(w.dir, w.structure)
}

// ReadIndex loads a partition's secondary index for a symbol column.
func ReadIndex(partitionDir, column string) (map[string][]int64, error) {
	data, err := os.ReadFile(filepath.Join(partitionDir, column+IndexFileSuffix))
	if err != nil {
		return nil, err
	}
	var index map[string][]int64
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// IndexError reports a refused index build.
type IndexError struct {
	Column string
	Reason string
}

func (e *IndexError) Error() string {
	return "cannot index column " + e.Column + ": " + e.Reason
}

package textimport

import (
	"fmt"

	"github.com/cometdata/comet/pkg/errors"
	"github.com/cometdata/comet/pkg/table"
)

// columnIndexStage builds secondary indexes over one shadow table for
// every column the target marks as indexed.
type columnIndexStage struct {
	importRoot     string
	tableName      string
	shadowIndex    int
	indexedColumns []string
}

func (s *columnIndexStage) run() error {
	shadowName := fmt.Sprintf("%s_%d", s.tableName, s.shadowIndex)

	w, err := table.OpenWriter(s.importRoot, shadowName)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not open shadow table %s", shadowName)
	}
	defer w.Close()

	for _, col := range s.indexedColumns {
		if err := w.AddIndex(col); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "could not index column %s", col)
		}
	}
	return nil
}

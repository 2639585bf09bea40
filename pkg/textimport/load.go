package textimport

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cometdata/comet/pkg/errors"
	"github.com/cometdata/comet/pkg/mmap"
	"github.com/cometdata/comet/pkg/pool"
	"github.com/cometdata/comet/pkg/table"
)

// PartitionInfo describes one partition discovered during indexing and
// its import outcome.
type PartitionInfo struct {
	Key          int64  `json:"key"`
	DirName      string `json:"dir_name"`
	Bytes        int64  `json:"bytes"`
	TaskID       int    `json:"task_id"`
	ImportedRows int64  `json:"imported_rows"`
	Worker       int    `json:"worker"`
}

// loadStage merges the index chunks of its assigned partitions and
// replays the indexed rows into a per-worker shadow table. The shadow
// has the target's schema but lives under the import work directory and
// is committed after every partition.
type loadStage struct {
	inputPath  string
	importRoot string

	structure     *table.Structure
	adapters      []Adapter
	tsIndex       int
	delim         byte
	atomicity     Atomicity
	shadowIndex   int
	partitions    []*PartitionInfo
	maxLineLength int

	rowsImported int64
	rowsSkipped  int64
}

func (s *loadStage) shadowName() string {
	return fmt.Sprintf("%s_%d", s.structure.Name, s.shadowIndex)
}

func (s *loadStage) run() error {
	shadow := *s.structure
	shadow.Name = s.shadowName()
	shadow.Columns = make([]table.Column, len(s.structure.Columns))
	copy(shadow.Columns, s.structure.Columns)
	// secondary indexes are built in a later phase
	for i := range shadow.Columns {
		shadow.Columns[i].Indexed = false
	}

	if err := table.Create(s.importRoot, &shadow); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "could not create shadow table")
	}

	w, err := table.OpenWriter(s.importRoot, shadow.Name)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "could not open shadow table writer")
	}
	defer w.Close()

	f, err := os.Open(s.inputPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not open input file %s", s.inputPath)
	}
	defer f.Close()

	if s.maxLineLength < 1 {
		s.maxLineLength = 1
	}
	lineBuf := pool.GlobalBufferPool.Get(s.maxLineLength)[:s.maxLineLength]
	defer pool.GlobalBufferPool.Put(lineBuf)

	for _, p := range s.partitions {
		imported, err := s.importPartition(w, f, p, lineBuf)
		if err != nil {
			return err
		}
		p.ImportedRows = imported
		s.rowsImported += imported

		if err := w.Commit(true); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "could not commit partition %s", p.DirName)
		}
	}

	return nil
}

func (s *loadStage) importPartition(w *table.Writer, f *os.File, p *PartitionInfo, lineBuf []byte) (int64, error) {
	partitionDir := filepath.Join(s.importRoot, p.DirName)
	if _, err := os.Stat(partitionDir); err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeCorruption, "partition directory %s missing", p.DirName)
	}

	merged, count, err := mergeIndexChunks(partitionDir)
	if err != nil {
		return 0, err
	}
	if merged == nil {
		return 0, nil
	}
	defer mmap.Unmap(merged)

	lexer := NewLexer(s.delim)
	var imported int64

	for i := int64(0); i < count; i++ {
		base := i * IndexEntrySize
		ts := int64(binary.LittleEndian.Uint64(merged[base:]))
		offset := int64(binary.LittleEndian.Uint64(merged[base+8:]))

		n, err := f.ReadAt(lineBuf, offset)
		if n == 0 {
			return imported, errors.Wrapf(err, errors.ErrorTypeIO, "could not read row at offset %d", offset)
		}
		if err != nil && err != io.EOF {
			return imported, errors.Wrapf(err, errors.ErrorTypeIO, "could not read row at offset %d", offset)
		}

		ok, rowErr := s.writeRow(w, lexer, lineBuf[:n], offset, ts)
		if rowErr != nil {
			if s.atomicity == SkipAll {
				if rbErr := w.Rollback(); rbErr != nil {
					return imported, errors.Wrap(rbErr, errors.ErrorTypeIO, "rollback failed")
				}
			}
			return imported, rowErr
		}
		if ok {
			imported++
		}
	}

	return imported, nil
}

// writeRow re-tokenizes one record and writes it through the column
// adapters. Returns whether the row was appended.
func (s *loadStage) writeRow(w *table.Writer, lexer *Lexer, buf []byte, offset, ts int64) (bool, error) {
	var fields [][]byte
	captured := false

	handler := func(_ int64, _ int64, f [][]byte) error {
		fields = f
		captured = true
		return nil
	}

	n, err := lexer.Parse(buf, offset, 1, handler)
	if err != nil {
		return false, err
	}
	if n == 0 {
		// record at the end of the file without a trailing newline
		if err := lexer.ParseLast(offset+int64(len(buf)), handler); err != nil {
			return false, err
		}
	}
	if !captured {
		s.rowsSkipped++
		return false, nil
	}

	row, err := w.NewRow(ts)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeIO, "could not open row")
	}

	for i, field := range fields {
		if i >= len(s.adapters) {
			break
		}
		if i == s.tsIndex || len(field) == 0 {
			continue
		}

		if err := s.adapters[i].Write(row, i, field); err != nil {
			switch s.atomicity {
			case SkipAll:
				return false, errors.Wrapf(err, errors.ErrorTypeParse,
					"bad syntax at offset %d, column %d", offset, i)
			case SkipRow:
				row.Cancel()
				s.rowsSkipped++
				return false, nil
			default:
				// SkipCol: leave the column at its type's null
			}
		}
	}

	if err := row.Append(); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeIO, "could not append row")
	}
	return true, nil
}

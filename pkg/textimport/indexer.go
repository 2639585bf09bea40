package textimport

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cometdata/comet/pkg/errors"
	"github.com/cometdata/comet/pkg/pool"
	"github.com/cometdata/comet/pkg/table"
)

const (
	// IndexEntrySize is the fixed width of one (timestamp, offset) pair.
	IndexEntrySize = 16

	// MergedIndexFileName is the merged per-partition index.
	MergedIndexFileName = "index.m"
)

// indexEntry is one indexed record: the row's parsed timestamp and the
// file offset of its first byte. Entries are stored little-endian.
type indexEntry struct {
	ts     int64
	offset int64
}

// indexStage scans one chunk of the input, extracts the timestamp of
// every record and appends (timestamp, offset) pairs to per-partition
// chunk files, pre-sorted within each flush.
type indexStage struct {
	inputPath  string
	importRoot string

	chunkLo    int64
	chunkHi    int64
	lineNumber int64
	chunkIndex int
	workerID   int

	delim        byte
	columnCount  int
	tsIndex      int
	tsAdapter    timestampParser
	partitionBy  table.PartitionBy
	ignoreHeader bool
	bufLen       int
	flushLimit   int
	atomicity    Atomicity

	// results
	partitionBytes map[int64]int64
	maxLineLength  int
	nullTsRows     int64
	skippedRows    int64
	deferredErr    error

	buffers map[int64][]indexEntry
	flushes map[int64]int
}

// timestampParser is the slice of the adapter interface the indexer needs.
type timestampParser interface {
	TimestampMicros(field []byte) (int64, error)
}

func (s *indexStage) run() error {
	f, err := os.Open(s.inputPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not open input file %s", s.inputPath)
	}
	defer f.Close()

	s.partitionBytes = make(map[int64]int64)
	s.buffers = make(map[int64][]indexEntry)
	s.flushes = make(map[int64]int)

	lexer := NewLexer(s.delim)
	lexer.SetLineNumber(s.lineNumber)
	lexer.SetExpectedFieldCount(s.columnCount)
	lexer.SetIgnoreNextLine(s.ignoreHeader)

	buf := pool.GlobalBufferPool.Get(s.bufLen)[:s.bufLen]
	defer pool.GlobalBufferPool.Put(buf)
	offset := s.chunkLo

	for offset < s.chunkHi {
		toRead := int64(len(buf))
		if remaining := s.chunkHi - offset; remaining < toRead {
			toRead = remaining
		}
		n, readErr := f.ReadAt(buf[:toRead], offset)
		if n == 0 {
			if readErr == io.EOF {
				break
			}
			return errors.Wrapf(readErr, errors.ErrorTypeIO, "could not read chunk at offset %d", offset)
		}

		if _, err := lexer.Parse(buf[:n], offset, 0, s.onRecord); err != nil {
			return err
		}
		offset += int64(n)
		if readErr == io.EOF {
			break
		}
	}

	if err := lexer.ParseLast(s.chunkHi, s.onRecord); err != nil {
		return err
	}

	for key := range s.buffers {
		if err := s.flushPartition(key); err != nil {
			return err
		}
	}

	s.maxLineLength = lexer.MaxLineLength()
	s.skippedRows += lexer.SkippedLines()
	return nil
}

func (s *indexStage) onRecord(lineNumber, lineOffset int64, fields [][]byte) error {
	if s.tsIndex >= len(fields) {
		s.skippedRows++
		return nil
	}

	tsField := fields[s.tsIndex]
	if len(tsField) == 0 {
		// counted separately so empty timestamps are visible in stats
		s.nullTsRows++
		return nil
	}

	ts, err := s.tsAdapter.TimestampMicros(tsField)
	if err != nil {
		if s.atomicity == SkipAll {
			if s.deferredErr == nil {
				s.deferredErr = errors.Wrapf(err, errors.ErrorTypeParse,
					"bad syntax at line %d, column %d", lineNumber, s.tsIndex)
			}
			s.skippedRows++
			return nil
		}
		s.skippedRows++
		return nil
	}

	key := s.partitionBy.Floor(ts)
	s.buffers[key] = append(s.buffers[key], indexEntry{ts: ts, offset: lineOffset})
	if len(s.buffers[key]) >= s.flushLimit {
		return s.flushPartition(key)
	}
	return nil
}

// flushPartition sorts the buffered entries for one partition and writes
// them to a new run file of this task, one file per flush.
func (s *indexStage) flushPartition(key int64) error {
	entries := s.buffers[key]
	if len(entries) == 0 {
		return nil
	}
	s.buffers[key] = entries[:0]

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts < entries[j].ts
		}
		return entries[i].offset < entries[j].offset
	})

	dir := filepath.Join(s.importRoot, s.partitionBy.DirName(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not create partition index dir %s", dir)
	}

	// each flush is an independent sorted run, so it gets its own file;
	// the merge step consumes every file in the partition dir
	run := s.flushes[key]
	s.flushes[key] = run + 1
	name := fmt.Sprintf("%d_%d", s.workerID, s.chunkIndex)
	if run > 0 {
		name = fmt.Sprintf("%s.%d", name, run)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not open index chunk %s", path)
	}
	defer f.Close()

	out := make([]byte, len(entries)*IndexEntrySize)
	for i, e := range entries {
		binary.LittleEndian.PutUint64(out[i*IndexEntrySize:], uint64(e.ts))
		binary.LittleEndian.PutUint64(out[i*IndexEntrySize+8:], uint64(e.offset))
	}
	if _, err := f.Write(out); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not append index chunk %s", path)
	}

	s.partitionBytes[key] += int64(len(out))
	return nil
}

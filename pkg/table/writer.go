package table

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Writer appends rows to a partitioned table. Rows are staged one at a
// time: NewRow positions the writer on the row's partition, Put* calls
// stage column values, and Append encodes the row into the partition's
// column files. Commit makes appended rows durable and visible in the
// table's transaction record; Rollback truncates everything appended
// since the last commit.
//
// A Writer is not safe for concurrent use. The importer gives each
// worker its own shadow-table writer and keeps the target writer on the
// driver.
type Writer struct {
	dir       string
	structure *Structure
	txn       *Txn

	symbols []*SymbolMapWriter // per symbol column, lazily opened

	active  *partitionAppender
	touched map[int64]*partitionMark

	row       Row
	symIndex  []int // column index -> symbol column index or -1
	rowOpened bool
}

// partitionMark captures the committed state of a partition touched since
// the last commit, for rollback.
type partitionMark struct {
	key           int64
	rows          int64
	committedRows int64
	committedOffs []int64 // string data sizes at last commit, indexed by column
}

type colAppender struct {
	typ     ColumnType
	d       *os.File
	dw      *bufio.Writer
	i       *os.File
	iw      *bufio.Writer
	dataOff int64 // string data end offset
}

type partitionAppender struct {
	key  int64
	dir  string
	cols []colAppender
	mark *partitionMark
}

// OpenWriter opens a writer over an existing table.
func OpenWriter(root, name string) (*Writer, error) {
	dir := Dir(root, name)
	structure, err := ReadStructure(dir)
	if err != nil {
		return nil, err
	}
	txn, err := ReadTxn(dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:       dir,
		structure: structure,
		txn:       txn,
		symbols:   make([]*SymbolMapWriter, len(structure.SymbolColumns())),
		touched:   make(map[int64]*partitionMark),
	}

	w.symIndex = make([]int, len(structure.Columns))
	symIdx := 0
	for i := range structure.Columns {
		if structure.Columns[i].Type == ColumnSymbol {
			w.symIndex[i] = symIdx
			symIdx++
		} else {
			w.symIndex[i] = -1
		}
	}

	w.row.w = w
	w.row.vals = make([]colValue, len(structure.Columns))
	return w, nil
}

// Metadata returns the table structure.
func (w *Writer) Metadata() *Structure {
	return w.structure
}

// RowCount returns the committed row count.
func (w *Writer) RowCount() int64 {
	return w.txn.RowCount
}

// PartitionBy returns the table's partition unit.
func (w *Writer) PartitionBy() PartitionBy {
	return w.structure.PartitionBy
}

// SymbolMapWriter returns the dictionary writer for a column by table
// column index.
func (w *Writer) SymbolMapWriter(columnIndex int) (*SymbolMapWriter, error) {
	symIdx := w.symIndex[columnIndex]
	if symIdx < 0 {
		return nil, fmt.Errorf("column %s is not a symbol", w.structure.Columns[columnIndex].Name)
	}
	return w.symbolWriter(symIdx, columnIndex)
}

func (w *Writer) symbolWriter(symIdx, columnIndex int) (*SymbolMapWriter, error) {
	if w.symbols[symIdx] == nil {
		sw, err := OpenSymbolMapWriter(w.dir, w.structure.Columns[columnIndex].Name)
		if err != nil {
			return nil, err
		}
		w.symbols[symIdx] = sw
	}
	return w.symbols[symIdx], nil
}

// colValue stages one column value of the pending row.
type colValue struct {
	set bool
	b   bool
	i64 int64
	f64 float64
	s   string
}

// Row stages a single pending row.
type Row struct {
	w    *Writer
	vals []colValue
}

// NewRow starts a row with the given designated timestamp (microseconds)
// and positions the writer on the row's partition.
func (w *Writer) NewRow(ts int64) (*Row, error) {
	key := w.structure.PartitionBy.Floor(ts)
	if w.active == nil || w.active.key != key {
		if err := w.switchPartition(key); err != nil {
			return nil, err
		}
	}

	for i := range w.row.vals {
		w.row.vals[i] = colValue{}
	}
	w.row.vals[w.structure.TimestampIndex] = colValue{set: true, i64: ts}
	w.rowOpened = true
	return &w.row, nil
}

// PutBool stages a boolean value.
func (r *Row) PutBool(col int, v bool) {
	r.vals[col] = colValue{set: true, b: v}
}

// PutInt stages a 32-bit integer value.
func (r *Row) PutInt(col int, v int32) {
	r.vals[col] = colValue{set: true, i64: int64(v)}
}

// PutLong stages a 64-bit integer value.
func (r *Row) PutLong(col int, v int64) {
	r.vals[col] = colValue{set: true, i64: v}
}

// PutDouble stages a float value.
func (r *Row) PutDouble(col int, v float64) {
	r.vals[col] = colValue{set: true, f64: v}
}

// PutTimestamp stages a microsecond timestamp value.
func (r *Row) PutTimestamp(col int, micros int64) {
	r.vals[col] = colValue{set: true, i64: micros}
}

// PutDate stages a millisecond date value.
func (r *Row) PutDate(col int, millis int64) {
	r.vals[col] = colValue{set: true, i64: millis}
}

// PutSym stages a symbol value, resolving it through the column's
// dictionary.
func (r *Row) PutSym(col int, value string) error {
	symIdx := r.w.symIndex[col]
	if symIdx < 0 {
		return fmt.Errorf("column %s is not a symbol", r.w.structure.Columns[col].Name)
	}
	sw, err := r.w.symbolWriter(symIdx, col)
	if err != nil {
		return err
	}
	key, err := sw.Put(value)
	if err != nil {
		return err
	}
	r.vals[col] = colValue{set: true, i64: int64(key)}
	return nil
}

// PutStr stages a string value.
func (r *Row) PutStr(col int, value string) {
	r.vals[col] = colValue{set: true, s: value}
}

// Cancel discards the pending row.
func (r *Row) Cancel() {
	r.w.rowOpened = false
}

// Append encodes the pending row into the active partition. Columns
// without a staged value receive their type's null.
func (r *Row) Append() error {
	w := r.w
	if !w.rowOpened {
		return fmt.Errorf("no open row")
	}
	w.rowOpened = false

	part := w.active
	for i := range w.structure.Columns {
		if err := part.appendValue(i, w.structure.Columns[i].Type, &r.vals[i]); err != nil {
			return err
		}
	}
	part.mark.rows++
	return nil
}

func (p *partitionAppender) appendValue(col int, typ ColumnType, v *colValue) error {
	a := &p.cols[col]
	var buf [8]byte

	switch typ {
	case ColumnBoolean:
		b := byte(0)
		if v.set && v.b {
			b = 1
		}
		return a.dw.WriteByte(b)

	case ColumnInt:
		val := NullInt
		if v.set {
			val = int32(v.i64)
		}
		binary.LittleEndian.PutUint32(buf[:4], uint32(val))
		_, err := a.dw.Write(buf[:4])
		return err

	case ColumnSymbol:
		val := NullSymbol
		if v.set {
			val = int32(v.i64)
		}
		binary.LittleEndian.PutUint32(buf[:4], uint32(val))
		_, err := a.dw.Write(buf[:4])
		return err

	case ColumnLong, ColumnTimestamp, ColumnDate:
		val := NullLong
		if v.set {
			val = v.i64
		}
		binary.LittleEndian.PutUint64(buf[:8], uint64(val))
		_, err := a.dw.Write(buf[:8])
		return err

	case ColumnDouble:
		val := math.NaN()
		if v.set {
			val = v.f64
		}
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(val))
		_, err := a.dw.Write(buf[:8])
		return err

	case ColumnString:
		if v.set {
			if _, err := a.dw.WriteString(v.s); err != nil {
				return err
			}
			a.dataOff += int64(len(v.s))
		}
		binary.LittleEndian.PutUint64(buf[:8], uint64(a.dataOff))
		_, err := a.iw.Write(buf[:8])
		return err

	default:
		return fmt.Errorf("cannot append to column type %s", typ)
	}
}

func (w *Writer) switchPartition(key int64) error {
	if w.active != nil {
		if err := w.active.flushAndClose(); err != nil {
			return err
		}
		w.active = nil
	}

	dirName := w.structure.PartitionBy.DirName(key)
	dir := filepath.Join(w.dir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create partition dir %s: %w", dir, err)
	}

	mark, ok := w.touched[key]
	if !ok {
		committed := w.committedRowsOf(key)
		mark = &partitionMark{
			key:           key,
			rows:          committed,
			committedRows: committed,
			committedOffs: make([]int64, len(w.structure.Columns)),
		}
		w.touched[key] = mark
	}

	part := &partitionAppender{
		key:  key,
		dir:  dir,
		cols: make([]colAppender, len(w.structure.Columns)),
		mark: mark,
	}

	for i := range w.structure.Columns {
		col := &w.structure.Columns[i]
		a := &part.cols[i]
		a.typ = col.Type

		dPath := filepath.Join(dir, col.Name+DataFileSuffix)
		d, err := os.OpenFile(dPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			part.closeFiles()
			return err
		}
		a.d = d
		a.dw = bufio.NewWriter(d)

		if col.Type == ColumnString {
			st, err := d.Stat()
			if err != nil {
				part.closeFiles()
				return err
			}
			a.dataOff = st.Size()
			if !ok {
				mark.committedOffs[i] = a.dataOff
			}

			iPath := filepath.Join(dir, col.Name+OffsetFileSuffix)
			idx, err := os.OpenFile(iPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				part.closeFiles()
				return err
			}
			a.i = idx
			a.iw = bufio.NewWriter(idx)
		}
	}

	w.active = part
	return nil
}

func (w *Writer) committedRowsOf(key int64) int64 {
	for _, p := range w.txn.Partitions {
		if p.Key == key {
			return p.Rows
		}
	}
	return 0
}

func (p *partitionAppender) flushAndClose() error {
	var firstErr error
	for i := range p.cols {
		a := &p.cols[i]
		if a.dw != nil {
			if err := a.dw.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if a.iw != nil {
			if err := a.iw.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	p.closeFiles()
	return firstErr
}

func (p *partitionAppender) sync() error {
	for i := range p.cols {
		a := &p.cols[i]
		if a.dw != nil {
			if err := a.dw.Flush(); err != nil {
				return err
			}
			if err := a.d.Sync(); err != nil {
				return err
			}
		}
		if a.iw != nil {
			if err := a.iw.Flush(); err != nil {
				return err
			}
			if err := a.i.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *partitionAppender) closeFiles() {
	for i := range p.cols {
		a := &p.cols[i]
		if a.d != nil {
			a.d.Close()
			a.d = nil
			a.dw = nil
		}
		if a.i != nil {
			a.i.Close()
			a.i = nil
			a.iw = nil
		}
	}
}

// Commit makes all appended rows durable and updates the transaction
// record. With sync set, column files are fsynced before the record is
// written.
func (w *Writer) Commit(sync bool) error {
	if w.active != nil {
		if sync {
			if err := w.active.sync(); err != nil {
				return err
			}
		} else {
			for i := range w.active.cols {
				a := &w.active.cols[i]
				if a.dw != nil {
					if err := a.dw.Flush(); err != nil {
						return err
					}
				}
				if a.iw != nil {
					if err := a.iw.Flush(); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, mark := range w.touched {
		w.setPartitionRows(mark.key, mark.rows)
		mark.committedRows = mark.rows
		if w.active != nil && w.active.key == mark.key {
			for i := range w.active.cols {
				mark.committedOffs[i] = w.active.cols[i].dataOff
			}
		}
	}

	if err := w.flushSymbols(); err != nil {
		return err
	}
	w.snapshotSymbolCounts()

	w.txn.RowCount = 0
	for _, p := range w.txn.Partitions {
		w.txn.RowCount += p.Rows
	}

	if err := WriteTxn(w.dir, w.txn); err != nil {
		return err
	}

	for key, mark := range w.touched {
		if mark.rows == mark.committedRows && (w.active == nil || w.active.key != key) {
			delete(w.touched, key)
		}
	}
	return nil
}

// Rollback truncates all rows appended since the last commit.
func (w *Writer) Rollback() error {
	if w.active != nil {
		w.active.flushAndClose()
		w.active = nil
	}

	var firstErr error
	for key, mark := range w.touched {
		dir := filepath.Join(w.dir, w.structure.PartitionBy.DirName(key))
		if mark.committedRows == 0 {
			if err := os.RemoveAll(dir); err != nil && firstErr == nil {
				firstErr = err
			}
		} else {
			for i := range w.structure.Columns {
				col := &w.structure.Columns[i]
				dPath := filepath.Join(dir, col.Name+DataFileSuffix)
				if col.Type == ColumnString {
					if err := os.Truncate(dPath, mark.committedOffs[i]); err != nil && firstErr == nil {
						firstErr = err
					}
					iPath := filepath.Join(dir, col.Name+OffsetFileSuffix)
					if err := os.Truncate(iPath, mark.committedRows*8); err != nil && firstErr == nil {
						firstErr = err
					}
				} else {
					size := mark.committedRows * int64(col.Type.FixedSize())
					if err := os.Truncate(dPath, size); err != nil && firstErr == nil {
						firstErr = err
					}
				}
			}
		}
		delete(w.touched, key)
	}
	return firstErr
}

func (w *Writer) setPartitionRows(key, rows int64) {
	for i := range w.txn.Partitions {
		if w.txn.Partitions[i].Key == key {
			w.txn.Partitions[i].Rows = rows
			return
		}
	}
	if rows > 0 {
		w.txn.Partitions = append(w.txn.Partitions, PartitionTxn{Key: key, Rows: rows})
	}
}

func (w *Writer) flushSymbols() error {
	for _, sw := range w.symbols {
		if sw != nil {
			if err := sw.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) snapshotSymbolCounts() {
	symCols := w.structure.SymbolColumns()
	if len(w.txn.SymbolCounts) < len(symCols) {
		counts := make([]int32, len(symCols))
		copy(counts, w.txn.SymbolCounts)
		w.txn.SymbolCounts = counts
	}
	for i, name := range symCols {
		col := w.structure.ColumnIndex(name)
		symIdx := w.symIndex[col]
		if w.symbols[symIdx] != nil {
			w.txn.SymbolCounts[i] = w.symbols[symIdx].Count()
		}
	}
}

// AttachPartition registers an already-present partition directory in the
// table's transaction record. The directory must have been produced with
// the table's schema; its row count is derived from the designated
// timestamp column file.
func (w *Writer) AttachPartition(key int64) error {
	dirName := w.structure.PartitionBy.DirName(key)
	dir := filepath.Join(w.dir, dirName)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("partition directory %s missing: %w", dirName, err)
	}

	tsCol := &w.structure.Columns[w.structure.TimestampIndex]
	width := tsCol.Type.FixedSize()
	if width == 0 {
		return fmt.Errorf("designated timestamp column %s is not fixed width", tsCol.Name)
	}
	st, err := os.Stat(filepath.Join(dir, tsCol.Name+DataFileSuffix))
	if err != nil {
		return fmt.Errorf("partition %s has no timestamp column data: %w", dirName, err)
	}
	rows := st.Size() / int64(width)

	w.setPartitionRows(key, rows)
	if err := w.flushSymbols(); err != nil {
		return err
	}
	w.snapshotSymbolCounts()

	w.txn.RowCount = 0
	for _, p := range w.txn.Partitions {
		w.txn.RowCount += p.Rows
	}
	return WriteTxn(w.dir, w.txn)
}

// Truncate removes all partitions and symbol values, returning the table
// to row count zero.
func (w *Writer) Truncate() error {
	if w.active != nil {
		w.active.flushAndClose()
		w.active = nil
	}
	w.touched = make(map[int64]*partitionMark)

	for _, p := range w.txn.Partitions {
		dir := filepath.Join(w.dir, w.structure.PartitionBy.DirName(p.Key))
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}

	for i, sw := range w.symbols {
		if sw != nil {
			sw.Close()
			w.symbols[i] = nil
		}
	}
	for _, name := range w.structure.SymbolColumns() {
		path := filepath.Join(w.dir, name+SymbolFileSuffix)
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}

	w.txn.Partitions = nil
	w.txn.RowCount = 0
	for i := range w.txn.SymbolCounts {
		w.txn.SymbolCounts[i] = 0
	}
	return WriteTxn(w.dir, w.txn)
}

// Close releases all file handles. It does not commit.
func (w *Writer) Close() error {
	var firstErr error
	if w.active != nil {
		if err := w.active.flushAndClose(); err != nil {
			firstErr = err
		}
		w.active = nil
	}
	for i, sw := range w.symbols {
		if sw != nil {
			if err := sw.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			w.symbols[i] = nil
		}
	}
	return firstErr
}

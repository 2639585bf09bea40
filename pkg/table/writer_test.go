package table

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStructure(name string) *Structure {
	return &Structure{
		Name: name,
		Columns: []Column{
			{Name: "ts", Type: ColumnTimestamp},
			{Name: "qty", Type: ColumnInt},
			{Name: "price", Type: ColumnDouble},
			{Name: "sym", Type: ColumnSymbol},
			{Name: "note", Type: ColumnString},
		},
		TimestampIndex: 0,
		PartitionBy:    PartitionByDay,
	}
}

func mustMicros(y int, m time.Month, d, h int) int64 {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC).UnixMicro()
}

func TestWriterAppendCommitReadBack(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("tr")))

	w, err := OpenWriter(root, "tr")
	require.NoError(t, err)

	type rec struct {
		ts    int64
		qty   int32
		price float64
		sym   string
		note  string
	}
	recs := []rec{
		{mustMicros(2022, 5, 17, 1), 10, 1.5, "aa", "first"},
		{mustMicros(2022, 5, 17, 2), 20, 2.5, "bb", "second"},
		{mustMicros(2022, 5, 18, 1), 30, 3.5, "aa", "third"},
	}

	for _, r := range recs {
		row, err := w.NewRow(r.ts)
		require.NoError(t, err)
		row.PutInt(1, r.qty)
		row.PutDouble(2, r.price)
		require.NoError(t, row.PutSym(3, r.sym))
		row.PutStr(4, r.note)
		require.NoError(t, row.Append())
	}
	require.NoError(t, w.Commit(true))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(3), mustTxReader(t, Dir(root, "tr")).RowCount())

	day1 := filepath.Join(root, "tr", "2022-05-17")
	ts, err := ReadLongColumn(day1, "ts")
	require.NoError(t, err)
	assert.Equal(t, []int64{recs[0].ts, recs[1].ts}, ts)

	qty, err := ReadIntColumn(day1, "qty")
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 20}, qty)

	price, err := ReadDoubleColumn(day1, "price")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5}, price)

	notes, err := ReadStringColumn(day1, "note")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, notes)

	keys, err := ReadIntColumn(day1, "sym")
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1}, keys)

	dict, err := OpenSymbolMapReader(Dir(root, "tr"), "sym")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb"}, dict.Values())
}

func mustTxReader(t *testing.T, dir string) *TxReader {
	t.Helper()
	r, err := NewTxReader(dir)
	require.NoError(t, err)
	return r
}

func TestWriterNullsForUnsetColumns(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("nl")))

	w, err := OpenWriter(root, "nl")
	require.NoError(t, err)

	row, err := w.NewRow(mustMicros(2022, 1, 1, 0))
	require.NoError(t, err)
	require.NoError(t, row.Append())
	require.NoError(t, w.Commit(false))
	require.NoError(t, w.Close())

	day := filepath.Join(root, "nl", "2022-01-01")

	qty, err := ReadIntColumn(day, "qty")
	require.NoError(t, err)
	assert.Equal(t, []int32{NullInt}, qty)

	keys, err := ReadIntColumn(day, "sym")
	require.NoError(t, err)
	assert.Equal(t, []int32{NullSymbol}, keys)

	notes, err := ReadStringColumn(day, "note")
	require.NoError(t, err)
	assert.Equal(t, []string{""}, notes)

	price, err := ReadDoubleColumn(day, "price")
	require.NoError(t, err)
	assert.True(t, price[0] != price[0], "double null is NaN")
}

func TestWriterRollbackDropsUncommitted(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("rb")))

	w, err := OpenWriter(root, "rb")
	require.NoError(t, err)

	row, err := w.NewRow(mustMicros(2022, 1, 1, 0))
	require.NoError(t, err)
	require.NoError(t, row.Append())
	require.NoError(t, w.Commit(false))

	// a second partition appears, then rolls back
	row, err = w.NewRow(mustMicros(2022, 1, 2, 0))
	require.NoError(t, err)
	require.NoError(t, row.Append())
	require.NoError(t, w.Rollback())
	require.NoError(t, w.Close())

	assert.DirExists(t, filepath.Join(root, "rb", "2022-01-01"))
	assert.NoDirExists(t, filepath.Join(root, "rb", "2022-01-02"))
	assert.Equal(t, int64(1), mustTxReader(t, Dir(root, "rb")).RowCount())
}

func TestWriterRollbackTruncatesPartial(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("rt")))

	w, err := OpenWriter(root, "rt")
	require.NoError(t, err)

	row, err := w.NewRow(mustMicros(2022, 1, 1, 0))
	require.NoError(t, err)
	row.PutStr(4, "committed")
	require.NoError(t, row.Append())
	require.NoError(t, w.Commit(false))

	row, err = w.NewRow(mustMicros(2022, 1, 1, 1))
	require.NoError(t, err)
	row.PutStr(4, "uncommitted")
	require.NoError(t, row.Append())
	require.NoError(t, w.Rollback())
	require.NoError(t, w.Close())

	day := filepath.Join(root, "rt", "2022-01-01")
	notes, err := ReadStringColumn(day, "note")
	require.NoError(t, err)
	assert.Equal(t, []string{"committed"}, notes)

	ts, err := ReadLongColumn(day, "ts")
	require.NoError(t, err)
	assert.Len(t, ts, 1)
}

func TestWriterAttachPartition(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("at")))

	// build a partition in a staging table, then graft its directory in
	require.NoError(t, Create(root, testStructure("at_stage")))
	sw, err := OpenWriter(root, "at_stage")
	require.NoError(t, err)
	key := PartitionByDay.Floor(mustMicros(2022, 7, 1, 3))
	row, err := sw.NewRow(mustMicros(2022, 7, 1, 3))
	require.NoError(t, err)
	row.PutInt(1, 5)
	require.NoError(t, row.Append())
	require.NoError(t, sw.Commit(true))
	require.NoError(t, sw.Close())

	src := filepath.Join(root, "at_stage", "2022-07-01")
	dst := filepath.Join(root, "at", "2022-07-01")
	require.NoError(t, os.Rename(src, dst))

	w, err := OpenWriter(root, "at")
	require.NoError(t, err)
	require.NoError(t, w.AttachPartition(key))
	require.NoError(t, w.Close())

	tx := mustTxReader(t, Dir(root, "at"))
	assert.Equal(t, int64(1), tx.RowCount())
	assert.Equal(t, 1, tx.PartitionCount())
	assert.Equal(t, key, tx.PartitionKey(0))
}

func TestWriterAttachMissingPartitionFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("am")))

	w, err := OpenWriter(root, "am")
	require.NoError(t, err)
	err = w.AttachPartition(PartitionByDay.Floor(mustMicros(2030, 1, 1, 0)))
	require.Error(t, err)
	require.NoError(t, w.Close())
}

func TestWriterTruncate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("tc")))

	w, err := OpenWriter(root, "tc")
	require.NoError(t, err)
	row, err := w.NewRow(mustMicros(2022, 1, 1, 0))
	require.NoError(t, err)
	require.NoError(t, row.PutSym(3, "gone"))
	require.NoError(t, row.Append())
	require.NoError(t, w.Commit(false))

	require.NoError(t, w.Truncate())
	require.NoError(t, w.Close())

	assert.NoDirExists(t, filepath.Join(root, "tc", "2022-01-01"))
	tx := mustTxReader(t, Dir(root, "tc"))
	assert.Equal(t, int64(0), tx.RowCount())
	assert.Equal(t, 0, tx.PartitionCount())

	dict, err := OpenSymbolMapReader(Dir(root, "tc"), "sym")
	require.NoError(t, err)
	assert.Equal(t, 0, dict.Count())
}

func TestWriterAddIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Create(root, testStructure("ix")))

	w, err := OpenWriter(root, "ix")
	require.NoError(t, err)
	for i, sym := range []string{"x", "y", "x", "x"} {
		row, err := w.NewRow(mustMicros(2022, 1, 1, i))
		require.NoError(t, err)
		require.NoError(t, row.PutSym(3, sym))
		require.NoError(t, row.Append())
	}
	require.NoError(t, w.Commit(false))
	require.NoError(t, w.AddIndex("sym"))
	require.NoError(t, w.Close())

	index, err := ReadIndex(filepath.Join(root, "ix", "2022-01-01"), "sym")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2, 3}, index["0"])
	assert.Equal(t, []int64{1}, index["1"])
}

func TestStructurePersistence(t *testing.T) {
	root := t.TempDir()
	s := testStructure("sp")
	require.NoError(t, Create(root, s))

	loaded, err := ReadStructure(Dir(root, "sp"))
	require.NoError(t, err)
	assert.Equal(t, "sp", loaded.Name)
	assert.Equal(t, PartitionByDay, loaded.PartitionBy)
	assert.Equal(t, 0, loaded.TimestampIndex)
	require.Len(t, loaded.Columns, 5)
	assert.Equal(t, ColumnSymbol, loaded.Columns[3].Type)
	assert.Equal(t, 0, loaded.SymbolColumnIndex("sym"))
	assert.Equal(t, -1, loaded.SymbolColumnIndex("ts"))
}

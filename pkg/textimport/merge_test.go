package textimport

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometdata/comet/pkg/mmap"
)

func encodeEntries(entries []indexEntry) []byte {
	out := make([]byte, len(entries)*IndexEntrySize)
	for i, e := range entries {
		binary.LittleEndian.PutUint64(out[i*IndexEntrySize:], uint64(e.ts))
		binary.LittleEndian.PutUint64(out[i*IndexEntrySize+8:], uint64(e.offset))
	}
	return out
}

func decodeEntries(data []byte) []indexEntry {
	entries := make([]indexEntry, len(data)/IndexEntrySize)
	for i := range entries {
		entries[i].ts = int64(binary.LittleEndian.Uint64(data[i*IndexEntrySize:]))
		entries[i].offset = int64(binary.LittleEndian.Uint64(data[i*IndexEntrySize+8:]))
	}
	return entries
}

func TestMergeSortedRunsOrdering(t *testing.T) {
	runA := encodeEntries([]indexEntry{{ts: 1, offset: 0}, {ts: 5, offset: 10}, {ts: 9, offset: 20}})
	runB := encodeEntries([]indexEntry{{ts: 2, offset: 30}, {ts: 5, offset: 40}})
	runC := encodeEntries([]indexEntry{{ts: 0, offset: 50}, {ts: 5, offset: 5}})

	dst := make([]byte, len(runA)+len(runB)+len(runC))
	mergeSortedRuns([][]byte{runA, runB, runC}, dst)

	got := decodeEntries(dst)
	want := []indexEntry{
		{ts: 0, offset: 50},
		{ts: 1, offset: 0},
		{ts: 2, offset: 30},
		{ts: 5, offset: 5}, // equal timestamps break ties by source offset
		{ts: 5, offset: 10},
		{ts: 5, offset: 40},
		{ts: 9, offset: 20},
	}
	assert.Equal(t, want, got)
}

func TestMergeSortedRunsSingleRun(t *testing.T) {
	run := encodeEntries([]indexEntry{{ts: 3, offset: 1}, {ts: 4, offset: 2}})
	dst := make([]byte, len(run))
	mergeSortedRuns([][]byte{run}, dst)
	assert.Equal(t, run, dst)
}

func TestMergeIndexChunksFiles(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0_0"),
		encodeEntries([]indexEntry{{ts: 10, offset: 100}, {ts: 30, offset: 300}}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_1"),
		encodeEntries([]indexEntry{{ts: 20, offset: 200}}), 0o644))

	merged, count, err := mergeIndexChunks(dir)
	require.NoError(t, err)
	defer mmap.Unmap(merged)

	require.Equal(t, int64(3), count)
	got := decodeEntries(merged)
	assert.Equal(t, []indexEntry{
		{ts: 10, offset: 100},
		{ts: 20, offset: 200},
		{ts: 30, offset: 300},
	}, got)

	// the merged index is persisted alongside the chunks
	st, err := os.Stat(filepath.Join(dir, MergedIndexFileName))
	require.NoError(t, err)
	assert.Equal(t, int64(3*IndexEntrySize), st.Size())
}

func TestMergeIndexChunksEmptyDir(t *testing.T) {
	dir := t.TempDir()
	merged, count, err := mergeIndexChunks(dir)
	require.NoError(t, err)
	assert.Nil(t, merged)
	assert.Equal(t, int64(0), count)
}

package textimport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanChunk(t *testing.T, path string, lo, hi int64) ChunkStats {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	stage := boundaryStage{file: f, lo: lo, hi: hi, bufLen: 7} // tiny buffer exercises refills
	require.NoError(t, stage.run())
	return stage.stats
}

func TestBoundaryStatsPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.csv")
	content := "a,b\nc,d\ne,f\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	stats := scanChunk(t, path, 0, int64(len(content)))

	assert.Equal(t, int64(0), stats.Quotes)
	assert.Equal(t, int64(3), stats.NewLinesEven)
	assert.Equal(t, int64(0), stats.NewLinesOdd)
	assert.Equal(t, int64(4), stats.FirstEvenOffset) // byte after first newline
	assert.Equal(t, int64(-1), stats.FirstOddOffset)
}

func TestBoundaryStatsQuoted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.csv")
	// the newline inside the quoted field is seen at odd quote parity
	content := "a,\"x\ny\"\nb,c\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	stats := scanChunk(t, path, 0, int64(len(content)))

	assert.Equal(t, int64(2), stats.Quotes)
	assert.Equal(t, int64(2), stats.NewLinesEven)
	assert.Equal(t, int64(1), stats.NewLinesOdd)
	assert.Equal(t, int64(5), stats.FirstOddOffset)
	assert.Equal(t, int64(8), stats.FirstEvenOffset)
}

func TestBoundaryStatsRangeBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.csv")
	content := "aaaa\nbbbb\ncccc\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// scan only the middle: one newline at content index 9
	stats := scanChunk(t, path, 5, 10)

	assert.Equal(t, int64(1), stats.NewLinesEven)
	assert.Equal(t, int64(10), stats.FirstEvenOffset)
}

func TestProcessChunkStatsFold(t *testing.T) {
	im := &Importer{fileLength: 100}
	im.chunkStats = []ChunkStats{
		{Quotes: 0, NewLinesEven: 5, FirstEvenOffset: 10, FirstOddOffset: -1},
		{Quotes: 2, NewLinesEven: 4, NewLinesOdd: 1, FirstEvenOffset: 30, FirstOddOffset: 27},
		{Quotes: 0, NewLinesEven: 3, NewLinesOdd: 0, FirstEvenOffset: 70, FirstOddOffset: -1},
	}
	im.processChunkStats(3)

	// quote count is even before chunk 1 and chunk 2, so even offsets win
	assert.Equal(t, []int64{0, 0, 30, 6, 70, 10, 100, 13}, im.indexChunkStats)
}

func TestProcessChunkStatsOddParity(t *testing.T) {
	im := &Importer{fileLength: 100}
	im.chunkStats = []ChunkStats{
		{Quotes: 1, NewLinesEven: 2, FirstEvenOffset: 8, FirstOddOffset: -1},
		{Quotes: 1, NewLinesEven: 1, NewLinesOdd: 2, FirstEvenOffset: 40, FirstOddOffset: 33},
	}
	im.processChunkStats(2)

	// one unclosed quote before chunk 1: the odd-parity newline is the
	// true record boundary
	assert.Equal(t, []int64{0, 0, 33, 3, 100, 5}, im.indexChunkStats)
}

func TestProcessChunkStatsMergesBlindChunk(t *testing.T) {
	im := &Importer{fileLength: 90}
	im.chunkStats = []ChunkStats{
		{Quotes: 1, NewLinesEven: 2, FirstEvenOffset: 5, FirstOddOffset: -1},
		// all quoted text: no boundary of either parity
		{Quotes: 0, NewLinesEven: 0, NewLinesOdd: 4, FirstEvenOffset: -1, FirstOddOffset: -1},
		{Quotes: 1, NewLinesEven: 2, NewLinesOdd: 3, FirstEvenOffset: 66, FirstOddOffset: 61},
	}
	im.processChunkStats(3)

	// chunk 1 merged left; chunk 2 resolves with odd parity
	assert.Equal(t, []int64{0, 0, 61, 7, 90, 10}, im.indexChunkStats)
}

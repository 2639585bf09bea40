package textimport

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cometdata/comet/pkg/errors"
	"github.com/cometdata/comet/pkg/mmap"
)

// mergeIndexChunks memory-maps every index chunk file in a partition
// directory and merges them into a single sorted index.m using a
// tournament tree over the chunk heads. Entries compare by timestamp,
// then source offset, so rows with equal timestamps keep their file
// order.
//
// Returns the merged mapping (a read-write mapping of index.m) and the entry
// count. The caller must Unmap the returned slice.
func mergeIndexChunks(partitionDir string) ([]byte, int64, error) {
	dirEntries, err := os.ReadDir(partitionDir)
	if err != nil {
		return nil, 0, errors.Wrapf(err, errors.ErrorTypeIO, "could not list partition dir %s", partitionDir)
	}

	var chunks [][]byte
	var total int64
	cleanup := func() {
		for _, c := range chunks {
			mmap.Unmap(c)
		}
	}

	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == MergedIndexFileName {
			continue
		}
		path := filepath.Join(partitionDir, de.Name())
		data, err := mmap.MapFileRO(path)
		if err != nil {
			cleanup()
			return nil, 0, errors.Wrapf(err, errors.ErrorTypeIO, "could not map index chunk %s", path)
		}
		mmap.Advise(data, mmap.MadvSequential)
		chunks = append(chunks, data)
		total += int64(len(data))
	}

	if total == 0 {
		cleanup()
		return nil, 0, nil
	}

	mergedPath := filepath.Join(partitionDir, MergedIndexFileName)
	out, err := os.OpenFile(mergedPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		cleanup()
		return nil, 0, errors.Wrapf(err, errors.ErrorTypeIO, "could not create merged index %s", mergedPath)
	}
	if err := out.Truncate(total); err != nil {
		out.Close()
		cleanup()
		return nil, 0, errors.Wrapf(err, errors.ErrorTypeIO, "could not size merged index %s", mergedPath)
	}
	merged, err := mmap.MapRW(out, total)
	out.Close()
	if err != nil {
		cleanup()
		return nil, 0, errors.Wrap(err, errors.ErrorTypeIO, "could not map merged index")
	}

	mergeSortedRuns(chunks, merged)
	cleanup()

	return merged, total / IndexEntrySize, nil
}

// mergeSortedRuns merges k sorted runs of 16-byte entries into dst using
// a tournament tree: each internal node holds the winner of its bracket, so the
// next entry is found and replaced with ceil(log2 k) comparisons per output
// entry.
func mergeSortedRuns(runs [][]byte, dst []byte) {
	k := len(runs)
	if k == 1 {
		copy(dst, runs[0])
		return
	}

	heads := make([]int, k)

	// exhausted runs compare greater than everything
	entryLess := func(a, b int) bool {
		ae, be := heads[a] < len(runs[a]), heads[b] < len(runs[b])
		if !ae || !be {
			return ae
		}
		ats := int64(binary.LittleEndian.Uint64(runs[a][heads[a]:]))
		bts := int64(binary.LittleEndian.Uint64(runs[b][heads[b]:]))
		if ats != bts {
			return ats < bts
		}
		aoff := int64(binary.LittleEndian.Uint64(runs[a][heads[a]+8:]))
		boff := int64(binary.LittleEndian.Uint64(runs[b][heads[b]+8:]))
		return aoff < boff
	}

	// tree[1] holds the overall winner after seeding
	size := 1
	for size < k {
		size <<= 1
	}
	tree := make([]int, 2*size)
	for i := range tree {
		tree[i] = -1
	}

	// seed the bracket bottom-up
	leaf := func(i int) int { return size + i }
	for i := 0; i < k; i++ {
		tree[leaf(i)] = i
	}
	for n := size - 1; n >= 1; n-- {
		l, r := tree[2*n], tree[2*n+1]
		switch {
		case l == -1:
			tree[n] = r
		case r == -1:
			tree[n] = l
		case entryLess(l, r):
			tree[n] = l
		default:
			tree[n] = r
		}
	}

	pos := 0
	for {
		winner := tree[1]
		if winner == -1 || heads[winner] >= len(runs[winner]) {
			break
		}

		copy(dst[pos:pos+IndexEntrySize], runs[winner][heads[winner]:heads[winner]+IndexEntrySize])
		pos += IndexEntrySize
		heads[winner] += IndexEntrySize

		// replay the winner's path
		n := leaf(winner) / 2
		for n >= 1 {
			l, r := tree[2*n], tree[2*n+1]
			switch {
			case l == -1:
				tree[n] = r
			case r == -1:
				tree[n] = l
			case entryLess(l, r):
				tree[n] = l
			default:
				tree[n] = r
			}
			n /= 2
		}
	}
}

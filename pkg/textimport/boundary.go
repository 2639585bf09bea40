package textimport

import (
	"io"
	"os"

	"github.com/cometdata/comet/pkg/errors"
	"github.com/cometdata/comet/pkg/pool"
)

// ChunkStats is the result of a boundary scan over one byte range.
// Newlines are bucketed by the parity of the running quote count at the
// byte following the newline: until the chunks to the left are folded in,
// it is unknown whether this chunk starts inside or outside a quoted
// field, so both candidates are computed in a single pass.
type ChunkStats struct {
	Quotes          int64
	NewLinesEven    int64
	NewLinesOdd     int64
	FirstEvenOffset int64 // offset of the byte after the first even newline, -1 if none
	FirstOddOffset  int64 // offset of the byte after the first odd newline, -1 if none
}

// boundaryStage scans [lo, hi) of the input file in a bounded buffer and
// computes ChunkStats. It never reads outside its range.
type boundaryStage struct {
	file   *os.File
	lo, hi int64
	bufLen int

	stats ChunkStats
}

func (s *boundaryStage) run() error {
	buf := pool.GlobalBufferPool.Get(s.bufLen)[:s.bufLen]
	defer pool.GlobalBufferPool.Put(buf)

	stats := ChunkStats{FirstEvenOffset: -1, FirstOddOffset: -1}
	offset := s.lo

	for offset < s.hi {
		toRead := int64(len(buf))
		if remaining := s.hi - offset; remaining < toRead {
			toRead = remaining
		}

		n, err := s.file.ReadAt(buf[:toRead], offset)
		if n == 0 {
			if err == io.EOF {
				break
			}
			return errors.Wrapf(err, errors.ErrorTypeIO, "could not read import file at offset %d", offset)
		}

		for i := 0; i < n; i++ {
			switch buf[i] {
			case '"':
				stats.Quotes++
			case '\n':
				after := offset + int64(i) + 1
				if stats.Quotes&1 == 0 {
					stats.NewLinesEven++
					if stats.FirstEvenOffset == -1 {
						stats.FirstEvenOffset = after
					}
				} else {
					stats.NewLinesOdd++
					if stats.FirstOddOffset == -1 {
						stats.FirstOddOffset = after
					}
				}
			}
		}

		offset += int64(n)
		if err == io.EOF {
			break
		}
	}

	if offset < s.hi {
		return errors.Newf(errors.ErrorTypeIO, "short read scanning chunk [%d, %d): got %d bytes", s.lo, s.hi, offset-s.lo)
	}

	s.stats = stats
	return nil
}

package textimport

import (
	"bytes"
	"math"
)

// delimiter candidates in priority order
var delimiterCandidates = []byte{',', ';', '\t', '|'}

// DetectDelimiter picks the most plausible column delimiter from a sample
// of the file's head. For each candidate it measures the per-line
// occurrence count over complete lines and scores consistency: a real
// delimiter appears the same number of times on every record. Quoted
// regions in the sample slightly distort the counts, which the variance
// term absorbs. Defaults to comma when nothing scores.
func DetectDelimiter(sample []byte) byte {
	lines := bytes.Split(sample, []byte{'\n'})
	// drop the trailing partial line
	if len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 32 {
		lines = lines[:32]
	}

	best := byte(',')
	bestScore := 0.0

	for _, cand := range delimiterCandidates {
		var counts []float64
		for _, line := range lines {
			if len(line) == 0 {
				continue
			}
			counts = append(counts, float64(bytes.Count(line, []byte{cand})))
		}
		if len(counts) == 0 {
			continue
		}

		mean := 0.0
		for _, c := range counts {
			mean += c
		}
		mean /= float64(len(counts))
		if mean < 1 {
			continue
		}

		variance := 0.0
		for _, c := range counts {
			variance += (c - mean) * (c - mean)
		}
		variance /= float64(len(counts))

		score := mean / (1 + math.Sqrt(variance))
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}

	return best
}

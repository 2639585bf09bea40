package textimport

import (
	"fmt"
	"strings"

	"github.com/cometdata/comet/pkg/errors"
)

// Detector samples the head of the file and derives column names and
// adapters. Detection keeps the tightest type accepting every non-empty
// sample of a column; columns where nothing tighter fits degrade to
// STRING, and low-cardinality short strings become SYMBOL.
//
// Header recognition: the first line is a header iff all of its cells
// are non-typed (string-like) and at least one column's type inferred
// from the remaining lines is typed. A forced header skips the check.
type Detector struct {
	maxLines    int
	forceHeader bool

	samples [][]string
}

// DetectResult is the outcome of structure detection.
type DetectResult struct {
	Names    []string
	Adapters []Adapter
	Header   bool
}

// probe order, tightest first; symbol and string accept anything and are
// resolved separately
var detectionOrder = []Adapter{
	boolAdapterInstance,
	intAdapterInstance,
	longAdapterInstance,
	doubleAdapterInstance,
	dateAdapterInstance,
}

// NewDetector creates a detector sampling at most maxLines records.
func NewDetector(maxLines int, forceHeader bool) *Detector {
	return &Detector{
		maxLines:    maxLines,
		forceHeader: forceHeader,
	}
}

// Collect is a FieldHandler accumulating sample rows.
func (d *Detector) Collect(lineNumber, lineOffset int64, fields [][]byte) error {
	if len(d.samples) >= d.maxLines {
		return nil
	}
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = string(f)
	}
	d.samples = append(d.samples, row)
	return nil
}

// Evaluate derives names and adapters from the collected samples.
func (d *Detector) Evaluate() (*DetectResult, error) {
	if len(d.samples) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "cannot determine text structure: no records sampled")
	}

	columnCount := 0
	for _, row := range d.samples {
		if len(row) > columnCount {
			columnCount = len(row)
		}
	}

	header := d.forceHeader
	if !header && len(d.samples) > 1 {
		header = d.detectHeader(columnCount)
	}

	dataRows := d.samples
	if header {
		dataRows = d.samples[1:]
	}
	if len(dataRows) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "no data rows after header")
	}

	adapters := make([]Adapter, columnCount)
	for col := 0; col < columnCount; col++ {
		adapters[col] = detectColumn(dataRows, col)
	}

	names := make([]string, columnCount)
	for col := 0; col < columnCount; col++ {
		if header && col < len(d.samples[0]) && sanitizeColumnName(d.samples[0][col]) != "" {
			names[col] = sanitizeColumnName(d.samples[0][col])
		} else {
			names[col] = fmt.Sprintf("f%d", col)
		}
	}

	return &DetectResult{
		Names:    names,
		Adapters: adapters,
		Header:   header,
	}, nil
}

// detectHeader implements the header rule over the sampled rows.
func (d *Detector) detectHeader(columnCount int) bool {
	first := d.samples[0]
	for _, cell := range first {
		if cell == "" {
			continue
		}
		if cellIsTyped(cell) {
			return false
		}
	}

	for col := 0; col < columnCount; col++ {
		adapter := detectColumn(d.samples[1:], col)
		switch adapter.ColumnType().String() {
		case "STRING", "SYMBOL":
			// not evidence either way
		default:
			return true
		}
	}
	return false
}

func cellIsTyped(cell string) bool {
	b := []byte(cell)
	for _, adapter := range detectionOrder {
		if adapter.Probe(b) {
			return true
		}
	}
	return NewTimestampAdapter().Probe(b)
}

// detectColumn returns the tightest adapter accepting every non-empty
// sample in the column.
func detectColumn(rows [][]string, col int) Adapter {
	tsAdapter := NewTimestampAdapter()
	candidates := append(append([]Adapter{}, detectionOrder...), tsAdapter)

	nonEmpty := 0
	distinct := make(map[string]struct{})
	maxLen := 0

	for _, row := range rows {
		if col >= len(row) || row[col] == "" {
			continue
		}
		cell := row[col]
		nonEmpty++
		distinct[cell] = struct{}{}
		if len(cell) > maxLen {
			maxLen = len(cell)
		}

		b := []byte(cell)
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Probe(b) {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	if nonEmpty == 0 {
		return stringAdapterInstance
	}
	if len(candidates) > 0 {
		return candidates[0]
	}

	// repeated short values read as categorical
	if maxLen <= 64 && len(distinct)*2 <= nonEmpty {
		return symbolAdapterInstance
	}
	return stringAdapterInstance
}

// sanitizeColumnName turns a header cell into a usable column name.
func sanitizeColumnName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, " ", "_")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

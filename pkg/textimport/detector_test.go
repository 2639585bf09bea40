package textimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometdata/comet/pkg/table"
)

func detect(t *testing.T, forceHeader bool, rows ...string) *DetectResult {
	t.Helper()
	d := NewDetector(1000, forceHeader)
	l := NewLexer(',')
	l.SetSkipLinesWithExtraValues(false)

	input := ""
	for _, r := range rows {
		input += r + "\n"
	}
	_, err := l.Parse([]byte(input), 0, 0, d.Collect)
	require.NoError(t, err)

	result, err := d.Evaluate()
	require.NoError(t, err)
	return result
}

func TestDetectorHeaderRecognized(t *testing.T) {
	res := detect(t, false,
		"ts,price,name",
		"2022-01-01T00:00:00Z,1.5,alpha",
		"2022-01-02T00:00:00Z,2.5,beta",
	)

	assert.True(t, res.Header)
	assert.Equal(t, []string{"ts", "price", "name"}, res.Names)
	assert.Equal(t, table.ColumnTimestamp, res.Adapters[0].ColumnType())
	assert.Equal(t, table.ColumnDouble, res.Adapters[1].ColumnType())
	assert.Equal(t, table.ColumnString, res.Adapters[2].ColumnType())
}

func TestDetectorNoHeaderWhenFirstLineTyped(t *testing.T) {
	res := detect(t, false,
		"2022-01-01T00:00:00Z,10",
		"2022-01-02T00:00:00Z,20",
	)

	assert.False(t, res.Header)
	assert.Equal(t, []string{"f0", "f1"}, res.Names)
	assert.Equal(t, table.ColumnTimestamp, res.Adapters[0].ColumnType())
	assert.Equal(t, table.ColumnInt, res.Adapters[1].ColumnType())
}

func TestDetectorNoHeaderWhenAllColumnsString(t *testing.T) {
	// all columns stay string-typed, so nothing distinguishes a header
	res := detect(t, false,
		"name,city",
		"long string that keeps the column textual,another free-form value x1",
		"second long and distinct string value here,yet another free-form value z9",
	)

	assert.False(t, res.Header)
}

func TestDetectorForcedHeader(t *testing.T) {
	res := detect(t, true,
		"a,b",
		"x y long free text value one,second free text value one",
		"x y long free text value two,second free text value two",
	)

	assert.True(t, res.Header)
	assert.Equal(t, []string{"a", "b"}, res.Names)
}

func TestDetectorIntWidensToLong(t *testing.T) {
	res := detect(t, false,
		"42,9223372036854775806",
		"7,1",
	)

	assert.Equal(t, table.ColumnInt, res.Adapters[0].ColumnType())
	assert.Equal(t, table.ColumnLong, res.Adapters[1].ColumnType())
}

func TestDetectorBooleanAndDate(t *testing.T) {
	res := detect(t, false,
		"true,2022-05-17",
		"false,2022-05-18",
	)

	assert.Equal(t, table.ColumnBoolean, res.Adapters[0].ColumnType())
	assert.Equal(t, table.ColumnDate, res.Adapters[1].ColumnType())
}

func TestDetectorSymbolFromRepeatedValues(t *testing.T) {
	res := detect(t, false,
		"AAPL,1",
		"AAPL,2",
		"MSFT,3",
		"AAPL,4",
		"MSFT,5",
		"AAPL,6",
	)

	assert.Equal(t, table.ColumnSymbol, res.Adapters[0].ColumnType())
}

func TestDetectorEmptyFieldsAreNull(t *testing.T) {
	res := detect(t, false,
		"1,",
		"2,",
		"3,x1 free form text value alpha",
		"4,x2 free form text value beta",
	)

	assert.Equal(t, table.ColumnInt, res.Adapters[0].ColumnType())
	assert.Equal(t, table.ColumnString, res.Adapters[1].ColumnType())
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, byte(','), DetectDelimiter([]byte("a,b,c\nd,e,f\ng,h,i\n")))
	assert.Equal(t, byte(';'), DetectDelimiter([]byte("a;b;c\nd;e;f\ng;h;i\n")))
	assert.Equal(t, byte('\t'), DetectDelimiter([]byte("a\tb\nc\td\ne\tf\n")))
	assert.Equal(t, byte('|'), DetectDelimiter([]byte("a|b|c\nd|e|f\n")))
	// nothing scores: default comma
	assert.Equal(t, byte(','), DetectDelimiter([]byte("plain\nlines\n")))
}

func TestDetectDelimiterPrefersConsistent(t *testing.T) {
	// commas vary per line, semicolons are constant
	sample := []byte("a;b,x,y\nc;d\ne;f,z\n")
	assert.Equal(t, byte(';'), DetectDelimiter(sample))
}

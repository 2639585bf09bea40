package textimport

import (
	"strconv"
	"time"

	"github.com/cometdata/comet/pkg/errors"
	stringpool "github.com/cometdata/comet/pkg/strings"
	"github.com/cometdata/comet/pkg/table"
)

// Adapter converts a raw field into a typed column write. Probe reports
// whether a sample value is acceptable; it drives type detection.
type Adapter interface {
	ColumnType() table.ColumnType
	Probe(field []byte) bool
	Write(row *table.Row, col int, field []byte) error
}

// adapters are stateless singletons except for timestamp adapters, which
// carry their layout set.
var (
	boolAdapterInstance   = &boolAdapter{}
	intAdapterInstance    = &intAdapter{}
	longAdapterInstance   = &longAdapter{}
	doubleAdapterInstance = &doubleAdapter{}
	dateAdapterInstance   = &dateAdapter{}
	symbolAdapterInstance = &symbolAdapter{}
	stringAdapterInstance = &stringAdapter{}

	// BadDateAdapter replaces a mis-detected DATE column; every write
	// fails so the atomicity policy decides the row's fate.
	BadDateAdapter Adapter = &badAdapter{typ: table.ColumnDate}
	// BadTimestampAdapter replaces a mis-detected TIMESTAMP column.
	BadTimestampAdapter Adapter = &badAdapter{typ: table.ColumnTimestamp}
)

// defaultTimestampLayouts are tried in order by the default timestamp
// adapter. Layouts without a zone are interpreted as UTC.
var defaultTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

const dateLayout = "2006-01-02"

type boolAdapter struct{}

func (a *boolAdapter) ColumnType() table.ColumnType { return table.ColumnBoolean }

func (a *boolAdapter) Probe(field []byte) bool {
	switch len(field) {
	case 4:
		return (field[0] == 't' || field[0] == 'T') && equalsFold(field[1:], "rue")
	case 5:
		return (field[0] == 'f' || field[0] == 'F') && equalsFold(field[1:], "alse")
	}
	return false
}

func (a *boolAdapter) Write(row *table.Row, col int, field []byte) error {
	if !a.Probe(field) {
		return errors.Newf(errors.ErrorTypeParse, "invalid boolean %q", field)
	}
	row.PutBool(col, field[0] == 't' || field[0] == 'T')
	return nil
}

type intAdapter struct{}

func (a *intAdapter) ColumnType() table.ColumnType { return table.ColumnInt }

func (a *intAdapter) Probe(field []byte) bool {
	_, err := strconv.ParseInt(stringpool.BytesToString(field), 10, 32)
	return err == nil
}

func (a *intAdapter) Write(row *table.Row, col int, field []byte) error {
	v, err := strconv.ParseInt(stringpool.BytesToString(field), 10, 32)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeParse, "invalid int %q", field)
	}
	row.PutInt(col, int32(v))
	return nil
}

type longAdapter struct{}

func (a *longAdapter) ColumnType() table.ColumnType { return table.ColumnLong }

func (a *longAdapter) Probe(field []byte) bool {
	_, err := strconv.ParseInt(stringpool.BytesToString(field), 10, 64)
	return err == nil
}

func (a *longAdapter) Write(row *table.Row, col int, field []byte) error {
	v, err := strconv.ParseInt(stringpool.BytesToString(field), 10, 64)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeParse, "invalid long %q", field)
	}
	row.PutLong(col, v)
	return nil
}

type doubleAdapter struct{}

func (a *doubleAdapter) ColumnType() table.ColumnType { return table.ColumnDouble }

func (a *doubleAdapter) Probe(field []byte) bool {
	_, err := strconv.ParseFloat(stringpool.BytesToString(field), 64)
	return err == nil
}

func (a *doubleAdapter) Write(row *table.Row, col int, field []byte) error {
	v, err := strconv.ParseFloat(stringpool.BytesToString(field), 64)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeParse, "invalid double %q", field)
	}
	row.PutDouble(col, v)
	return nil
}

type dateAdapter struct{}

func (a *dateAdapter) ColumnType() table.ColumnType { return table.ColumnDate }

func (a *dateAdapter) Probe(field []byte) bool {
	_, err := time.Parse(dateLayout, stringpool.BytesToString(field))
	return err == nil
}

func (a *dateAdapter) Write(row *table.Row, col int, field []byte) error {
	t, err := time.Parse(dateLayout, stringpool.BytesToString(field))
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeParse, "invalid date %q", field)
	}
	row.PutDate(col, t.UnixMilli())
	return nil
}

// TimestampAdapter parses timestamps into epoch microseconds. With an
// explicit layout only that layout is accepted; otherwise the default
// layout set is tried in order.
type TimestampAdapter struct {
	layouts []string
}

// NewTimestampAdapter returns the adapter with the default layout set.
func NewTimestampAdapter() *TimestampAdapter {
	return &TimestampAdapter{layouts: defaultTimestampLayouts}
}

// NewTimestampAdapterWithLayout returns an adapter bound to one layout.
func NewTimestampAdapterWithLayout(layout string) *TimestampAdapter {
	return &TimestampAdapter{layouts: []string{layout}}
}

// ColumnType implements Adapter.
func (a *TimestampAdapter) ColumnType() table.ColumnType { return table.ColumnTimestamp }

// Probe implements Adapter.
func (a *TimestampAdapter) Probe(field []byte) bool {
	_, err := a.TimestampMicros(field)
	return err == nil
}

// TimestampMicros parses a field into epoch microseconds.
func (a *TimestampAdapter) TimestampMicros(field []byte) (int64, error) {
	s := stringpool.BytesToString(field)
	for _, layout := range a.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMicro(), nil
		}
	}
	return 0, errors.Newf(errors.ErrorTypeParse, "invalid timestamp %q", field)
}

// Write implements Adapter.
func (a *TimestampAdapter) Write(row *table.Row, col int, field []byte) error {
	micros, err := a.TimestampMicros(field)
	if err != nil {
		return err
	}
	row.PutTimestamp(col, micros)
	return nil
}

// longTimestampAdapter treats a numeric field as epoch microseconds. It
// reconciles a LONG-detected input column with a TIMESTAMP target column.
type longTimestampAdapter struct{}

func (a *longTimestampAdapter) ColumnType() table.ColumnType { return table.ColumnTimestamp }

func (a *longTimestampAdapter) Probe(field []byte) bool {
	return longAdapterInstance.Probe(field)
}

func (a *longTimestampAdapter) TimestampMicros(field []byte) (int64, error) {
	v, err := strconv.ParseInt(stringpool.BytesToString(field), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeParse, "invalid timestamp %q", field)
	}
	return v, nil
}

func (a *longTimestampAdapter) Write(row *table.Row, col int, field []byte) error {
	micros, err := a.TimestampMicros(field)
	if err != nil {
		return err
	}
	row.PutTimestamp(col, micros)
	return nil
}

type symbolAdapter struct{}

func (a *symbolAdapter) ColumnType() table.ColumnType { return table.ColumnSymbol }

func (a *symbolAdapter) Probe(field []byte) bool { return true }

func (a *symbolAdapter) Write(row *table.Row, col int, field []byte) error {
	return row.PutSym(col, string(field))
}

type stringAdapter struct{}

func (a *stringAdapter) ColumnType() table.ColumnType { return table.ColumnString }

func (a *stringAdapter) Probe(field []byte) bool { return true }

func (a *stringAdapter) Write(row *table.Row, col int, field []byte) error {
	row.PutStr(col, string(field))
	return nil
}

type badAdapter struct {
	typ table.ColumnType
}

func (a *badAdapter) ColumnType() table.ColumnType { return a.typ }

func (a *badAdapter) Probe(field []byte) bool { return false }

func (a *badAdapter) Write(row *table.Row, col int, field []byte) error {
	return errors.Newf(errors.ErrorTypeParse, "no input format for %s column", a.typ)
}

// adapterForType returns the default adapter writing a given column type.
func adapterForType(t table.ColumnType) Adapter {
	switch t {
	case table.ColumnBoolean:
		return boolAdapterInstance
	case table.ColumnInt:
		return intAdapterInstance
	case table.ColumnLong:
		return longAdapterInstance
	case table.ColumnDouble:
		return doubleAdapterInstance
	case table.ColumnDate:
		return dateAdapterInstance
	case table.ColumnTimestamp:
		return NewTimestampAdapter()
	case table.ColumnSymbol:
		return symbolAdapterInstance
	default:
		return stringAdapterInstance
	}
}

func equalsFold(b []byte, lower string) bool {
	if len(b) != len(lower) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

// Package table implements the columnar storage engine consumed by the
// importer: partitioned tables laid out as one directory per partition
// with fixed-width column files, per-table symbol dictionaries and JSON
// metadata. The importer creates tables, appends rows through a Writer,
// attaches prepared partition directories and merges symbol dictionaries;
// everything else about the engine is internal.
package table

import (
	"fmt"
	"math"
	"strings"
)

// ColumnType enumerates the storable logical types.
type ColumnType uint8

const (
	// ColumnUnknown is the zero value; not storable
	ColumnUnknown ColumnType = iota
	// ColumnBoolean is stored as a single byte per row
	ColumnBoolean
	// ColumnInt is a 32-bit signed integer
	ColumnInt
	// ColumnLong is a 64-bit signed integer
	ColumnLong
	// ColumnDouble is a 64-bit IEEE float
	ColumnDouble
	// ColumnDate is a millisecond epoch timestamp
	ColumnDate
	// ColumnTimestamp is a microsecond epoch timestamp
	ColumnTimestamp
	// ColumnSymbol is a 32-bit key into a per-table dictionary
	ColumnSymbol
	// ColumnString is variable-length UTF-8 with an offset file
	ColumnString
	// ColumnBinary exists only to be rejected by text import
	ColumnBinary
)

var columnTypeNames = map[ColumnType]string{
	ColumnBoolean:   "BOOLEAN",
	ColumnInt:       "INT",
	ColumnLong:      "LONG",
	ColumnDouble:    "DOUBLE",
	ColumnDate:      "DATE",
	ColumnTimestamp: "TIMESTAMP",
	ColumnSymbol:    "SYMBOL",
	ColumnString:    "STRING",
	ColumnBinary:    "BINARY",
}

// String returns the canonical upper-case type name.
func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseColumnType resolves a canonical type name.
func ParseColumnType(s string) (ColumnType, error) {
	upper := strings.ToUpper(s)
	for t, name := range columnTypeNames {
		if name == upper {
			return t, nil
		}
	}
	return ColumnUnknown, fmt.Errorf("unknown column type %q", s)
}

// FixedSize returns the per-row width of a fixed-width type in bytes, or
// 0 for variable-width types.
func (t ColumnType) FixedSize() int {
	switch t {
	case ColumnBoolean:
		return 1
	case ColumnInt, ColumnSymbol:
		return 4
	case ColumnLong, ColumnDouble, ColumnDate, ColumnTimestamp:
		return 8
	default:
		return 0
	}
}

// Null sentinels per type. Symbol null is a negative key and passes
// through key rewriting untouched.
const (
	NullInt    = int32(math.MinInt32)
	NullLong   = int64(math.MinInt64)
	NullSymbol = int32(-1)
)

// NullDouble returns the double null sentinel.
func NullDouble() float64 {
	return math.NaN()
}

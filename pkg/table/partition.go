package table

import (
	"fmt"
	"strings"
	"time"
)

// PartitionBy is the unit a table is partitioned on.
type PartitionBy uint8

const (
	// PartitionNone marks an unpartitioned table; parallel import
	// rejects it
	PartitionNone PartitionBy = iota
	// PartitionByYear uses YYYY directories
	PartitionByYear
	// PartitionByMonth uses YYYY-MM directories
	PartitionByMonth
	// PartitionByDay uses YYYY-MM-DD directories
	PartitionByDay
	// PartitionByHour uses YYYY-MM-DDTHH directories
	PartitionByHour
)

var partitionByNames = map[PartitionBy]string{
	PartitionNone:    "NONE",
	PartitionByYear:  "YEAR",
	PartitionByMonth: "MONTH",
	PartitionByDay:   "DAY",
	PartitionByHour:  "HOUR",
}

var partitionDirLayouts = map[PartitionBy]string{
	PartitionByYear:  "2006",
	PartitionByMonth: "2006-01",
	PartitionByDay:   "2006-01-02",
	PartitionByHour:  "2006-01-02T15",
}

// String returns the canonical unit name.
func (p PartitionBy) String() string {
	if name, ok := partitionByNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParsePartitionBy resolves a canonical unit name.
func ParsePartitionBy(s string) (PartitionBy, error) {
	upper := strings.ToUpper(s)
	for p, name := range partitionByNames {
		if name == upper {
			return p, nil
		}
	}
	return PartitionNone, fmt.Errorf("unknown partition unit %q", s)
}

// IsPartitioned reports whether the unit subdivides the table at all.
func (p PartitionBy) IsPartitioned() bool {
	return p != PartitionNone
}

// Floor truncates a microsecond epoch timestamp to the start of its
// partition in UTC and returns the partition key, also in microseconds.
func (p PartitionBy) Floor(micros int64) int64 {
	t := time.UnixMicro(micros).UTC()
	var f time.Time
	switch p {
	case PartitionByYear:
		f = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case PartitionByMonth:
		f = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PartitionByDay:
		f = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PartitionByHour:
		f = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	default:
		return micros
	}
	return f.UnixMicro()
}

// DirName formats a partition key as its canonical directory name.
func (p PartitionBy) DirName(key int64) string {
	layout, ok := partitionDirLayouts[p]
	if !ok {
		return fmt.Sprintf("%d", key)
	}
	return time.UnixMicro(key).UTC().Format(layout)
}

// ParseDirName parses a canonical directory name back into its partition
// key. DirName and ParseDirName round-trip for every floored key.
func (p PartitionBy) ParseDirName(name string) (int64, error) {
	layout, ok := partitionDirLayouts[p]
	if !ok {
		return 0, fmt.Errorf("partition unit %s has no directory format", p)
	}
	t, err := time.ParseInLocation(layout, name, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid partition directory name %q: %w", name, err)
	}
	return t.UnixMicro(), nil
}

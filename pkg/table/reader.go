package table

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Column readers load whole column files; they back secondary index
// construction and verification tooling.

// ReadLongColumn reads an 8-byte-wide column (LONG, TIMESTAMP, DATE) from
// a partition directory.
func ReadLongColumn(partitionDir, column string) ([]int64, error) {
	data, err := os.ReadFile(filepath.Join(partitionDir, column+DataFileSuffix))
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("column file %s/%s.d has torn rows", partitionDir, column)
	}
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}

// ReadIntColumn reads a 4-byte-wide column (INT, SYMBOL keys).
func ReadIntColumn(partitionDir, column string) ([]int32, error) {
	data, err := os.ReadFile(filepath.Join(partitionDir, column+DataFileSuffix))
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("column file %s/%s.d has torn rows", partitionDir, column)
	}
	out := make([]int32, len(data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// ReadDoubleColumn reads a DOUBLE column.
func ReadDoubleColumn(partitionDir, column string) ([]float64, error) {
	data, err := os.ReadFile(filepath.Join(partitionDir, column+DataFileSuffix))
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("column file %s/%s.d has torn rows", partitionDir, column)
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}

// ReadBoolColumn reads a BOOLEAN column.
func ReadBoolColumn(partitionDir, column string) ([]bool, error) {
	data, err := os.ReadFile(filepath.Join(partitionDir, column+DataFileSuffix))
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(data))
	for i, b := range data {
		out[i] = b != 0
	}
	return out, nil
}

// ReadStringColumn reads a STRING column via its offset file.
func ReadStringColumn(partitionDir, column string) ([]string, error) {
	offData, err := os.ReadFile(filepath.Join(partitionDir, column+OffsetFileSuffix))
	if err != nil {
		return nil, err
	}
	if len(offData)%8 != 0 {
		return nil, fmt.Errorf("offset file %s/%s.i has torn rows", partitionDir, column)
	}

	data, err := os.ReadFile(filepath.Join(partitionDir, column+DataFileSuffix))
	if err != nil {
		return nil, err
	}

	n := len(offData) / 8
	out := make([]string, n)
	prev := int64(0)
	for i := 0; i < n; i++ {
		end := int64(binary.LittleEndian.Uint64(offData[i*8:]))
		if end < prev || end > int64(len(data)) {
			return nil, fmt.Errorf("offset file %s/%s.i is corrupt", partitionDir, column)
		}
		out[i] = string(data[prev:end])
		prev = end
	}
	return out, nil
}

package table

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	json "github.com/goccy/go-json"
)

const (
	// MetaFileName holds the table schema
	MetaFileName = "_meta.json"
	// TxnFileName holds committed partition and symbol state
	TxnFileName = "_txn.json"

	// DataFileSuffix is the column data file extension
	DataFileSuffix = ".d"
	// OffsetFileSuffix is the string offset file extension
	OffsetFileSuffix = ".i"
	// SymbolFileSuffix is the per-table symbol dictionary extension
	SymbolFileSuffix = ".c"
	// IndexFileSuffix is the secondary index file extension
	IndexFileSuffix = ".k"
	// RemapFileSuffix maps shadow-local symbol keys to target keys
	RemapFileSuffix = ".remap"
)

// Column describes one column of a table.
type Column struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"-"`
	Indexed bool       `json:"indexed,omitempty"`

	// TypeName is the serialized form of Type
	TypeName string `json:"type"`
}

// Structure describes a table: its columns, designated timestamp and
// partition unit.
type Structure struct {
	Name           string      `json:"name"`
	Columns        []Column    `json:"columns"`
	TimestampIndex int         `json:"timestamp_index"`
	PartitionBy    PartitionBy `json:"-"`

	// PartitionByName is the serialized form of PartitionBy
	PartitionByName string `json:"partition_by"`
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// ValidTableName reports whether a name is acceptable as a table (and
// thus directory) name.
func ValidTableName(name string) bool {
	return len(name) > 0 && len(name) <= 127 && tableNamePattern.MatchString(name)
}

// ColumnIndex returns the position of a named column, or -1.
func (s *Structure) ColumnIndex(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// SymbolColumnIndex returns the position of a column among the table's
// symbol columns, or -1 when the column is absent or not a symbol.
func (s *Structure) SymbolColumnIndex(name string) int {
	idx := -1
	for i := range s.Columns {
		if s.Columns[i].Type == ColumnSymbol {
			idx++
			if s.Columns[i].Name == name {
				return idx
			}
		}
	}
	return -1
}

// SymbolColumns returns the names of all symbol columns in order.
func (s *Structure) SymbolColumns() []string {
	var cols []string
	for i := range s.Columns {
		if s.Columns[i].Type == ColumnSymbol {
			cols = append(cols, s.Columns[i].Name)
		}
	}
	return cols
}

// prepare fills serialized name fields before writing.
func (s *Structure) prepare() {
	s.PartitionByName = s.PartitionBy.String()
	for i := range s.Columns {
		s.Columns[i].TypeName = s.Columns[i].Type.String()
	}
}

// resolve fills typed fields after reading.
func (s *Structure) resolve() error {
	p, err := ParsePartitionBy(s.PartitionByName)
	if err != nil {
		return err
	}
	s.PartitionBy = p
	for i := range s.Columns {
		t, err := ParseColumnType(s.Columns[i].TypeName)
		if err != nil {
			return fmt.Errorf("column %s: %w", s.Columns[i].Name, err)
		}
		s.Columns[i].Type = t
	}
	return nil
}

// WriteStructure persists a table schema into its directory.
func WriteStructure(dir string, s *Structure) error {
	s.prepare()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(dir, MetaFileName), data)
}

// ReadStructure loads a table schema from its directory.
func ReadStructure(dir string) (*Structure, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		return nil, err
	}
	var s Structure
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt table metadata in %s: %w", dir, err)
	}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	return &s, nil
}

// atomicWriteFile writes via a temp file and rename so readers never see
// a torn metadata file.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

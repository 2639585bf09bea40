package table

import (
	"fmt"
	"os"
	"path/filepath"
)

// Exists reports whether a table directory with metadata exists under root.
func Exists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, name, MetaFileName))
	return err == nil
}

// Create lays out a fresh table directory under root: metadata, an empty
// transaction record, and empty symbol dictionaries. An existing table
// with the same name is replaced.
func Create(root string, s *Structure) error {
	if !ValidTableName(s.Name) {
		return fmt.Errorf("invalid table name %q", s.Name)
	}

	dir := filepath.Join(root, s.Name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to replace table dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create table dir %s: %w", dir, err)
	}

	if err := WriteStructure(dir, s); err != nil {
		return err
	}

	symCount := len(s.SymbolColumns())
	txn := &Txn{SymbolCounts: make([]int32, symCount)}
	return WriteTxn(dir, txn)
}

// Remove deletes a table directory and everything under it.
func Remove(root, name string) error {
	return os.RemoveAll(filepath.Join(root, name))
}

// Dir returns the directory of a table under root.
func Dir(root, name string) string {
	return filepath.Join(root, name)
}

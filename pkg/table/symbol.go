package table

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Symbol dictionaries live in the table root as $col.c files: a sequence
// of length-prefixed UTF-8 values. A value's key is its position in the
// file, so keys are dense and assignment order is the file order.

// SymbolMapWriter appends values to a column's dictionary and resolves
// values to keys.
type SymbolMapWriter struct {
	f    *os.File
	w    *bufio.Writer
	keys map[string]int32
	next int32
}

// OpenSymbolMapWriter opens (or creates) the dictionary for a column,
// loading existing values so lookups resolve to their original keys.
func OpenSymbolMapWriter(tableDir, column string) (*SymbolMapWriter, error) {
	path := filepath.Join(tableDir, column+SymbolFileSuffix)

	existing, err := readSymbolFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &SymbolMapWriter{
		f:    f,
		w:    bufio.NewWriter(f),
		keys: make(map[string]int32, len(existing)),
	}
	for i, v := range existing {
		w.keys[v] = int32(i)
	}
	w.next = int32(len(existing))
	return w, nil
}

// Put resolves a value to its key, appending it to the dictionary when
// first seen.
func (w *SymbolMapWriter) Put(value string) (int32, error) {
	if key, ok := w.keys[value]; ok {
		return key, nil
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := w.w.WriteString(value); err != nil {
		return 0, err
	}

	key := w.next
	w.keys[value] = key
	w.next++
	return key, nil
}

// Count returns the number of values in the dictionary.
func (w *SymbolMapWriter) Count() int32 {
	return w.next
}

// Flush writes buffered appends through to the file.
func (w *SymbolMapWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes and closes the dictionary file.
func (w *SymbolMapWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// SymbolMapReader resolves keys back to values.
type SymbolMapReader struct {
	values []string
}

// OpenSymbolMapReader loads a column's dictionary. A missing file yields
// an empty dictionary.
func OpenSymbolMapReader(tableDir, column string) (*SymbolMapReader, error) {
	values, err := readSymbolFile(filepath.Join(tableDir, column+SymbolFileSuffix))
	if err != nil {
		return nil, err
	}
	return &SymbolMapReader{values: values}, nil
}

// Count returns the number of values in the dictionary.
func (r *SymbolMapReader) Count() int {
	return len(r.values)
}

// ValueOf resolves a key, reporting whether it is in range.
func (r *SymbolMapReader) ValueOf(key int32) (string, bool) {
	if key < 0 || int(key) >= len(r.values) {
		return "", false
	}
	return r.values[key], true
}

// Values returns all dictionary values in key order.
func (r *SymbolMapReader) Values() []string {
	return r.values
}

func readSymbolFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var values []string
	br := bufio.NewReader(f)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.EOF {
				return values, nil
			}
			return nil, fmt.Errorf("corrupt symbol dictionary %s: %w", path, err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("corrupt symbol dictionary %s: %w", path, err)
		}
		values = append(values, string(buf))
	}
}

// Package strings provides zero-copy string utilities for hot paths in Comet
package strings

import (
	"unsafe"
)

// BytesToString converts a byte slice to a string without allocation.
// The adapters lean on this when probing and parsing field slices, where
// a copy per field would dominate the import's allocation profile.
//
// WARNING: The returned string shares memory with the byte slice.
// Do not modify the byte slice after calling this function.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

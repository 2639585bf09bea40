// Package mmap provides memory-mapped file I/O for zero-copy access to
// index chunks, merged indexes and column files during import.
package mmap

import (
	"fmt"
	"os"
)

// MapRO memory-maps size bytes of f read-only.
func MapRO(f *os.File, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot map %d bytes of %s", size, f.Name())
	}
	data, err := mmap(int(f.Fd()), 0, int(size), protRead, mapShared)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %s: %w", f.Name(), err)
	}
	return data, nil
}

// MapRW memory-maps size bytes of f read-write with MAP_SHARED, so
// stores are carried through to the file.
func MapRW(f *os.File, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot map %d bytes of %s", size, f.Name())
	}
	data, err := mmap(int(f.Fd()), 0, int(size), protRead|protWrite, mapShared)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %s: %w", f.Name(), err)
	}
	return data, nil
}

// MapFileRO opens path and maps its full length read-only. The file
// descriptor is closed before returning; the mapping keeps the pages alive.
func MapFileRO(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return MapRO(f, st.Size())
}

// MapFileRW opens path read-write and maps its full length.
func MapFileRW(path string) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return MapRW(f, st.Size())
}

// Unmap releases a mapping created by one of the Map functions.
func Unmap(b []byte) error {
	if b == nil {
		return nil
	}
	return munmap(b)
}

// Advise passes an access-pattern hint to the kernel. Failures are ignored;
// the hint is advisory.
func Advise(b []byte, advice int) {
	_ = madvise(b, advice)
}

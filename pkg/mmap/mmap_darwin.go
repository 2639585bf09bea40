//go:build darwin
// +build darwin

package mmap

import (
	"syscall"
)

// mmap wraps the mmap system call
func mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return syscall.Mmap(fd, offset, length, prot, flags)
}

// munmap wraps the munmap system call
func munmap(b []byte) error {
	return syscall.Munmap(b)
}

// madvise is a no-op on darwin; syscall does not expose it portably
func madvise(b []byte, advice int) error {
	return nil
}

const (
	protRead  = syscall.PROT_READ
	protWrite = syscall.PROT_WRITE

	mapShared = syscall.MAP_SHARED

	// MadvSequential advises the kernel of sequential access
	MadvSequential = 2
	// MadvWillneed advises the kernel to prefetch the range
	MadvWillneed = 3
)

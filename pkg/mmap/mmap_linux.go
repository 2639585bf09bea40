//go:build linux
// +build linux

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

// madvise wraps the madvise system call
func madvise(b []byte, advice int) error {
	return syscall.Madvise(b, advice)
}

const (
	protRead  = syscall.PROT_READ
	protWrite = syscall.PROT_WRITE

	mapShared = syscall.MAP_SHARED

	// MadvSequential advises the kernel of sequential access
	MadvSequential = syscall.MADV_SEQUENTIAL
	// MadvWillneed advises the kernel to prefetch the range
	MadvWillneed = syscall.MADV_WILLNEED
)

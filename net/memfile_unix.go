//go:build unix

package net

import (
	"os"

	"golang.org/x/sys/unix"
)

const defaultSegmentDir = "/dev/shm"

func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmapFile(mem []byte) error {
	return unix.Munmap(mem)
}

// remapFile replaces the mapping old by a mapping of size bytes. The content
// lives in the file, so it survives the remap. On failure the returned slice
// is the mapping still in place: old if it could not be unmapped, else nil.
func remapFile(f *os.File, old []byte, size int) ([]byte, error) {
	if len(old) > 0 {
		if err := unix.Munmap(old); err != nil {
			return old, err
		}
	}
	return mapFile(f, size)
}

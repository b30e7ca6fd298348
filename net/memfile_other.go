//go:build !unix

package net

import "os"

const defaultSegmentDir = ""

// Without mmap the file only reserves the name; the segment lives on the heap.
func mapFile(_ *os.File, size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapFile(_ []byte) error {
	return nil
}

func remapFile(_ *os.File, old []byte, size int) ([]byte, error) {
	mem := make([]byte, size)
	copy(mem, old)
	return mem, nil
}

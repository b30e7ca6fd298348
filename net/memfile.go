package net

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/atolab/shmpubsub/core"
)

// Memory file layout, little endian:
//
//	0  magic     uint32
//	4  version   uint8
//	5  flags     uint8
//	8  seq       uint64
//	16 length    uint64 (frame prefix + data)
//	24 time      uint64
//	32 clock id  [16]byte
//	64 frame: VLE(encoding) VLE(kind) data
const (
	memFileMagic   = 0x504d4853 // "SHMP"
	memFileVersion = 1
	headerSize     = 64

	flagZeroCopy = 0x01

	// MaxPayloadSize is the largest payload a single send accepts.
	MaxPayloadSize = math.MaxInt32
)

type header struct {
	flags  uint8
	seq    uint64
	length uint64
	tstamp core.Timestamp
}

func putHeader(mem []byte, h *header) {
	binary.LittleEndian.PutUint32(mem[0:], memFileMagic)
	mem[4] = memFileVersion
	mem[5] = h.flags
	binary.LittleEndian.PutUint64(mem[8:], h.seq)
	binary.LittleEndian.PutUint64(mem[16:], h.length)
	binary.LittleEndian.PutUint64(mem[24:], h.tstamp.Time())
	clk := h.tstamp.ClockID()
	copy(mem[32:48], clk[:])
}

func getHeader(mem []byte) (header, bool) {
	if len(mem) < headerSize ||
		binary.LittleEndian.Uint32(mem[0:]) != memFileMagic ||
		mem[4] != memFileVersion {
		return header{}, false
	}
	var clk [16]byte
	copy(clk[:], mem[32:48])
	return header{
		flags:  mem[5],
		seq:    binary.LittleEndian.Uint64(mem[8:]),
		length: binary.LittleEndian.Uint64(mem[16:]),
		tstamp: core.FromRaw(binary.LittleEndian.Uint64(mem[24:]), clk),
	}, true
}

// memFile is the shared memory segment backing one topic. Writers hold rw
// exclusively, readers hold it shared. capacity mirrors len(mem) so that it
// can be read without rw.
type memFile struct {
	path     string
	rw       sync.RWMutex
	f        *os.File
	mem      []byte
	capacity atomic.Int64
}

// remap is swapped by tests to make remapping fail.
var remap = remapFile

func createMemFile(path string, size int) (*memFile, error) {
	logger.WithField("path", path).WithField("size", size).Debug("Create memory file")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, &ZNError{"open memory file " + path + " failed: " + err.Error(), ErrCodeMemFile}
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, &ZNError{"resize memory file " + path + " failed: " + err.Error(), ErrCodeMemFile}
	}
	mem, err := mapFile(f, size)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, &ZNError{"map memory file " + path + " failed: " + err.Error(), ErrCodeMemFile}
	}
	m := &memFile{path: path, f: f, mem: mem}
	m.capacity.Store(int64(len(mem)))
	return m, nil
}

// grow remaps the file with at least size bytes. Caller holds rw exclusively.
func (m *memFile) grow(size int) error {
	if size <= len(m.mem) {
		return nil
	}
	logger.WithField("path", m.path).WithField("size", size).Debug("Grow memory file")
	if m.f == nil {
		return &ZNError{"memory file " + m.path + " is closed", ErrCodeMemFile}
	}
	if err := m.f.Truncate(int64(size)); err != nil {
		return &ZNError{"resize memory file " + m.path + " failed: " + err.Error(), ErrCodeMemFile}
	}
	mem, err := remap(m.f, m.mem, size)
	m.mem = mem
	m.capacity.Store(int64(len(mem)))
	if err != nil {
		return &ZNError{"remap memory file " + m.path + " failed: " + err.Error(), ErrCodeMemFile}
	}
	return nil
}

func (m *memFile) size() int {
	return int(m.capacity.Load())
}

func (m *memFile) close() error {
	m.rw.Lock()
	defer m.rw.Unlock()
	logger.WithField("path", m.path).Debug("Close memory file")
	var first error
	if m.mem != nil {
		if err := unmapFile(m.mem); err != nil {
			first = err
		}
		m.mem = nil
		m.capacity.Store(0)
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil && first == nil {
			first = err
		}
		m.f = nil
		if err := os.Remove(m.path); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return &ZNError{"close memory file " + m.path + " failed: " + first.Error(), ErrCodeMemFile}
	}
	return nil
}

// capacityFor returns the memory file size for a frame of need bytes.
func capacityFor(need, reserve int) int {
	return need + need/100*reserve + (need%100)*reserve/100
}

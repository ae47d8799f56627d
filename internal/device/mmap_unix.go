//go:build linux || darwin

package device

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// growthChunk is the remap granularity: the backing file and mapping are
// grown in 1GB steps so that appending pages doesn't remap on every write.
const growthChunk = 1024 * 1024 * 1024

// MmapDevice implements Device over a memory-mapped file, remapping in
// 1GB chunks as the file grows.
type MmapDevice struct {
	file     *os.File
	pagesize int
	data     []byte
	mapSize  int64 // physical size of the current mapping
	size     int64 // logical size (high-water mark of allocated bytes)
}

// NewMmapDevice opens (creating if necessary) the file at path and maps it.
func NewMmapDevice(path string, pagesize int) (*MmapDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	logicalSize := info.Size()
	mapSize := logicalSize
	if mapSize == 0 {
		mapSize = growthChunk
	}
	if err := file.Truncate(mapSize); err != nil {
		file.Close()
		return nil, err
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(mapSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &MmapDevice{
		file:     file,
		pagesize: pagesize,
		data:     data,
		mapSize:  mapSize,
		size:     logicalSize,
	}, nil
}

func (m *MmapDevice) PageSize() int {
	return m.pagesize
}

func (m *MmapDevice) FileSize() (int64, error) {
	return m.size, nil
}

func (m *MmapDevice) ReadPage(addr int64, buf []byte) error {
	if m.data == nil {
		return ErrClosed
	}
	if addr+int64(len(buf)) > m.mapSize {
		return fmt.Errorf("device: read at %d beyond mapped region (mapSize=%d)", addr, m.mapSize)
	}
	// Copy out of the mapping so the caller's buffer survives a later remap.
	copy(buf, m.data[addr:addr+int64(len(buf))])
	return nil
}

func (m *MmapDevice) WritePage(addr int64, buf []byte, writeThrough bool) error {
	if m.data == nil {
		return ErrClosed
	}
	if err := m.ensureMapped(addr + int64(len(buf))); err != nil {
		return err
	}
	copy(m.data[addr:], buf)
	if end := addr + int64(len(buf)); end > m.size {
		m.size = end
	}
	if writeThrough {
		return m.Sync()
	}
	return nil
}

func (m *MmapDevice) AllocPage() (int64, error) {
	return m.AllocArea(int64(m.pagesize))
}

func (m *MmapDevice) AllocArea(size int64) (int64, error) {
	if m.data == nil {
		return 0, ErrClosed
	}
	addr := m.size
	if err := m.ensureMapped(addr + size); err != nil {
		return 0, err
	}
	m.size = addr + size
	return addr, nil
}

// ensureMapped grows the file and remaps it in growthChunk-sized steps if
// minSize exceeds the current mapping.
func (m *MmapDevice) ensureMapped(minSize int64) error {
	if minSize <= m.mapSize {
		return nil
	}

	newSize := ((minSize + growthChunk - 1) / growthChunk) * growthChunk

	// Kick off an async flush to shorten the time munmap blocks for.
	_ = unix.Msync(m.data, unix.MS_ASYNC)

	if err := syscall.Munmap(m.data); err != nil {
		return err
	}

	if err := m.file.Truncate(newSize); err != nil {
		return err
	}

	data, err := syscall.Mmap(int(m.file.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}

	m.data = data
	m.mapSize = newSize
	return nil
}

func (m *MmapDevice) Sync() error {
	if m.data == nil {
		return ErrClosed
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return err
	}
	return m.file.Sync()
}

func (m *MmapDevice) Close() error {
	if m.data == nil {
		return nil
	}
	err := syscall.Munmap(m.data)
	m.data = nil
	// Drop the growth padding so a reopen sees the logical size.
	if terr := m.file.Truncate(m.size); err == nil {
		err = terr
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}

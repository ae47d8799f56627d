package device

// MemDevice is an in-memory Device, selected when the environment is
// opened with the IN_MEMORY flag. There is no file, so alloc and write
// never fail with an I/O error and Sync does nothing. Close drops the
// stored contents; every later call except Close returns ErrClosed.
type MemDevice struct {
	pagesize int
	size     int64
	regions  map[int64][]byte
	closed   bool
}

// NewMemDevice creates an empty in-memory Device.
func NewMemDevice(pagesize int) *MemDevice {
	return &MemDevice{
		pagesize: pagesize,
		regions:  make(map[int64][]byte),
	}
}

func (m *MemDevice) PageSize() int {
	return m.pagesize
}

func (m *MemDevice) FileSize() (int64, error) {
	return m.size, nil
}

func (m *MemDevice) ReadPage(addr int64, buf []byte) error {
	if m.closed {
		return ErrClosed
	}
	region, ok := m.regions[addr]
	if !ok || len(region) < len(buf) {
		// Unwritten region reads as zero, matching a sparse file.
		clear(buf)
		return nil
	}
	copy(buf, region)
	return nil
}

func (m *MemDevice) WritePage(addr int64, buf []byte, writeThrough bool) error {
	if m.closed {
		return ErrClosed
	}
	region := make([]byte, len(buf))
	copy(region, buf)
	m.regions[addr] = region
	if end := addr + int64(len(buf)); end > m.size {
		m.size = end
	}
	return nil
}

func (m *MemDevice) AllocPage() (int64, error) {
	return m.AllocArea(int64(m.pagesize))
}

func (m *MemDevice) AllocArea(size int64) (int64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	addr := m.size
	m.size += size
	return addr, nil
}

func (m *MemDevice) Sync() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemDevice) Close() error {
	m.closed = true
	m.regions = nil
	return nil
}

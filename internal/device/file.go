package device

import (
	"fmt"
	"os"
)

// FileDevice implements Device on top of a plain os.File. It does not
// attempt aligned or direct I/O; the page lifecycle's correctness contract
// does not depend on it.
type FileDevice struct {
	file     *os.File
	pagesize int
	size     int64
}

// NewFileDevice opens (creating if necessary) the file at path as a Device.
func NewFileDevice(path string, pagesize int) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileDevice{
		file:     file,
		pagesize: pagesize,
		size:     info.Size(),
	}, nil
}

func (f *FileDevice) PageSize() int {
	return f.pagesize
}

func (f *FileDevice) FileSize() (int64, error) {
	return f.size, nil
}

func (f *FileDevice) ReadPage(addr int64, buf []byte) error {
	if f.file == nil {
		return ErrClosed
	}
	n, err := f.file.ReadAt(buf, addr)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrShortIO, n, len(buf))
	}
	return nil
}

func (f *FileDevice) WritePage(addr int64, buf []byte, writeThrough bool) error {
	if f.file == nil {
		return ErrClosed
	}
	n, err := f.file.WriteAt(buf, addr)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: wrote %d bytes, expected %d", ErrShortIO, n, len(buf))
	}
	if end := addr + int64(n); end > f.size {
		f.size = end
	}
	if writeThrough {
		return f.file.Sync()
	}
	return nil
}

func (f *FileDevice) AllocPage() (int64, error) {
	return f.AllocArea(int64(f.pagesize))
}

func (f *FileDevice) AllocArea(size int64) (int64, error) {
	if f.file == nil {
		return 0, ErrClosed
	}
	addr := f.size
	newSize := addr + size
	if err := f.file.Truncate(newSize); err != nil {
		return 0, err
	}
	f.size = newSize
	return addr, nil
}

func (f *FileDevice) Sync() error {
	if f.file == nil {
		return ErrClosed
	}
	return f.file.Sync()
}

func (f *FileDevice) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Package device implements the storage backends consumed abstractly by the
// page lifecycle: a plain file, a memory-mapped file, and an in-memory map.
package device

import "errors"

// ErrClosed is returned by any operation on a Device that has been closed.
var ErrClosed = errors.New("device: closed")

// ErrShortIO is returned when a read or write transfers fewer bytes than
// requested; under os.File.ReadAt/WriteAt semantics this only happens on a
// truncated or corrupt backing file.
var ErrShortIO = errors.New("device: short read or write")

// Device is the abstract backing store the page lifecycle reads and writes
// through. It never interprets page contents.
type Device interface {
	// PageSize returns the fixed page size for the life of the device.
	PageSize() int

	// FileSize returns the current logical size of the backing store.
	FileSize() (int64, error)

	// ReadPage reads len(buf) bytes starting at addr.
	ReadPage(addr int64, buf []byte) error

	// WritePage writes buf starting at addr. If writeThrough is set the
	// write is synchronously durable before WritePage returns.
	WritePage(addr int64, buf []byte, writeThrough bool) error

	// AllocPage extends the store by one page and returns its address.
	AllocPage() (int64, error)

	// AllocArea extends the store by size bytes and returns the start
	// address. size need not be a multiple of the page size.
	AllocArea(size int64) (int64, error)

	// Sync flushes any buffered writes to durable storage.
	Sync() error

	// Close releases the device's resources.
	Close() error
}

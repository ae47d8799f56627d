package pagevault

// Freelist is the capability set both freelist variants implement. Per the
// design notes, this is expressed as a capability set rather than an
// inheritance hierarchy: FullFreelist and ReducedFreelist share no base
// struct, only this interface.
type Freelist interface {
	// Alloc returns a region of at least size bytes aligned to
	// BlobAlignment(). allocatedNew is false if satisfied from free
	// space, true if the backing file was extended.
	Alloc(size int64) (address int64, allocatedNew bool, err error)

	// FreePage marks page's address range free.
	FreePage(page *Page) error

	// FreeArea marks an arbitrary region free. Callers must add any
	// header size themselves (e.g. a blob header).
	FreeArea(address, size int64) error

	// BlobAlignment returns the power-of-two alignment constraint for
	// blob allocations.
	BlobAlignment() int

	// CheckIntegrity cross-checks internal structures, returning
	// ErrCorrupt on inconsistency.
	CheckIntegrity() error
}

// extent is a free (address, size) region. Shared by both freelist
// variants.
type extent struct {
	address int64
	size    int64
}

// alignUp rounds size up to the next multiple of alignment.
func alignUp(size int64, alignment int) int64 {
	a := int64(alignment)
	if a <= 1 {
		return size
	}
	return (size + a - 1) / a * a
}

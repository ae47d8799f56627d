package pagevault

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"pagevault/internal/device"
)

// freelistPageHeaderSize is the fixed header every on-disk freelist page
// carries ahead of its bitmap payload: bit-range start, bit count, address
// of the next freelist page (0 = none), and a checksum of the payload.
const freelistPageHeaderSize = 8 + 8 + 8 + 8

// FullFreelist is the environment-wide free-space tracker. In memory it
// indexes free (address, size) extents in a github.com/google/btree set
// ordered by address; Alloc scans it in address order for the first extent
// that fits, and free coalesces adjacent extents; on disk it persists as a bitmap (one bit per pagesize-aligned unit,
// bit set = allocated), chained across freelist pages so it interoperates
// with the wire format a prior version of this file format used.
//
// Extents are tracked as byte ranges rather than whole-page ids so the same
// structure can also serve sub-page blob allocation.
type FullFreelist struct {
	dev       device.Device
	pagesize  int64
	alignment int
	extents   *btree.BTreeG[extent]
}

func extentLess(a, b extent) bool {
	return a.address < b.address
}

// NewFullFreelist creates an empty FullFreelist backed by dev.
func NewFullFreelist(dev device.Device, pagesize int64) *FullFreelist {
	return &FullFreelist{
		dev:       dev,
		pagesize:  pagesize,
		alignment: 8,
		extents:   btree.NewG(32, extentLess),
	}
}

func (f *FullFreelist) Alloc(size int64) (int64, bool, error) {
	aligned := alignUp(size, f.alignment)

	var found extent
	hasFound := false
	f.extents.Ascend(func(e extent) bool {
		if e.size >= aligned {
			found = e
			hasFound = true
			return false
		}
		return true
	})

	if hasFound {
		f.extents.Delete(found)
		if found.size > aligned {
			f.extents.ReplaceOrInsert(extent{address: found.address + aligned, size: found.size - aligned})
		}
		return found.address, false, nil
	}

	addr, err := f.dev.AllocArea(aligned)
	if err != nil {
		return 0, false, err
	}
	return addr, true, nil
}

func (f *FullFreelist) FreePage(page *Page) error {
	return f.FreeArea(page.Address(), f.pagesize)
}

func (f *FullFreelist) FreeArea(address, size int64) error {
	f.insertCoalesce(extent{address: address, size: alignUp(size, f.alignment)})
	return nil
}

// insertCoalesce merges e with any free extent directly adjacent to it
// before inserting, keeping the extent set minimal.
func (f *FullFreelist) insertCoalesce(e extent) {
	merged := e

	var left extent
	hasLeft := false
	f.extents.DescendLessOrEqual(extent{address: merged.address}, func(x extent) bool {
		if x.address+x.size == merged.address {
			left = x
			hasLeft = true
		}
		return false
	})
	if hasLeft {
		f.extents.Delete(left)
		merged.address = left.address
		merged.size += left.size
	}

	var right extent
	hasRight := false
	f.extents.AscendGreaterOrEqual(extent{address: merged.address}, func(x extent) bool {
		if x.address == merged.address+merged.size {
			right = x
			hasRight = true
		}
		return false
	})
	if hasRight {
		f.extents.Delete(right)
		merged.size += right.size
	}

	f.extents.ReplaceOrInsert(merged)
}

// contains reports whether address falls inside any free extent.
func (f *FullFreelist) contains(address int64) bool {
	found := false
	f.extents.DescendLessOrEqual(extent{address: address}, func(e extent) bool {
		if address >= e.address && address < e.address+e.size {
			found = true
		}
		return false
	})
	return found
}

func (f *FullFreelist) BlobAlignment() int {
	return f.alignment
}

func (f *FullFreelist) CheckIntegrity() error {
	var prevEnd int64 = -1
	corrupt := false
	f.extents.Ascend(func(e extent) bool {
		if e.size <= 0 || e.address < 0 {
			corrupt = true
			return false
		}
		if prevEnd >= 0 && e.address < prevEnd {
			corrupt = true
			return false
		}
		prevEnd = e.address + e.size
		return true
	})
	if corrupt {
		return ErrCorrupt
	}
	return nil
}

// EncodeBitmap renders the current free-extent set as the on-disk bitmap
// format across the given pages, chaining each page's header to the next.
// totalSize is the extent of the address space the bitmap must cover (the
// device's current file size).
func (f *FullFreelist) EncodeBitmap(totalSize int64, pages []*Page) error {
	totalUnits := int(alignUp(totalSize, int(f.pagesize)) / f.pagesize)
	bits := make([]byte, (totalUnits+7)/8)
	for i := range bits {
		bits[i] = 0xFF // default: allocated
	}
	f.extents.Ascend(func(e extent) bool {
		start := e.address / f.pagesize
		end := (e.address + e.size) / f.pagesize
		for u := start; u < end && u < int64(totalUnits); u++ {
			bits[u/8] &^= 1 << uint(u%8)
		}
		return true
	})

	payloadPerPage := len(pages[0].bytes) - freelistPageHeaderSize
	if payloadPerPage <= 0 {
		return ErrCorrupt
	}
	bitsPerPage := payloadPerPage * 8

	offset := 0
	for i, pg := range pages {
		n := bitsPerPage
		remaining := len(bits)*8 - offset
		if n > remaining {
			n = remaining
		}
		if n < 0 {
			n = 0
		}
		payloadBytes := (n + 7) / 8
		payload := make([]byte, payloadBytes)
		copyBits(payload, bits, offset, n)

		var next int64
		if i+1 < len(pages) {
			next = pages[i+1].address
		}

		binary.LittleEndian.PutUint64(pg.bytes[0:8], uint64(offset))
		binary.LittleEndian.PutUint64(pg.bytes[8:16], uint64(n))
		binary.LittleEndian.PutUint64(pg.bytes[16:24], uint64(next))
		copy(pg.bytes[freelistPageHeaderSize:], payload)
		checksum := xxhash.Sum64(pg.bytes[freelistPageHeaderSize : freelistPageHeaderSize+len(payload)])
		binary.LittleEndian.PutUint64(pg.bytes[24:32], checksum)

		pg.ptype = PageTypeFreelist
		pg.SetDirty(true)
		offset += n
	}
	return nil
}

// DecodeBitmap rebuilds the in-memory extent set from the on-disk bitmap
// pages, verifying each page's checksum. Returns ErrCorrupt on mismatch.
func (f *FullFreelist) DecodeBitmap(pages []*Page) error {
	var bits []byte
	for _, pg := range pages {
		n := int(binary.LittleEndian.Uint64(pg.bytes[8:16]))
		checksum := binary.LittleEndian.Uint64(pg.bytes[24:32])
		payloadBytes := (n + 7) / 8
		payload := pg.bytes[freelistPageHeaderSize : freelistPageHeaderSize+payloadBytes]
		if xxhash.Sum64(payload) != checksum {
			return ErrCorrupt
		}
		bits = appendBits(bits, payload, n)
	}

	f.extents = btree.NewG(32, extentLess)
	inRun := false
	runStart := int64(0)
	for u := 0; u <= len(bits)*8; u++ {
		free := u < len(bits)*8 && bits[u/8]&(1<<uint(u%8)) == 0
		if free && !inRun {
			inRun = true
			runStart = int64(u)
		} else if !free && inRun {
			inRun = false
			f.extents.ReplaceOrInsert(extent{
				address: runStart * f.pagesize,
				size:    (int64(u) - runStart) * f.pagesize,
			})
		}
	}
	return nil
}

// copyBits copies the n bits starting at bit-offset offset from src into
// dst (bit-packed, LSB-first within each byte), starting at bit 0 of dst.
func copyBits(dst, src []byte, offset, n int) {
	for i := 0; i < n; i++ {
		srcBit := offset + i
		if src[srcBit/8]&(1<<uint(srcBit%8)) != 0 {
			dst[i/8] |= 1 << uint(i%8)
		}
	}
}

// appendBits appends the first n bits of src to dst, returning the
// extended slice.
func appendBits(dst, src []byte, n int) []byte {
	base := len(dst) * 8
	needed := (base + n + 7) / 8
	for len(dst) < needed {
		dst = append(dst, 0)
	}
	for i := 0; i < n; i++ {
		if src[i/8]&(1<<uint(i%8)) != 0 {
			dst[(base+i)/8] |= 1 << uint((base+i)%8)
		}
	}
	return dst
}

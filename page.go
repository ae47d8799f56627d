package pagevault

import (
	"container/list"

	"github.com/cespare/xxhash/v2"
)

// PageType identifies what a Page's bytes hold. The core never interprets
// the bytes beyond this tag; layout is owned by callers out of scope here.
type PageType uint8

const (
	PageTypeUndefined PageType = iota
	PageTypeHeader
	PageTypeIndex
	PageTypeBlob
	PageTypeFreelist
)

func (t PageType) String() string {
	switch t {
	case PageTypeHeader:
		return "header"
	case PageTypeIndex:
		return "index"
	case PageTypeBlob:
		return "blob"
	case PageTypeFreelist:
		return "freelist"
	default:
		return "undefined"
	}
}

// PageFlag is a bitset of per-page state flags.
type PageFlag uint32

const (
	// FlagDeletePending marks a page scheduled to be returned to the
	// freelist at commit. Set only while the page sits in exactly one
	// transaction's pagelist.
	FlagDeletePending PageFlag = 1 << iota

	// FlagNoHeader marks a page whose bytes carry no common page
	// header (used by raw blob storage).
	FlagNoHeader

	// FlagIndexDirty marks an index page whose in-memory structure
	// changed independently of the dirty byte buffer (reserved for the
	// out-of-scope B-tree layer; carried here because the core stores
	// and returns it without interpretation).
	FlagIndexDirty
)

func (f PageFlag) has(bit PageFlag) bool {
	return f&bit != 0
}

// Page is the in-memory handle for one fixed-size disk page. It never owns
// its own lifecycle end to end: the Cache owns it while live, and
// Transactions hold counted reference edges, never ownership.
type Page struct {
	address int64
	ptype   PageType
	bytes   []byte
	dirty   bool
	refcount int
	flags   PageFlag

	// beforeImageLSN is an opaque tag the log layer stamps on a page;
	// the core stores and returns it without interpretation.
	beforeImageLSN uint64

	// dbOwner is a weak back-edge used to find the right freelist on
	// free and by CheckIntegrity's cross-check. close_database flushes
	// the database's dirty pages but does not remove them from the Cache
	// or clear this edge, so a cached page of a closed Database still
	// points at it.
	dbOwner *Database

	// txnPrev/txnNext form the intrusive doubly-linked pagelist a
	// Transaction threads its touched pages through. O(1) removal given
	// the Page handle, no separate node allocation per link. A page is
	// linked into at most one transaction's pagelist at a time.
	txnPrev, txnNext *Page
	inTxnList        bool
	txnOwner         *Transaction

	// cacheElem is the Cache's container/list element for this page's
	// position in LRU order; nil while the page is not in the Cache.
	cacheElem *list.Element
}

// newPage constructs an uninitialized Page: no bytes, clean, unpinned.
func newPage(dbOwner *Database, ptype PageType, flags PageFlag) *Page {
	return &Page{
		ptype:   ptype,
		dbOwner: dbOwner,
		flags:   flags,
	}
}

// Address returns the page's identity: a file offset, a multiple of the
// environment's page size.
func (p *Page) Address() int64 {
	return p.address
}

// Type returns the page's content tag.
func (p *Page) Type() PageType {
	return p.ptype
}

// Bytes returns the page's buffer. Mutating it does not set dirty; callers
// must call SetDirty(true) themselves.
func (p *Page) Bytes() []byte {
	return p.bytes
}

// IsDirty reports whether the page's bytes differ from the durable image.
func (p *Page) IsDirty() bool {
	return p.dirty
}

// SetDirty sets or clears the dirty bit.
func (p *Page) SetDirty(dirty bool) {
	p.dirty = dirty
}

// Refcount returns the current pin count.
func (p *Page) Refcount() int {
	return p.refcount
}

// addRef increments the pin count. Paired with exactly one releaseRef on
// every exit path; a page with refcount > 0 is never evicted.
func (p *Page) addRef() {
	p.refcount++
}

// releaseRef decrements the pin count. Releasing past zero is a fatal bug:
// it means some caller paired an addRef with more than one releaseRef.
func (p *Page) releaseRef() {
	if p.refcount == 0 {
		panic("pagevault: release_ref on page with refcount already zero")
	}
	p.refcount--
}

// Flags returns the page's flag bitset.
func (p *Page) Flags() PageFlag {
	return p.flags
}

// SetFlags ORs additional bits into the page's flag bitset.
func (p *Page) SetFlags(f PageFlag) {
	p.flags |= f
}

// ClearFlags clears the given bits from the page's flag bitset.
func (p *Page) ClearFlags(f PageFlag) {
	p.flags &^= f
}

// HasFlag reports whether every bit in f is set.
func (p *Page) HasFlag(f PageFlag) bool {
	return p.flags.has(f)
}

// BeforeImageLSN returns the opaque log-layer tag.
func (p *Page) BeforeImageLSN() uint64 {
	return p.beforeImageLSN
}

// SetBeforeImageLSN stores the opaque log-layer tag.
func (p *Page) SetBeforeImageLSN(lsn uint64) {
	p.beforeImageLSN = lsn
}

// free releases the in-memory buffer. It does not free on-disk space; that
// is the freelist's job via free_page/free_area.
func (p *Page) free() {
	p.bytes = nil
}

// checksum computes an xxhash64 digest of the page's bytes. Not stored
// redundantly on the Page, and not called by check_integrity; FullFreelist's
// bitmap pages compute their own persisted checksum over the bitmap payload
// with xxhash directly. Ordinary data pages are not checksummed on flush.
func (p *Page) checksum() uint64 {
	return xxhash.Sum64(p.bytes)
}

package pagevault

import (
	"encoding/binary"
	"fmt"

	"pagevault/internal/device"
)

// PageManager is the facade through which a Database fetches, allocates,
// flushes, and frees pages. It assumes a single-threaded cooperative
// caller and keeps no internal mutexes; callers serialize their own
// access to an Environment.
type PageManager struct {
	env      *Environment
	dev      device.Device
	cache    *Cache
	pagesize int64
	logger   Logger

	full *FullFreelist // lazily created; nil until first need
}

// NewPageManager creates a PageManager over dev and cache.
func NewPageManager(env *Environment, dev device.Device, cache *Cache, pagesize int64, logger Logger) *PageManager {
	return &PageManager{
		env:      env,
		dev:      dev,
		cache:    cache,
		pagesize: pagesize,
		logger:   logger,
	}
}

// FetchPage fetches a page from the cache, or from the Device on a miss
// (unless onlyFromCache is set). A fetched page is returned pinned.
func (pm *PageManager) FetchPage(db *Database, address int64, onlyFromCache bool) (*Page, error) {
	if p, ok := pm.cache.Get(address); ok {
		p.addRef()
		return p, nil
	}
	if onlyFromCache {
		return nil, ErrNotFound
	}

	buf := make([]byte, pm.pagesize)
	if err := pm.dev.ReadPage(address, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	p := newPage(db, PageTypeUndefined, 0)
	p.address = address
	p.bytes = buf
	p.addRef()
	if err := pm.cache.Put(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AllocPage allocates a new page, preferring the freelist unless
// FlagIgnoreFreelist is set. The returned page is dirty and pinned.
func (pm *PageManager) AllocPage(db *Database, ptype PageType, flags PageAllocFlag) (*Page, error) {
	if pm.env.flags.has(FlagReadOnly) {
		return nil, ErrReadOnly
	}

	var address int64
	var err error

	if flags&FlagIgnoreFreelist != 0 {
		address, err = pm.dev.AllocPage()
	} else if fl := pm.freelistFor(db); fl != nil {
		address, _, err = fl.Alloc(pm.pagesize)
	} else {
		address, err = pm.dev.AllocPage()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	buf := make([]byte, pm.pagesize)
	if flags&FlagClearWithZero == 0 {
		if err := pm.dev.ReadPage(address, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}

	p := newPage(db, ptype, 0)
	p.address = address
	p.bytes = buf
	p.dirty = true
	p.addRef()
	if err := pm.cache.Put(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AllocBlob delegates to the selected freelist's Alloc for a byte region
// that need not be page-sized.
func (pm *PageManager) AllocBlob(db *Database, size int64) (address int64, allocatedNew bool, err error) {
	if pm.env.flags.has(FlagReadOnly) {
		return 0, false, ErrReadOnly
	}
	fl := pm.freelistFor(db)
	if fl == nil {
		address, err = pm.dev.AllocArea(size)
		return address, true, err
	}
	return fl.Alloc(size)
}

// FlushAllPages writes every dirty page through the Device. If clearCache
// is set, unpinned pages are removed from the Cache after flushing;
// pinned pages are flushed but retained.
func (pm *PageManager) FlushAllPages(clearCache bool) error {
	var firstErr error
	pm.cache.ForEach(func(p *Page) {
		if !p.dirty {
			return
		}
		if err := pm.flushPage(p); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	if firstErr != nil {
		return firstErr
	}

	if clearCache {
		var toRemove []int64
		pm.cache.ForEach(func(p *Page) {
			if p.refcount == 0 {
				toRemove = append(toRemove, p.address)
			}
		})
		for _, addr := range toRemove {
			pm.cache.Remove(addr)
		}
	}
	return nil
}

// PurgeCache evicts down to capacity if the Cache is over it, routing
// dirty evictions through flushPage so they write through.
func (pm *PageManager) PurgeCache() error {
	if pm.cache.Size() <= pm.cache.Capacity() {
		return nil
	}
	return pm.cache.Purge(pm.cache.Capacity(), pm.flushPage)
}

// CloseDatabase flushes every dirty page owned by db. The environment's
// header page is exempt and remains in the Cache. Errors do not stop the
// sweep; the first is returned, the rest are logged.
func (pm *PageManager) CloseDatabase(db *Database) error {
	var firstErr error
	pm.cache.ForEach(func(p *Page) {
		if p.dbOwner != db || !p.dirty || p.ptype == PageTypeHeader {
			return
		}
		if err := pm.flushPage(p); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				pm.logger.Warn("close_database: flush failed", "address", p.address, "error", err)
			}
		}
	})
	return firstErr
}

// CheckIntegrity asks the full freelist and every database's reduced
// freelist to verify their own invariants, then cross-checks that no
// cached address also appears free on any of them — committed frees
// normally land in a database's reduced freelist, not the full bitmap,
// so both must be checked for the cross-check to mean anything in the
// common on-disk case.
func (pm *PageManager) CheckIntegrity() error {
	if pm.full != nil {
		if err := pm.full.CheckIntegrity(); err != nil {
			return err
		}
	}
	for _, db := range pm.env.databases {
		if db.reduced != nil {
			if err := db.reduced.CheckIntegrity(); err != nil {
				return err
			}
		}
	}

	var corrupt bool
	pm.cache.ForEach(func(p *Page) {
		if p.dbOwner != nil && p.dbOwner.reduced != nil && p.dbOwner.reduced.contains(p.address) {
			corrupt = true
		}
		if pm.full != nil && pm.full.contains(p.address) {
			corrupt = true
		}
	})
	if corrupt {
		return ErrCorrupt
	}
	return nil
}

// AddToFreelist returns page's address range to the appropriate freelist.
func (pm *PageManager) AddToFreelist(page *Page) error {
	fl := pm.freelistFor(page.dbOwner)
	if fl == nil {
		return nil
	}
	return fl.FreePage(page)
}

// BlobAlignment returns the alignment constraint of the freelist db would
// use.
func (pm *PageManager) BlobAlignment(db *Database) int {
	fl := pm.freelistFor(db)
	if fl == nil {
		return 1
	}
	return fl.BlobAlignment()
}

// freelistFor implements the selection policy: a database's reduced
// freelist if it has one, otherwise the environment-wide full bitmap,
// created lazily on first need and only when the environment is neither
// in-memory nor read-only.
func (pm *PageManager) freelistFor(db *Database) Freelist {
	if db != nil && db.reduced != nil {
		return db.reduced
	}
	if pm.env.flags.has(FlagInMemory) || pm.env.flags.has(FlagReadOnly) {
		return nil
	}
	if pm.full == nil {
		pm.full = NewFullFreelist(pm.dev, pm.pagesize)
		pm.logger.Info("lazily created full freelist")
	}
	return pm.full
}

// flushPage writes page through the Device if dirty, honoring the
// environment's WRITE_THROUGH flag, and clears dirty on success.
func (pm *PageManager) flushPage(p *Page) error {
	return pm.flushPageMode(p, pm.env.flags.has(FlagWriteThrough))
}

func (pm *PageManager) flushPageMode(p *Page, writeThrough bool) error {
	if !p.dirty {
		return nil
	}
	if err := pm.dev.WritePage(p.address, p.bytes, writeThrough); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	p.SetDirty(false)
	return nil
}

// loadFreelist reconstructs the full freelist's in-memory extent set from
// the on-disk bitmap, if one was persisted by a prior close. Called once
// during Open; a no-op for in-memory and read-only environments, and for
// a fresh file that has never recorded a freelist root.
func (pm *PageManager) loadFreelist() error {
	if pm.env.flags.has(FlagInMemory) || pm.env.flags.has(FlagReadOnly) {
		return nil
	}

	size, err := pm.dev.FileSize()
	if err != nil {
		return err
	}
	if size < pm.pagesize {
		return nil
	}

	buf := make([]byte, pm.pagesize)
	if err := pm.dev.ReadPage(0, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	rootAddr := int64(binary.LittleEndian.Uint64(buf[pm.pagesize-8:]))
	if rootAddr == 0 {
		return nil
	}

	var pages []*Page
	for addr := rootAddr; addr != 0; {
		pbuf := make([]byte, pm.pagesize)
		if err := pm.dev.ReadPage(addr, pbuf); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		p := newPage(nil, PageTypeFreelist, 0)
		p.address = addr
		p.bytes = pbuf
		pages = append(pages, p)
		addr = int64(binary.LittleEndian.Uint64(pbuf[16:24]))
	}

	full := NewFullFreelist(pm.dev, pm.pagesize)
	if err := full.DecodeBitmap(pages); err != nil {
		return err
	}
	pm.full = full
	return nil
}

// persistFreelist drains every database's reduced freelist into the full
// bitmap, renders the bitmap to freshly allocated freelist pages, and
// records their chain head in page 0 so the next Open can recover it via
// loadFreelist. Without this, space freed through a database's reduced
// freelist (the common case; see TransactionManager.Commit) would never
// reach the Device and a reopened environment would believe it still in
// use. A no-op for in-memory and read-only environments.
func (pm *PageManager) persistFreelist() error {
	if pm.env.flags.has(FlagInMemory) || pm.env.flags.has(FlagReadOnly) {
		return nil
	}

	for _, db := range pm.env.databases {
		if db.reduced != nil {
			if err := db.reduced.drain(); err != nil {
				return err
			}
		}
	}

	size, err := pm.dev.FileSize()
	if err != nil {
		return err
	}
	if size < pm.pagesize {
		return nil // page 0 doesn't exist yet; nowhere to record a root
	}

	if pm.full == nil || pm.full.extents.Len() == 0 {
		return pm.writeFreelistRoot(0)
	}

	payloadPerPage := pm.pagesize - freelistPageHeaderSize
	bitsPerPage := payloadPerPage * 8
	totalUnits := alignUp(size, int(pm.pagesize)) / pm.pagesize
	numPages := (totalUnits + bitsPerPage - 1) / bitsPerPage
	if numPages < 1 {
		numPages = 1
	}

	pages := make([]*Page, numPages)
	for i := range pages {
		addr, err := pm.dev.AllocPage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		p := newPage(nil, PageTypeFreelist, 0)
		p.address = addr
		p.bytes = make([]byte, pm.pagesize)
		pages[i] = p
	}

	if err := pm.full.EncodeBitmap(size, pages); err != nil {
		return err
	}
	for _, p := range pages {
		if err := pm.dev.WritePage(p.address, p.bytes, true); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}
	return pm.writeFreelistRoot(pages[0].address)
}

// writeFreelistRoot records addr (0 = none) in the last 8 bytes of page 0.
func (pm *PageManager) writeFreelistRoot(addr int64) error {
	buf := make([]byte, pm.pagesize)
	if err := pm.dev.ReadPage(0, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	binary.LittleEndian.PutUint64(buf[pm.pagesize-8:], uint64(addr))
	if err := pm.dev.WritePage(0, buf, true); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if cached, ok := pm.cache.Get(0); ok {
		copy(cached.bytes[pm.pagesize-8:], buf[pm.pagesize-8:])
	}
	return nil
}

package pagevault

// reducedFreelistCapacity is the fixed number of (address, size) slots a
// ReducedFreelist holds before spilling to the environment's FullFreelist.
const reducedFreelistCapacity = 64

// ReducedFreelist is the small, fixed-capacity per-database free-space
// tracker. It is tried first by PageManager; when nothing in its slots
// fits, allocation spills to the environment's FullFreelist via spill, and
// once its slot array is full, frees spill there too.
type ReducedFreelist struct {
	slots     []extent
	alignment int
	pagesize  int64
	spill     Freelist // environment FullFreelist, may be nil
}

// NewReducedFreelist creates an empty ReducedFreelist. spill is consulted
// when the reduced slots have no fit or are full; it may be nil (e.g. an
// in-memory or read-only environment has none).
func NewReducedFreelist(spill Freelist, pagesize int64) *ReducedFreelist {
	return &ReducedFreelist{
		slots:     make([]extent, 0, reducedFreelistCapacity),
		alignment: 8,
		pagesize:  pagesize,
		spill:     spill,
	}
}

func (r *ReducedFreelist) Alloc(size int64) (int64, bool, error) {
	aligned := alignUp(size, r.alignment)

	for i, e := range r.slots {
		if e.size >= aligned {
			r.slots = append(r.slots[:i], r.slots[i+1:]...)
			if e.size > aligned {
				if err := r.insert(extent{address: e.address + aligned, size: e.size - aligned}); err != nil {
					return 0, false, err
				}
			}
			return e.address, false, nil
		}
	}

	if r.spill != nil {
		return r.spill.Alloc(size)
	}
	return 0, false, ErrOutOfMemory
}

func (r *ReducedFreelist) FreePage(page *Page) error {
	return r.FreeArea(page.Address(), r.pagesize)
}

func (r *ReducedFreelist) FreeArea(address, size int64) error {
	aligned := alignUp(size, r.alignment)
	if len(r.slots) >= reducedFreelistCapacity {
		if r.spill == nil {
			return ErrOutOfMemory
		}
		return r.spill.FreeArea(address, aligned)
	}
	return r.insert(extent{address: address, size: aligned})
}

// insert adds e to the slot array, coalescing with an adjacent slot if one
// exists, and spilling the whole extent to the backing FullFreelist if the
// array is at capacity. The spill's error is returned rather than
// discarded: a failed spill means e was not recorded anywhere and the
// caller must know its free did not take effect.
func (r *ReducedFreelist) insert(e extent) error {
	for i, s := range r.slots {
		if s.address+s.size == e.address {
			r.slots[i].size += e.size
			return nil
		}
		if e.address+e.size == s.address {
			r.slots[i].address = e.address
			r.slots[i].size += e.size
			return nil
		}
	}
	if len(r.slots) >= reducedFreelistCapacity {
		if r.spill != nil {
			return r.spill.FreeArea(e.address, e.size)
		}
		return ErrOutOfMemory
	}
	r.slots = append(r.slots, e)
	return nil
}

// contains reports whether address falls inside any slot, used by
// PageManager.CheckIntegrity to cross-check cached pages against this
// database's reduced freelist (not only the environment-wide full
// bitmap).
func (r *ReducedFreelist) contains(address int64) bool {
	for _, e := range r.slots {
		if address >= e.address && address < e.address+e.size {
			return true
		}
	}
	return false
}

// drain moves every slot's extent into the spill target, emptying the
// slot array. Used when persisting free space to disk: the reduced tier
// itself is never persisted, so anything still sitting in it at close
// would otherwise be lost across a reopen.
func (r *ReducedFreelist) drain() error {
	for _, e := range r.slots {
		if r.spill == nil {
			return ErrOutOfMemory
		}
		if err := r.spill.FreeArea(e.address, e.size); err != nil {
			return err
		}
	}
	r.slots = r.slots[:0]
	return nil
}

func (r *ReducedFreelist) BlobAlignment() int {
	return r.alignment
}

func (r *ReducedFreelist) CheckIntegrity() error {
	for i := 0; i < len(r.slots); i++ {
		if r.slots[i].size <= 0 {
			return ErrCorrupt
		}
		for j := i + 1; j < len(r.slots); j++ {
			a, b := r.slots[i], r.slots[j]
			if a.address < b.address+b.size && b.address < a.address+a.size {
				return ErrCorrupt
			}
		}
	}
	if r.spill != nil {
		return r.spill.CheckIntegrity()
	}
	return nil
}

package pagevault

// lazyFullFreelist adapts a PageManager's not-yet-created FullFreelist as
// a Freelist, creating it on first actual use. ReducedFreelist holds one
// of these as its spill target so that opening a database with a reduced
// freelist doesn't itself force the environment-wide bitmap into
// existence — only spilling past the reduced slots does.
type lazyFullFreelist struct {
	pm *PageManager
}

func (l lazyFullFreelist) ensure() Freelist {
	if l.pm.env.flags.has(FlagInMemory) || l.pm.env.flags.has(FlagReadOnly) {
		return nil
	}
	if l.pm.full == nil {
		l.pm.full = NewFullFreelist(l.pm.dev, l.pm.pagesize)
		l.pm.logger.Info("lazily created full freelist")
	}
	return l.pm.full
}

func (l lazyFullFreelist) Alloc(size int64) (int64, bool, error) {
	fl := l.ensure()
	if fl == nil {
		return 0, false, ErrOutOfMemory
	}
	return fl.Alloc(size)
}

func (l lazyFullFreelist) FreePage(page *Page) error {
	fl := l.ensure()
	if fl == nil {
		return nil
	}
	return fl.FreePage(page)
}

func (l lazyFullFreelist) FreeArea(address, size int64) error {
	fl := l.ensure()
	if fl == nil {
		return nil
	}
	return fl.FreeArea(address, size)
}

func (l lazyFullFreelist) BlobAlignment() int {
	fl := l.ensure()
	if fl == nil {
		return 1
	}
	return fl.BlobAlignment()
}

func (l lazyFullFreelist) CheckIntegrity() error {
	if l.pm.full == nil {
		return nil
	}
	return l.pm.full.CheckIntegrity()
}

package pagevault

import (
	"pagevault/internal/device"
)

// Database is a named owner of pages within an Environment: exactly one
// per Transaction, and the weak target of a Page's db_owner edge used to
// locate the right freelist on free.
type Database struct {
	name    string
	env     *Environment
	reduced *ReducedFreelist
}

// Name returns the database's name.
func (db *Database) Name() string {
	return db.name
}

// Environment is the page lifecycle's enclosing scope: one Device, one
// Cache, one PageManager, one TransactionManager, serialized by the
// caller. The core performs no internal locking of its own.
type Environment struct {
	opts   Options
	flags  EnvFlag
	dev    device.Device
	cache  *Cache
	pm     *PageManager
	txm    *TransactionManager
	logger Logger

	databases map[string]*Database
	closed    bool
}

// Open creates or opens the environment backed by the file at path (unless
// WithInMemory is given, in which case path is ignored).
func Open(path string, opts ...Option) (*Environment, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dev, err := openDevice(path, o)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		opts:      o,
		flags:     o.flags,
		dev:       dev,
		logger:    o.logger,
		databases: make(map[string]*Database),
	}
	env.cache = NewCache(o.cacheCapacity)
	env.pm = NewPageManager(env, dev, env.cache, int64(o.pageSize), o.logger)
	env.txm = NewTransactionManager(env, env.pm)
	if err := env.pm.loadFreelist(); err != nil {
		return nil, err
	}
	return env, nil
}

func openDevice(path string, o Options) (device.Device, error) {
	switch {
	case o.flags.has(FlagInMemory):
		return device.NewMemDevice(o.pageSize), nil
	case o.flags.has(FlagDisableMmap):
		return device.NewFileDevice(path, o.pageSize)
	default:
		return device.NewMmapDevice(path, o.pageSize)
	}
}

// OpenDatabase returns the named Database, creating it (and, unless the
// environment is in-memory or read-only, a ReducedFreelist for it) on
// first use.
func (env *Environment) OpenDatabase(name string) *Database {
	if db, ok := env.databases[name]; ok {
		return db
	}
	db := &Database{name: name, env: env}
	if !env.flags.has(FlagInMemory) && !env.flags.has(FlagReadOnly) {
		db.reduced = NewReducedFreelist(lazyFullFreelist{pm: env.pm}, int64(env.opts.pageSize))
	}
	env.databases[name] = db
	return db
}

// CloseDatabase flushes db's dirty pages (see PageManager.CloseDatabase)
// and forgets it.
func (env *Environment) CloseDatabase(db *Database) error {
	err := env.pm.CloseDatabase(db)
	delete(env.databases, db.name)
	return err
}

// Pages returns the environment's PageManager.
func (env *Environment) Pages() *PageManager {
	return env.pm
}

// Transactions returns the environment's TransactionManager.
func (env *Environment) Transactions() *TransactionManager {
	return env.txm
}

// Cache returns the environment's page Cache.
func (env *Environment) Cache() *Cache {
	return env.cache
}

// Device returns the environment's backing Device.
func (env *Environment) Device() device.Device {
	return env.dev
}

// Flags returns the environment's flag bitset.
func (env *Environment) Flags() EnvFlag {
	return env.flags
}

// CheckIntegrity cross-checks the Cache and freelists for consistency.
func (env *Environment) CheckIntegrity() error {
	return env.pm.CheckIntegrity()
}

// Close flushes every dirty page, removes the unpinned ones from the cache,
// persists the freelist so a reopen can recover it, and closes the Device. Calling Close on an
// already-closed Environment returns ErrClosed.
func (env *Environment) Close() error {
	if env.closed {
		return ErrClosed
	}
	if err := env.pm.FlushAllPages(true); err != nil {
		return err
	}
	if err := env.pm.persistFreelist(); err != nil {
		return err
	}
	if err := env.dev.Sync(); err != nil {
		return err
	}
	env.closed = true
	return env.dev.Close()
}

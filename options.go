package pagevault

// EnvFlag is a bitset of environment-wide flags consumed by the PageManager
// and passed through to the Device.
type EnvFlag uint32

const (
	// FlagInMemory suppresses freelist creation and on-disk writes; the
	// environment is backed by an in-memory Device.
	FlagInMemory EnvFlag = 1 << iota

	// FlagReadOnly suppresses freelist creation and rejects allocations.
	FlagReadOnly

	// FlagDisableMmap forces the file-backed Device even on platforms
	// where memory-mapped I/O is available.
	FlagDisableMmap

	// FlagWriteThrough passes write_through=true to every Device write.
	FlagWriteThrough
)

func (f EnvFlag) has(bit EnvFlag) bool {
	return f&bit != 0
}

// PageAllocFlag controls PageManager.AllocPage.
type PageAllocFlag uint32

const (
	// FlagIgnoreFreelist skips the freelist lookup and always extends
	// the file.
	FlagIgnoreFreelist PageAllocFlag = 8

	// FlagClearWithZero zeroes the page buffer after allocation.
	FlagClearWithZero PageAllocFlag = 16
)

// TxnFlag controls TransactionManager.Commit and add_page.
type TxnFlag uint32

const (
	// FlagForceWrite requests a synchronous (write-through) flush for
	// every page in the commit.
	FlagForceWrite TxnFlag = 1 << iota

	// FlagTxnReadOnly forbids add_page for dirty pages.
	FlagTxnReadOnly
)

func (f TxnFlag) has(bit TxnFlag) bool {
	return f&bit != 0
}

// Options configures an Environment.
type Options struct {
	flags         EnvFlag
	cacheCapacity int // pages
	pageSize      int
	logger        Logger
}

// DefaultOptions returns the baseline configuration: on-disk, mmap-backed
// where available, a 1024-page cache.
func DefaultOptions() Options {
	return Options{
		flags:         0,
		cacheCapacity: 1024,
		pageSize:      4096,
		logger:        DiscardLogger{},
	}
}

// Option configures Options using the functional-options pattern.
type Option func(*Options)

// WithInMemory backs the environment with an in-memory Device. No freelist
// is created; freed space is simply released.
func WithInMemory() Option {
	return func(o *Options) {
		o.flags |= FlagInMemory
	}
}

// WithReadOnly opens the environment read-only. Allocation and freelist
// creation are rejected.
func WithReadOnly() Option {
	return func(o *Options) {
		o.flags |= FlagReadOnly
	}
}

// WithDisableMmap forces the file-backed Device.
func WithDisableMmap() Option {
	return func(o *Options) {
		o.flags |= FlagDisableMmap
	}
}

// WithWriteThrough makes every Device write synchronously durable.
func WithWriteThrough() Option {
	return func(o *Options) {
		o.flags |= FlagWriteThrough
	}
}

// WithCacheCapacity sets the maximum number of pages the Cache may hold
// before purge_cache starts evicting.
func WithCacheCapacity(pages int) Option {
	return func(o *Options) {
		o.cacheCapacity = pages
	}
}

// WithPageSize sets the fixed page size for the environment. Must be a
// power of two.
func WithPageSize(size int) Option {
	return func(o *Options) {
		o.pageSize = size
	}
}

// WithLogger sets the Logger used for conditions the caller can't see
// immediately: lazy creation of the environment-wide freelist, and every
// close_database flush failure after the first (the first is returned).
func WithLogger(l Logger) Option {
	return func(o *Options) {
		o.logger = l
	}
}

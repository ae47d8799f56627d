package pagevault

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagevault/internal/device"
)

func newTestEnv(t *testing.T, opts ...Option) *Environment {
	t.Helper()
	all := append([]Option{WithInMemory(), WithPageSize(1024)}, opts...)
	env, err := Open("", all...)
	require.NoError(t, err)
	return env
}

// tempDBPath returns a fresh on-disk path for tests that need a real
// Device (freelist persistence, blob extension past an in-memory no-op).
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pagevault.db")
}

// Seed scenario 1: fresh environment, pagesize 1024; alloc_page with
// CLEAR_WITH_ZERO yields address 1024 (header occupies 0), all-zero bytes,
// and survives a flush/purge/refetch round trip. Cache capacity 0 and a
// real on-disk Device keep this from being a cache hit in disguise: the
// purge genuinely evicts and the fetch genuinely reads back off disk.
func TestSeedScenarioFreshAllocZeroedAndRoundTrips(t *testing.T) {
	t.Parallel()

	env, err := Open(tempDBPath(t), WithPageSize(1024), WithCacheCapacity(0))
	require.NoError(t, err)
	db := env.OpenDatabase("main")

	header, err := env.Pages().AllocPage(db, PageTypeHeader, FlagClearWithZero)
	require.NoError(t, err)
	assert.Equal(t, int64(0), header.Address())
	header.releaseRef()

	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), p.Address())
	for _, b := range p.Bytes() {
		assert.Equal(t, byte(0), b)
	}
	p.releaseRef()

	require.NoError(t, env.Pages().FlushAllPages(false))
	require.NoError(t, env.Pages().PurgeCache())
	assert.Equal(t, 0, env.Cache().Size(), "capacity 0 purge must evict every unpinned page")

	refetched, err := env.Pages().FetchPage(db, 1024, false)
	require.NoError(t, err)
	for _, b := range refetched.Bytes() {
		assert.Equal(t, byte(0), b)
	}
}

// Seed scenario 2: begin; alloc_page -> P; set_dirty; add_page(P); commit —
// P's bytes land on disk and its refcount returns to its pre-add value.
func TestSeedScenarioCommitFlushesDirtyPage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	p.Bytes()[0] = 0xAB
	p.SetDirty(true)

	preAddRefcount := p.Refcount()
	require.NoError(t, txm.AddPage(txn, p, false))
	assert.Equal(t, preAddRefcount+1, p.Refcount())

	require.NoError(t, txm.Commit(txn, 0))
	assert.Equal(t, preAddRefcount, p.Refcount())
	assert.False(t, p.IsDirty())
	assert.Equal(t, TxnCommitted, txn.State())
}

// Seed scenario 3: begin; alloc_page -> P; free_page(P); commit — P's
// address is subsequently returned by the next alloc_page(flags=0).
func TestSeedScenarioFreePageReturnsAddressToFreelist(t *testing.T) {
	t.Parallel()

	env, err := Open(tempDBPath(t), WithPageSize(1024), WithCacheCapacity(1024))
	require.NoError(t, err)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	addr := p.Address()

	require.NoError(t, txm.AddPage(txn, p, false))
	require.NoError(t, txm.FreePage(txn, p))
	require.NoError(t, txm.Commit(txn, 0))

	p2, err := env.Pages().AllocPage(db, PageTypeIndex, 0)
	require.NoError(t, err)
	assert.Equal(t, addr, p2.Address())
}

// Seed scenario 4: a commit whose Device write fails returns IoError; a
// subsequent abort is a no-op; check_integrity stays consistent.
func TestSeedScenarioCommitWriteFailureAbortsCleanly(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	failing := &failingDevice{Device: env.Device()}
	env.dev = failing
	env.pm.dev = failing

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	p.SetDirty(true)
	require.NoError(t, txm.AddPage(txn, p, false))

	failing.failWrites = true
	err = txm.Commit(txn, 0)
	assert.ErrorIs(t, err, ErrIoError)
	assert.Equal(t, TxnAborted, txn.State())

	// A caller-issued abort after the internal one is a no-op.
	assert.NoError(t, txm.Abort(txn, 0))

	assert.NoError(t, env.CheckIntegrity())
}

// Seed scenario 5: fill the cache to capacity+1 with unpinned clean pages;
// purge_cache reduces size to capacity, evicting the LRU page.
func TestSeedScenarioPurgeCacheEvictsLRU(t *testing.T) {
	t.Parallel()

	env, err := Open("", WithInMemory(), WithPageSize(1024), WithCacheCapacity(2))
	require.NoError(t, err)
	db := env.OpenDatabase("main")

	var addrs []int64
	for i := 0; i < 3; i++ {
		p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
		require.NoError(t, err)
		p.SetDirty(false)
		addrs = append(addrs, p.Address())
		// AllocPage returns the page pinned; release so purge can evict it.
		p.releaseRef()
	}

	require.NoError(t, env.Pages().PurgeCache())
	assert.Equal(t, 2, env.Cache().Size())

	_, ok := env.Cache().Get(addrs[0])
	assert.False(t, ok, "the first-allocated page is the LRU victim")
}

// Seed scenario 6: two transactions T1, T2 begin in order, T2 commits
// first, T1 commits second; flush_committed_txns reclaims T1 first, then
// T2 (head-ordered), never out of order.
func TestSeedScenarioFlushCommittedTxnsPreservesHeadOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	t1 := txm.Begin(db, 0)
	t2 := txm.Begin(db, 0)

	require.NoError(t, txm.Commit(t2, 0))
	assert.Equal(t, 0, txm.FlushCommittedTxns(), "t1 is still active; nothing terminal at the head yet")

	require.NoError(t, txm.Commit(t1, 0))
	assert.Equal(t, 2, txm.FlushCommittedTxns())
}

func TestFetchPageNotFoundOnlyFromCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")

	_, err := env.Pages().FetchPage(db, 4096, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchPageCacheHitPins(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")

	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	before := p.Refcount()

	again, err := env.Pages().FetchPage(db, p.Address(), true)
	require.NoError(t, err)
	assert.Same(t, p, again)
	assert.Equal(t, before+1, again.Refcount())
}

func TestAllocBlobSmallerThanPage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")

	addr, isNew, err := env.Pages().AllocBlob(db, 100)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, int64(0), addr)
}

func TestAllocBlobLargerThanPagesizeExtendsFile(t *testing.T) {
	t.Parallel()

	env, err := Open(tempDBPath(t), WithPageSize(1024), WithCacheCapacity(1024))
	require.NoError(t, err)
	db := env.OpenDatabase("main")

	addr, isNew, err := env.Pages().AllocBlob(db, 5000)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, int64(0), addr)
}

func TestFlushAllPagesClearCacheLeavesOnlyPinned(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")

	pinned, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	pinned.SetDirty(true)

	unpinned, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	unpinned.SetDirty(true)
	unpinned.releaseRef()

	require.NoError(t, env.Pages().FlushAllPages(true))

	_, ok := env.Cache().Get(unpinned.Address())
	assert.False(t, ok)

	_, ok = env.Cache().Get(pinned.Address())
	assert.True(t, ok, "pinned page is flushed but retained")
	assert.False(t, pinned.IsDirty())
}

func TestPurgeCacheNoOpWhenAllPinned(t *testing.T) {
	t.Parallel()

	env, err := Open("", WithInMemory(), WithPageSize(1024), WithCacheCapacity(0))
	require.NoError(t, err)
	db := env.OpenDatabase("main")

	_, err = env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)

	assert.NoError(t, env.Pages().PurgeCache())
	assert.Equal(t, 1, env.Cache().Size())
}

func TestCloseDatabaseExemptsHeaderPage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")

	header, err := env.Pages().AllocPage(db, PageTypeHeader, FlagClearWithZero)
	require.NoError(t, err)
	header.SetDirty(true)

	require.NoError(t, env.Pages().CloseDatabase(db))
	assert.True(t, header.IsDirty(), "header page is exempt from close_database's flush sweep")
}

func TestCheckIntegrityDetectsCachedAddressOnFreelist(t *testing.T) {
	t.Parallel()

	env, err := Open(tempDBPath(t), WithPageSize(1024), WithCacheCapacity(1024))
	require.NoError(t, err)
	db := env.OpenDatabase("main")

	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	require.NoError(t, env.CheckIntegrity())

	// Force the environment-wide full freelist (not the database's
	// reduced one) to also claim the cached address, simulating
	// corruption that crosses the cache/freelist boundary.
	env.pm.full = NewFullFreelist(env.Device(), 1024)
	require.NoError(t, env.pm.full.FreeArea(p.Address(), 1024))

	assert.ErrorIs(t, env.CheckIntegrity(), ErrCorrupt)
}

func TestCheckIntegrityDetectsCachedAddressOnReducedFreelist(t *testing.T) {
	t.Parallel()

	env, err := Open(tempDBPath(t), WithPageSize(1024), WithCacheCapacity(1024))
	require.NoError(t, err)
	db := env.OpenDatabase("main")

	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	require.NoError(t, env.CheckIntegrity())

	// Simulate corruption that crosses the cache/freelist boundary via
	// the database's reduced freelist specifically, not the environment
	// full bitmap — the path committed frees actually take.
	require.NoError(t, db.reduced.FreeArea(p.Address(), 1024))

	assert.ErrorIs(t, env.CheckIntegrity(), ErrCorrupt)
}

// failingDevice wraps a Device, optionally failing every WritePage call.
type failingDevice struct {
	device.Device
	failWrites bool
}

func (f *failingDevice) WritePage(addr int64, buf []byte, writeThrough bool) error {
	if f.failWrites {
		return errors.New("simulated device failure")
	}
	return f.Device.WritePage(addr, buf, writeThrough)
}

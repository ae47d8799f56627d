package pagevault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionBeginAssignsMonotonicIDsPerDatabase(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	dbA := env.OpenDatabase("a")
	dbB := env.OpenDatabase("b")
	txm := env.Transactions()

	t1 := txm.Begin(dbA, 0)
	t2 := txm.Begin(dbA, 0)
	t3 := txm.Begin(dbB, 0)

	assert.Equal(t, uint64(1), t1.ID())
	assert.Equal(t, uint64(2), t2.ID())
	assert.Equal(t, uint64(1), t3.ID(), "per-database counters are independent")
}

func TestAddPageIgnoreIfAlreadyPresent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)

	require.NoError(t, txm.AddPage(txn, p, false))
	before := p.Refcount()

	require.NoError(t, txm.AddPage(txn, p, true))
	assert.Equal(t, before, p.Refcount(), "ignore_if_already_present must not add a second reference")
}

func TestAddPageDuplicateWithoutIgnorePanics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	require.NoError(t, txm.AddPage(txn, p, false))

	assert.Panics(t, func() {
		_ = txm.AddPage(txn, p, false)
	})
}

func TestAddPageOnTerminalTransactionFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	require.NoError(t, txm.Commit(txn, 0))

	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	assert.ErrorIs(t, txm.AddPage(txn, p, false), ErrInvalidState)
}

func TestAddPageRejectsDirtyOnReadOnlyTransaction(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, FlagTxnReadOnly)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	p.SetDirty(true)

	assert.ErrorIs(t, txm.AddPage(txn, p, false), ErrReadOnly)
}

func TestRemovePageUnlinksAndReleasesRef(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	require.NoError(t, txm.AddPage(txn, p, false))

	before := p.Refcount()
	require.NoError(t, txm.RemovePage(txn, p))
	assert.Equal(t, before-1, p.Refcount())
	assert.False(t, p.inTxnList)

	// Removed pages are no longer affected by commit.
	require.NoError(t, txm.Commit(txn, 0))
	assert.True(t, p.IsDirty(), "removed page was never flushed by the commit it left")
}

func TestAbortDiscardsPagelistWithoutWriting(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	p.Bytes()[0] = 0x42
	p.SetDirty(true)
	before := p.Refcount()
	require.NoError(t, txm.AddPage(txn, p, false))

	require.NoError(t, txm.Abort(txn, 0))
	assert.Equal(t, before, p.Refcount())
	assert.True(t, p.IsDirty(), "abort does not roll back in-memory bytes; the log layer owns pre-images")
	assert.Equal(t, TxnAborted, txn.State())
}

func TestAbortIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	require.NoError(t, txm.Abort(txn, 0))
	require.NoError(t, txm.Abort(txn, 0))
}

func TestAbortOnCommittedTransactionFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	require.NoError(t, txm.Commit(txn, 0))
	assert.ErrorIs(t, txm.Abort(txn, 0), ErrInvalidState)
}

func TestCommitOrderIsLIFO(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p1, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	p2, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	require.NoError(t, txm.AddPage(txn, p1, false))
	require.NoError(t, txm.AddPage(txn, p2, false))

	// add_page prepends, so the pagelist head is the most recently
	// added page: p2, then p1.
	assert.Same(t, p2, txn.head)
	assert.Same(t, p1, txn.head.txnNext)
}

func TestFreePageMarksDeletePendingWithoutRemoving(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)
	require.NoError(t, txm.AddPage(txn, p, false))

	require.NoError(t, txm.FreePage(txn, p))
	assert.True(t, p.HasFlag(FlagDeletePending))
	assert.True(t, txn.contains(p), "the page stays in the transaction's set until commit")
}

func TestFreePageOnPageNotInTransactionFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	db := env.OpenDatabase("main")
	txm := env.Transactions()

	txn := txm.Begin(db, 0)
	p, err := env.Pages().AllocPage(db, PageTypeIndex, FlagClearWithZero)
	require.NoError(t, err)

	assert.ErrorIs(t, txm.FreePage(txn, p), ErrInvalidState)
}

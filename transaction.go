package pagevault

import "fmt"

// TxnState is a transaction's position in its state machine: Active ->
// Committed or Active -> Aborted, both terminal.
type TxnState int

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transaction is a per-transaction set of touched pages. Pages are threaded
// through an intrusive doubly-linked pagelist (txnPrev/txnNext on Page)
// rather than an owning slice or map, so that a naive container can't
// double-own a Page and break its refcount model (see the design notes on
// intrusive links).
type Transaction struct {
	db    *Database
	id    uint64
	state TxnState
	flags TxnFlag

	head, tail *Page // pagelist; add_page prepends, so head is most-recently-added

	// mgrPrev/mgrNext thread this Transaction through the
	// TransactionManager's tail-ordered list of live transactions.
	mgrPrev, mgrNext *Transaction
}

// DB returns the owning Database.
func (t *Transaction) DB() *Database {
	return t.db
}

// ID returns the transaction's per-database monotonic id.
func (t *Transaction) ID() uint64 {
	return t.id
}

// State returns the transaction's current state.
func (t *Transaction) State() TxnState {
	return t.state
}

// contains reports whether page is linked into this transaction's pagelist.
func (t *Transaction) contains(page *Page) bool {
	return page.inTxnList && page.txnOwner == t
}

// prepend links page at the head of the pagelist.
func (t *Transaction) prepend(page *Page) {
	page.txnNext = t.head
	page.txnPrev = nil
	if t.head != nil {
		t.head.txnPrev = page
	}
	t.head = page
	if t.tail == nil {
		t.tail = page
	}
	page.inTxnList = true
	page.txnOwner = t
}

// unlink removes page from the pagelist, given the transaction it believes
// it's linked into. O(1) since the links are intrusive.
func (t *Transaction) unlink(page *Page) {
	if page.txnPrev != nil {
		page.txnPrev.txnNext = page.txnNext
	} else if t.head == page {
		t.head = page.txnNext
	}
	if page.txnNext != nil {
		page.txnNext.txnPrev = page.txnPrev
	} else if t.tail == page {
		t.tail = page.txnPrev
	}
	page.txnPrev, page.txnNext = nil, nil
	page.inTxnList = false
	page.txnOwner = nil
}

// TransactionManager owns the tail-ordered list of live transactions for
// an Environment and drives begin/commit/abort against the PageManager.
type TransactionManager struct {
	pm  *PageManager
	env *Environment

	nextID map[*Database]uint64

	head, tail *Transaction // FIFO over begin order
}

// NewTransactionManager creates a TransactionManager bound to pm.
func NewTransactionManager(env *Environment, pm *PageManager) *TransactionManager {
	return &TransactionManager{
		pm:     pm,
		env:    env,
		nextID: make(map[*Database]uint64),
	}
}

// Begin allocates a Transaction, assigns the next per-database id, and
// appends it to the manager's tail.
func (tm *TransactionManager) Begin(db *Database, flags TxnFlag) *Transaction {
	tm.nextID[db]++
	txn := &Transaction{
		db:    db,
		id:    tm.nextID[db],
		state: TxnActive,
		flags: flags,
	}
	tm.appendTail(txn)
	return txn
}

func (tm *TransactionManager) appendTail(txn *Transaction) {
	txn.mgrPrev = tm.tail
	if tm.tail != nil {
		tm.tail.mgrNext = txn
	}
	tm.tail = txn
	if tm.head == nil {
		tm.head = txn
	}
}

// AddPage adds page to txn's pagelist, incrementing its refcount. If the
// page is already present and ignoreIfAlreadyPresent is set, this is a
// no-op; otherwise a page already present is a caller bug and panics.
func (tm *TransactionManager) AddPage(txn *Transaction, page *Page, ignoreIfAlreadyPresent bool) error {
	if txn.state != TxnActive {
		return ErrInvalidState
	}
	if txn.flags.has(FlagTxnReadOnly) && page.dirty {
		return ErrReadOnly
	}
	if txn.contains(page) {
		if ignoreIfAlreadyPresent {
			return nil
		}
		panic("pagevault: add_page: page already present in transaction's pagelist")
	}
	page.addRef()
	txn.prepend(page)
	return nil
}

// FreePage marks page DELETE_PENDING. The page stays in txn's pagelist;
// on-disk freeing happens at commit.
func (tm *TransactionManager) FreePage(txn *Transaction, page *Page) error {
	if txn.state != TxnActive {
		return ErrInvalidState
	}
	if !txn.contains(page) {
		return ErrInvalidState
	}
	page.SetFlags(FlagDeletePending)
	return nil
}

// RemovePage unlinks page from txn's pagelist and decrements its refcount.
func (tm *TransactionManager) RemovePage(txn *Transaction, page *Page) error {
	if txn.state != TxnActive {
		return ErrInvalidState
	}
	if !txn.contains(page) {
		return ErrInvalidState
	}
	txn.unlink(page)
	page.ClearFlags(FlagDeletePending)
	page.releaseRef()
	return nil
}

// Commit flushes dirtied pages, moves delete-pending pages to the
// freelist, and releases references, most recently added page first
// (LIFO, since AddPage prepends). The refcount release for each page is
// deferred until after that page's action succeeds rather than done
// up front: releasing before a flush that may fail would mean restoring
// that page into the remainder on failure hands abort an
// already-released reference to release a second time. Doing the
// release after a successful action has the identical net effect by the
// time commit returns, without that hazard.
func (tm *TransactionManager) Commit(txn *Transaction, flags TxnFlag) error {
	if txn.state != TxnActive {
		return ErrInvalidState
	}

	forceWrite := flags.has(FlagForceWrite) || txn.flags.has(FlagForceWrite) || tm.env.flags.has(FlagWriteThrough)

	page := txn.head
	txn.head, txn.tail = nil, nil

	for page != nil {
		next := page.txnNext

		if page.HasFlag(FlagDeletePending) {
			page.SetDirty(false)
			if tm.env.flags.has(FlagInMemory) {
				tm.pm.cache.Remove(page.address)
			} else if err := tm.pm.AddToFreelist(page); err != nil {
				tm.restoreRemainder(txn, page)
				_ = tm.Abort(txn, 0)
				return fmt.Errorf("%w: %v", ErrIoError, err)
			} else {
				tm.pm.cache.Remove(page.address)
			}
		} else if err := tm.pm.flushPageMode(page, forceWrite); err != nil {
			tm.restoreRemainder(txn, page)
			_ = tm.Abort(txn, 0)
			return err
		}

		page.ClearFlags(FlagDeletePending)
		page.releaseRef()
		page.txnOwner = nil
		page.inTxnList = false
		page.txnPrev, page.txnNext = nil, nil
		page = next
	}

	txn.state = TxnCommitted
	return nil
}

// restoreRemainder re-attaches the not-yet-processed suffix of the
// pagelist (starting at from, inclusive) onto txn ahead of an abort.
func (tm *TransactionManager) restoreRemainder(txn *Transaction, from *Page) {
	if from != nil {
		from.txnPrev = nil
	}
	txn.head = from
	if from == nil {
		txn.tail = nil
	}
}

// Abort discards txn's pagelist without writing. Idempotent: aborting an
// already-aborted transaction (e.g. the internal abort a failed Commit
// triggers, followed by a caller's own Abort call) is a no-op.
func (tm *TransactionManager) Abort(txn *Transaction, flags TxnFlag) error {
	if txn.state == TxnAborted {
		return nil
	}
	if txn.state == TxnCommitted {
		return ErrInvalidState
	}

	page := txn.head
	txn.head, txn.tail = nil, nil
	for page != nil {
		next := page.txnNext
		page.ClearFlags(FlagDeletePending)
		page.releaseRef()
		page.txnOwner = nil
		page.inTxnList = false
		page.txnPrev, page.txnNext = nil, nil
		page = next
	}

	txn.state = TxnAborted
	return nil
}

// FlushCommittedTxns pops terminal transactions from the head of the
// manager's list while they remain terminal, stopping at the first
// non-terminal transaction and preserving submission order.
func (tm *TransactionManager) FlushCommittedTxns() int {
	count := 0
	for tm.head != nil && tm.head.state != TxnActive {
		tm.popHead()
		count++
	}
	return count
}

func (tm *TransactionManager) popHead() {
	txn := tm.head
	tm.head = txn.mgrNext
	if tm.head != nil {
		tm.head.mgrPrev = nil
	} else {
		tm.tail = nil
	}
	txn.mgrPrev, txn.mgrNext = nil, nil
}

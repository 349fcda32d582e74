package tablet

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"tabletraft/consensus"
	"tabletraft/types"
)

// TxnState is the participant-local state of one distributed transaction.
type TxnState int32

const (
	// TxnInitializing is the state of a freshly created entry before its
	// BEGIN_TXN op applies.
	TxnInitializing = TxnState(iota)
	TxnOpen
	TxnCommitInProgress
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnInitializing:
		return "INITIALIZING"
	case TxnOpen:
		return "OPEN"
	case TxnCommitInProgress:
		return "COMMIT_IN_PROGRESS"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Txn is the participant-side record of one transaction. The write lock
// serializes the participant ops of the transaction: each op holds it from
// Prepare through Finish. Validators check the state machine; mutators
// assume a validator passed and the lock is held.
type Txn struct {
	id int64

	writeLock sync.Mutex

	state    int32 // TxnState, loaded atomically so observers need no lock
	lastOpId types.OpId
	commitTs types.Timestamp

	slotMtx  sync.Mutex
	commitOp *ScopedOp
}

func newTxn(id int64) *Txn {
	return &Txn{id: id, state: int32(TxnInitializing)}
}

func (t *Txn) Id() int64 {
	return t.id
}

func (t *Txn) State() TxnState {
	return TxnState(atomic.LoadInt32(&t.state))
}

func (t *Txn) setState(s TxnState) {
	atomic.StoreInt32(&t.state, int32(s))
}

// CommitTimestamp returns the finalized commit timestamp, or
// TimestampNone before FINALIZE_COMMIT applies.
func (t *Txn) CommitTimestamp() types.Timestamp {
	return t.commitTs
}

// AcquireWriteLock blocks until this txn's write lock is held.
func (t *Txn) AcquireWriteLock() {
	t.writeLock.Lock()
}

func (t *Txn) ReleaseWriteLock() {
	t.writeLock.Unlock()
}

//--------------------------------------------------------------------------
// Validators

func (t *Txn) ValidateBeginTransaction() error {
	if t.State() != TxnInitializing {
		return errors.Wrapf(consensus.ErrIllegalState,
			"cannot begin transaction %d in state %s", t.id, t.State())
	}
	return nil
}

func (t *Txn) ValidateBeginCommit() error {
	if t.State() != TxnOpen {
		return errors.Wrapf(consensus.ErrIllegalState,
			"cannot begin commit of transaction %d in state %s", t.id, t.State())
	}
	return nil
}

func (t *Txn) ValidateFinalize() error {
	if t.State() != TxnCommitInProgress {
		return errors.Wrapf(consensus.ErrIllegalState,
			"cannot finalize transaction %d in state %s", t.id, t.State())
	}
	return nil
}

func (t *Txn) ValidateAbort() error {
	if t.State() != TxnOpen && t.State() != TxnCommitInProgress {
		return errors.Wrapf(consensus.ErrIllegalState,
			"cannot abort transaction %d in state %s", t.id, t.State())
	}
	return nil
}

//--------------------------------------------------------------------------
// Mutators

func (t *Txn) BeginTransaction(opId types.OpId) {
	t.lastOpId = opId
	t.setState(TxnOpen)
}

func (t *Txn) BeginCommit(opId types.OpId) {
	t.lastOpId = opId
	t.setState(TxnCommitInProgress)
}

func (t *Txn) FinalizeCommit(opId types.OpId, commitTs types.Timestamp) {
	t.lastOpId = opId
	t.commitTs = commitTs
	t.setState(TxnCommitted)
}

func (t *Txn) AbortTransaction(opId types.OpId) {
	t.lastOpId = opId
	t.setState(TxnAborted)
}

//--------------------------------------------------------------------------
// Commit op slot

// SetCommitOp hands the BEGIN_COMMIT mvcc op to the transaction. The slot
// must be empty.
func (t *Txn) SetCommitOp(op *ScopedOp) {
	t.slotMtx.Lock()
	defer t.slotMtx.Unlock()
	if t.commitOp != nil {
		panic(fmt.Sprintf("transaction %d already holds a commit op", t.id))
	}
	t.commitOp = op
}

// CommitOp returns the held mvcc op, nil if none. The slot may be empty on
// a bootstrap replay whose BEGIN_COMMIT already fully applied in a
// previous incarnation.
func (t *Txn) CommitOp() *ScopedOp {
	t.slotMtx.Lock()
	defer t.slotMtx.Unlock()
	return t.commitOp
}

// ClearCommitOp empties the slot once the held op is resolved.
func (t *Txn) ClearCommitOp() {
	t.slotMtx.Lock()
	defer t.slotMtx.Unlock()
	t.commitOp = nil
}

func (t *Txn) String() string {
	return fmt.Sprintf("Txn{id=%d, state=%s, last_op=%s}", t.id, t.State(), t.lastOpId)
}

//--------------------------------------------------------------------------
// TxnParticipant

// TxnParticipant is the registry of transactions this tablet participates
// in, keyed by transaction id.
type TxnParticipant struct {
	mtx    sync.Mutex
	txns   map[int64]*Txn
	logger log.Logger
}

func NewTxnParticipant(logger log.Logger) *TxnParticipant {
	return &TxnParticipant{
		txns:   make(map[int64]*Txn),
		logger: logger,
	}
}

// GetOrCreateTransaction returns the transaction for txnId, creating an
// INITIALIZING entry if this is the first op seen for it.
func (p *TxnParticipant) GetOrCreateTransaction(txnId int64) *Txn {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	txn, ok := p.txns[txnId]
	if !ok {
		txn = newTxn(txnId)
		p.txns[txnId] = txn
		p.logger.Debug("created transaction entry", "txn_id", txnId)
	}
	return txn
}

// GetTransaction returns the transaction for txnId, nil if unknown.
func (p *TxnParticipant) GetTransaction(txnId int64) *Txn {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.txns[txnId]
}

// ClearIfInitFailed drops the entry for txnId if its initialization never
// completed, so a failed BEGIN_TXN leaves no trace.
func (p *TxnParticipant) ClearIfInitFailed(txnId int64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if txn, ok := p.txns[txnId]; ok && txn.State() == TxnInitializing {
		delete(p.txns, txnId)
		p.logger.Debug("cleared half-initialized transaction", "txn_id", txnId)
	}
}

// NumTransactions returns the number of known transactions.
func (p *TxnParticipant) NumTransactions() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.txns)
}

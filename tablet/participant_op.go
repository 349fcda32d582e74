package tablet

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"tabletraft/consensus"
	"tabletraft/types"
)

// DriverType says which side of consensus is driving the op.
type DriverType uint8

const (
	LeaderDriver  = DriverType(0)
	ReplicaDriver = DriverType(1)
)

func (d DriverType) String() string {
	if d == LeaderDriver {
		return "LEADER"
	}
	return "REPLICA"
}

// OpResult is the outcome handed to Finish.
type OpResult uint8

const (
	OpApplied = OpResult(0)
	OpAborted = OpResult(1)
)

// ParticipantOpState carries one participant op across its phases: the
// request, the transaction it targets (with its write lock), the assigned
// timestamp, and — for BEGIN_COMMIT — the mvcc op opened at that
// timestamp until ownership transfers to the transaction during Apply.
type ParticipantOpState struct {
	participant *TxnParticipant
	mvcc        *MvccManager
	clock       *Clock

	request  *types.ParticipantRequest
	response *types.ParticipantResponse

	opId         types.OpId
	timestamp    types.Timestamp
	hasTimestamp bool

	txn       *Txn
	txnLocked bool

	beginCommitMvccOp *ScopedOp

	logger log.Logger
}

func NewParticipantOpState(
	participant *TxnParticipant,
	mvcc *MvccManager,
	clock *Clock,
	request *types.ParticipantRequest,
	response *types.ParticipantResponse,
	logger log.Logger,
) *ParticipantOpState {
	if request == nil {
		panic("participant op built from a nil request")
	}
	return &ParticipantOpState{
		participant: participant,
		mvcc:        mvcc,
		clock:       clock,
		request:     request,
		response:    response,
		logger:      logger,
	}
}

func (s *ParticipantOpState) Request() *types.ParticipantRequest {
	return s.request
}

func (s *ParticipantOpState) Response() *types.ParticipantResponse {
	return s.response
}

func (s *ParticipantOpState) OpId() types.OpId {
	return s.opId
}

func (s *ParticipantOpState) SetOpId(id types.OpId) {
	s.opId = id
}

func (s *ParticipantOpState) Timestamp() types.Timestamp {
	return s.timestamp
}

func (s *ParticipantOpState) HasTimestamp() bool {
	return s.hasTimestamp
}

func (s *ParticipantOpState) setTimestamp(ts types.Timestamp) {
	s.timestamp = ts
	s.hasTimestamp = true
}

// Txn exposes the acquired transaction. Valid between AcquireTxnAndLock
// and ReleaseTxn.
func (s *ParticipantOpState) Txn() *Txn {
	return s.txn
}

// AcquireTxnAndLock looks up (or creates) the transaction and takes its
// exclusive write lock. The op owns the lock until ReleaseTxn.
func (s *ParticipantOpState) AcquireTxnAndLock() {
	if s.txn != nil || s.txnLocked {
		panic("transaction already acquired")
	}
	s.txn = s.participant.GetOrCreateTransaction(s.request.Op.TxnId)
	s.txn.AcquireWriteLock()
	s.txnLocked = true
}

// ReleaseTxn drops the write lock and the transaction reference.
func (s *ParticipantOpState) ReleaseTxn() {
	if s.txnLocked {
		s.txn.ReleaseWriteLock()
		s.txnLocked = false
	}
	s.txn = nil
	s.logger.Debug("released txn lock", "txn_id", s.request.Op.TxnId)
}

// ValidateOp checks the requested transition against the transaction's
// current state.
func (s *ParticipantOpState) ValidateOp() error {
	if s.txn == nil {
		panic("validate called before the transaction was acquired")
	}
	switch s.request.Op.Type {
	case types.ParticipantBeginTxn:
		return s.txn.ValidateBeginTransaction()
	case types.ParticipantBeginCommit:
		return s.txn.ValidateBeginCommit()
	case types.ParticipantFinalizeCommit:
		if s.request.Op.FinalizedCommitTs.IsNone() {
			return errors.Wrapf(consensus.ErrInvalidArgument,
				"finalize commit of transaction %d carries no commit timestamp", s.request.Op.TxnId)
		}
		return s.txn.ValidateFinalize()
	case types.ParticipantAbortTxn:
		return s.txn.ValidateAbort()
	default:
		return errors.Wrap(consensus.ErrInvalidArgument, "unknown op type")
	}
}

// SetMvccOp stores the mvcc op opened for a BEGIN_COMMIT. The op state
// owns it until ReleaseMvccOpToTxn.
func (s *ParticipantOpState) SetMvccOp(op *ScopedOp) {
	if s.request.Op.Type != types.ParticipantBeginCommit {
		panic(fmt.Sprintf("mvcc op attached to a %s op", s.request.Op.Type))
	}
	if s.beginCommitMvccOp != nil {
		panic("mvcc op already attached")
	}
	s.beginCommitMvccOp = op
}

// ReleaseMvccOpToTxn transfers ownership of the commit mvcc op to the
// transaction, keeping it open until the commit finalizes or aborts.
func (s *ParticipantOpState) ReleaseMvccOpToTxn() {
	if s.request.Op.Type != types.ParticipantBeginCommit {
		panic(fmt.Sprintf("mvcc op released from a %s op", s.request.Op.Type))
	}
	if s.beginCommitMvccOp == nil {
		panic("no mvcc op to release")
	}
	s.txn.SetCommitOp(s.beginCommitMvccOp)
	s.beginCommitMvccOp = nil
}

// performOp runs the transaction mutator for this op's type and builds the
// commit message.
func (s *ParticipantOpState) performOp(opId types.OpId) (*types.CommitMsg, error) {
	op := s.request.Op
	switch op.Type {
	// NOTE: these currently never fail because only metadata is updated.
	// Once write ops are validated before committing, the response needs
	// to carry per-op errors.
	case types.ParticipantBeginTxn:
		s.txn.BeginTransaction(opId)
	case types.ParticipantBeginCommit:
		s.txn.BeginCommit(opId)
	case types.ParticipantFinalizeCommit:
		s.txn.FinalizeCommit(opId, op.FinalizedCommitTs)
		// A bootstrap replay may not hold a commit op if the BEGIN_COMMIT
		// fully applied in a previous incarnation.
		if commitOp := s.txn.CommitOp(); commitOp != nil {
			commitOp.FinishApplying()
			s.txn.ClearCommitOp()
		}
	case types.ParticipantAbortTxn:
		s.txn.AbortTransaction(opId)
		if commitOp := s.txn.CommitOp(); commitOp != nil {
			commitOp.Abort()
			s.txn.ClearCommitOp()
		}
	default:
		return nil, errors.Wrap(consensus.ErrInvalidArgument, "unknown op type")
	}
	return &types.CommitMsg{Type: types.OpParticipant, CommittedId: opId}, nil
}

func (s *ParticipantOpState) String() string {
	ts := "<unassigned>"
	if s.hasTimestamp {
		ts = s.timestamp.String()
	}
	return fmt.Sprintf("ParticipantOpState[op_id=%s, ts=%s, type=%s]",
		s.opId, ts, s.request.Op.Type)
}

//--------------------------------------------------------------------------
// ParticipantOp

// ParticipantOp drives one replicated participant operation through its
// four phases: Prepare, Start, Apply, Finish.
type ParticipantOp struct {
	state  *ParticipantOpState
	driver DriverType
}

func NewParticipantOp(state *ParticipantOpState, driver DriverType) *ParticipantOp {
	return &ParticipantOp{state: state, driver: driver}
}

func (op *ParticipantOp) State() *ParticipantOpState {
	return op.state
}

// NewReplicateMsg builds the unstamped replicate message for this op.
func (op *ParticipantOp) NewReplicateMsg() *types.ReplicateMsg {
	req := *op.state.request
	return &types.ReplicateMsg{
		Type:        types.OpParticipant,
		Participant: &req,
	}
}

// Prepare acquires the transaction and validates the transition. On the
// leader, a FINALIZE_COMMIT additionally bumps the clock so every
// timestamp assigned from here on sorts after the finalized commit.
func (op *ParticipantOp) Prepare() error {
	s := op.state
	s.logger.Debug("prepare: starting", "op", s.String())
	s.AcquireTxnAndLock()
	if err := s.ValidateOp(); err != nil {
		return err
	}

	if s.request.Op.Type == types.ParticipantFinalizeCommit && op.driver == LeaderDriver {
		if err := s.clock.UpdateClockAndLastAssignedTimestamp(s.request.Op.FinalizedCommitTs); err != nil {
			return err
		}
	}
	s.logger.Debug("prepare: finished", "op", s.String())
	return nil
}

// Start runs once the replicate message has its consensus timestamp. A
// BEGIN_COMMIT opens an mvcc op at that timestamp so readers at later
// timestamps wait for the commit to resolve.
func (op *ParticipantOp) Start(replicateTs types.Timestamp) error {
	s := op.state
	if s.hasTimestamp {
		panic("participant op started twice")
	}
	if replicateTs.IsNone() {
		panic("participant op started without a replicate timestamp")
	}
	s.setTimestamp(replicateTs)
	if s.request.Op.Type == types.ParticipantBeginCommit {
		s.SetMvccOp(s.mvcc.StartOp(replicateTs))
	}
	s.logger.Debug("start", "timestamp", replicateTs)
	return nil
}

// Apply runs after consensus majority: it performs the transaction
// mutation and, for BEGIN_COMMIT, hands the mvcc op to the transaction.
func (op *ParticipantOp) Apply() (*types.CommitMsg, error) {
	s := op.state
	s.logger.Debug("apply: starting", "op", s.String())
	if s.beginCommitMvccOp != nil {
		s.beginCommitMvccOp.StartApplying()
	}
	commitMsg, err := s.performOp(s.opId)
	if err != nil {
		return nil, err
	}
	if s.request.Op.Type == types.ParticipantBeginCommit {
		s.ReleaseMvccOpToTxn()
	}
	s.logger.Debug("apply: finished", "op", s.String())
	return commitMsg, nil
}

// Finish releases the transaction. An op aborted before establishing
// transaction state clears the half-initialized entry; an aborted
// BEGIN_COMMIT still owning its mvcc op resolves it as aborted.
func (op *ParticipantOp) Finish(result OpResult) {
	s := op.state
	txnId := s.request.Op.TxnId
	if result == OpAborted && s.beginCommitMvccOp != nil {
		s.beginCommitMvccOp.Abort()
		s.beginCommitMvccOp = nil
	}
	s.ReleaseTxn()
	if result == OpAborted {
		s.participant.ClearIfInitFailed(txnId)
		s.logger.Debug("finish: op aborted", "txn_id", txnId)
		return
	}
	s.logger.Debug("finish: op applied", "txn_id", txnId)
}

func (op *ParticipantOp) String() string {
	return fmt.Sprintf("ParticipantOp[type=%s, state=%s]", op.driver, op.state)
}

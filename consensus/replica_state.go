package consensus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"tabletraft/libs/pool"
	"tabletraft/types"
)

// State is the lifecycle state of a replica.
type State int32

const (
	StateInitialized = State(iota)
	StateRunning
	StateChangingConfig
	StateShuttingDown
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateChangingConfig:
		return "CHANGING_CONFIG"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateShutDown:
		return "SHUT_DOWN"
	default:
		return "UNKNOWN"
	}
}

// ReplicaOpFactory creates the replica-side driver for an operation
// received from the leader.
type ReplicaOpFactory interface {
	StartReplicaOp(op *PendingOp) error
}

// UniqueLock is the guard handed out by the LockFor* entry points. Methods
// suffixed "Locked" require it to be held.
type UniqueLock struct {
	rs       *ReplicaState
	released bool
}

// Unlock releases the replica lock. Safe to call once.
func (l *UniqueLock) Unlock() {
	if l.released {
		panic("replica lock released twice")
	}
	l.released = true
	l.rs.locked = false
	l.rs.mtx.Unlock()
}

// ReplicaState is the authoritative in-memory consensus state of a single
// tablet replica: lifecycle, term and vote, quorum membership, pending
// operations and the received/replicated/committed watermarks. Every
// mutation happens under a single exclusive lock acquired through a typed
// LockFor* entry point that validates lifecycle preconditions.
type ReplicaState struct {
	tabletID string
	peerUuid string

	callbackPool *pool.Pool
	cmeta        *ConsensusMetadata
	opFactory    ReplicaOpFactory
	metrics      *Metrics
	logger       log.Logger

	mtx    sync.Mutex
	locked bool // true while the lock is handed out; backs assertions only

	state          State
	activeSnapshot *QuorumSnapshot
	pendingQuorum  *types.Quorum

	nextIndex          uint64
	pendingOps         map[types.OpId]*PendingOp
	inFlightCommits    map[types.OpId]struct{}
	receivedOpId       types.OpId
	replicatedOpId     types.OpId
	lastTriggeredApply types.OpId

	inFlightAppliesLatch *countDownLatch

	replicateWatchers *OpIdWatcherSet
	commitWatchers    *OpIdWatcherSet
}

type ReplicaStateOption func(*ReplicaState)

func WithMetrics(m *Metrics) ReplicaStateOption {
	return func(rs *ReplicaState) { rs.metrics = m }
}

func WithLogger(l log.Logger) ReplicaStateOption {
	return func(rs *ReplicaState) { rs.logger = l }
}

// NewReplicaState builds the state container around a loaded consensus
// metadata record. The active quorum snapshot is derived from the
// committed quorum on construction.
func NewReplicaState(
	tabletID string,
	peerUuid string,
	callbackPool *pool.Pool,
	cmeta *ConsensusMetadata,
	opFactory ReplicaOpFactory,
	options ...ReplicaStateOption,
) *ReplicaState {
	if cmeta == nil {
		panic("consensus metadata passed as nil")
	}
	rs := &ReplicaState{
		tabletID:             tabletID,
		peerUuid:             peerUuid,
		callbackPool:         callbackPool,
		cmeta:                cmeta,
		opFactory:            opFactory,
		metrics:              NopMetrics(),
		logger:               log.NewNopLogger(),
		state:                StateInitialized,
		pendingOps:           make(map[types.OpId]*PendingOp),
		inFlightCommits:      make(map[types.OpId]struct{}),
		inFlightAppliesLatch: newCountDownLatch(0),
		replicateWatchers:    NewOpIdWatcherSet(callbackPool),
		commitWatchers:       NewOpIdWatcherSet(callbackPool),
	}
	for _, option := range options {
		option(rs)
	}
	rs.resetActiveSnapshot(cmeta.PB().CommittedQuorum)
	rs.metrics.CurrentTerm.Set(float64(cmeta.PB().CurrentTerm))
	return rs
}

func (rs *ReplicaState) SetLogger(logger log.Logger) {
	rs.logger = logger
}

//--------------------------------------------------------------------------
// Lock acquisition

func (rs *ReplicaState) acquire() *UniqueLock {
	rs.mtx.Lock()
	rs.locked = true
	return &UniqueLock{rs: rs}
}

func (rs *ReplicaState) assertLocked() {
	if !rs.locked {
		panic("replica state accessed without the lock")
	}
}

// LockForStart hands out the lock for the initial Start call.
func (rs *ReplicaState) LockForStart() (*UniqueLock, error) {
	l := rs.acquire()
	if rs.state != StateInitialized {
		l.Unlock()
		return nil, errors.Wrapf(ErrIllegalState, "cannot start in state %s", rs.state)
	}
	return l, nil
}

// LockForRead hands out the lock for read-only access in any state.
func (rs *ReplicaState) LockForRead() (*UniqueLock, error) {
	return rs.acquire(), nil
}

// LockForReplicate hands out the lock for stamping and admitting a new
// leader-side operation. Only a LEADER may replicate; a CANDIDATE may push
// a config change in the bootstrap term only.
func (rs *ReplicaState) LockForReplicate(msg *types.ReplicateMsg) (*UniqueLock, error) {
	if msg.HasId() {
		panic(fmt.Sprintf("replicate message should not have an id yet: %s", msg))
	}
	l := rs.acquire()
	if rs.state != StateRunning {
		l.Unlock()
		return nil, errors.Wrap(ErrIllegalState, "replica not in running state")
	}
	switch rs.activeSnapshot.SelfRole {
	case types.RoleLeader:
		return l, nil
	case types.RoleCandidate:
		if msg.Type != types.OpChangeConfig {
			l.Unlock()
			return nil, errors.Wrap(ErrIllegalState, "only a change config round can be pushed while CANDIDATE")
		}
		// TODO support true config change. Right now replicate calls
		// while CANDIDATE are only allowed in term 0, i.e. for the first
		// CANDIDATE/LEADER of the quorum.
		if term := rs.cmeta.PB().CurrentTerm; term != 0 {
			panic(fmt.Sprintf("candidate replicating a config change in term %d", term))
		}
		return l, nil
	default:
		role := rs.activeSnapshot.SelfRole
		l.Unlock()
		return nil, errors.Wrapf(ErrIllegalState, "replica %s is not leader of this quorum, role: %s",
			rs.peerUuid, role)
	}
}

// LockForCommit hands out the lock for advancing the commit watermark or
// finishing an apply.
func (rs *ReplicaState) LockForCommit() (*UniqueLock, error) {
	l := rs.acquire()
	if rs.state != StateRunning && rs.state != StateShuttingDown {
		l.Unlock()
		return nil, errors.Wrap(ErrIllegalState, "replica not in running state")
	}
	return l, nil
}

// LockForConfigChange hands out the lock and moves the replica into
// CHANGING_CONFIG. Allowed from INITIALIZED or RUNNING only.
func (rs *ReplicaState) LockForConfigChange() (*UniqueLock, error) {
	l := rs.acquire()
	if rs.state != StateInitialized && rs.state != StateRunning {
		l.Unlock()
		return nil, errors.Wrapf(ErrIllegalState, "cannot change config in state %s", rs.state)
	}
	rs.state = StateChangingConfig
	return l, nil
}

// LockForElection hands out the lock for term/vote mutations.
func (rs *ReplicaState) LockForElection() (*UniqueLock, error) {
	l := rs.acquire()
	if rs.state != StateInitialized && rs.state != StateRunning {
		l.Unlock()
		return nil, errors.Wrapf(ErrIllegalState, "unexpected state for election: %s", rs.state)
	}
	return l, nil
}

// LockForUpdate hands out the lock for processing a leader request on a
// non-leader participant.
func (rs *ReplicaState) LockForUpdate() (*UniqueLock, error) {
	l := rs.acquire()
	if rs.state != StateRunning {
		l.Unlock()
		return nil, errors.Wrap(ErrIllegalState, "replica not in running state")
	}
	switch rs.activeSnapshot.SelfRole {
	case types.RoleLeader:
		l.Unlock()
		return nil, errors.Wrap(ErrIllegalState, "replica is leader of the quorum")
	case types.RoleNonParticipant:
		l.Unlock()
		return nil, errors.Wrap(ErrIllegalState, "replica is not a participant of this quorum")
	default:
		return l, nil
	}
}

// LockForShutdown moves the replica into SHUTTING_DOWN (idempotently) and
// hands out the lock. Entering SHUTTING_DOWN arms the drain latch with the
// number of in-flight applies.
func (rs *ReplicaState) LockForShutdown() (*UniqueLock, error) {
	l := rs.acquire()
	if rs.state == StateShutDown {
		l.Unlock()
		return nil, errors.Wrap(ErrIllegalState, "replica is already shutdown")
	}
	if rs.state != StateShuttingDown {
		rs.state = StateShuttingDown
		rs.inFlightAppliesLatch.Reset(len(rs.inFlightCommits))
	}
	return l, nil
}

//--------------------------------------------------------------------------
// Lifecycle

// StartLocked seeds the index and watermark bookkeeping from the last
// durable operation id, typically recovered from the log.
func (rs *ReplicaState) StartLocked(initialID types.OpId) error {
	rs.assertLocked()

	currentTerm := rs.cmeta.PB().CurrentTerm
	if initialID.Term < currentTerm {
		return errors.Wrapf(ErrInvalidArgument,
			"cannot start in older term, current term: %d, passed term: %d", currentTerm, initialID.Term)
	}
	if initialID.Term != currentTerm {
		panic(fmt.Sprintf("starting with term %d which is greater than last recorded term %d",
			initialID.Term, currentTerm))
	}

	rs.nextIndex = initialID.Index + 1
	rs.receivedOpId = initialID
	rs.replicatedOpId = initialID
	rs.lastTriggeredApply = initialID
	rs.state = StateRunning
	return nil
}

// SetConfigDoneLocked completes a config change and moves back to RUNNING.
func (rs *ReplicaState) SetConfigDoneLocked() {
	rs.assertLocked()
	if rs.state != StateChangingConfig {
		panic(fmt.Sprintf("config done in state %s", rs.state))
	}
	rs.state = StateRunning
}

// Shutdown moves the replica to its terminal state. Must follow
// LockForShutdown and the drain. Watchers still registered are failed.
func (rs *ReplicaState) Shutdown() error {
	l := rs.acquire()
	defer l.Unlock()
	if rs.state != StateShuttingDown {
		panic(fmt.Sprintf("shutdown in state %s", rs.state))
	}
	rs.state = StateShutDown
	rs.replicateWatchers.FailAll(ErrAborted)
	rs.commitWatchers.FailAll(ErrAborted)
	return nil
}

// StateLocked returns the lifecycle state.
func (rs *ReplicaState) StateLocked() State {
	rs.assertLocked()
	return rs.state
}

//--------------------------------------------------------------------------
// Quorum membership

// ActiveQuorumSnapshotLocked returns the projection of the acting quorum:
// the pending one if a change is in flight, the committed one otherwise.
func (rs *ReplicaState) ActiveQuorumSnapshotLocked() *QuorumSnapshot {
	rs.assertLocked()
	if rs.activeSnapshot == nil {
		panic("quorum snapshot is not set")
	}
	return rs.activeSnapshot
}

func (rs *ReplicaState) IsQuorumChangePendingLocked() bool {
	rs.assertLocked()
	return rs.pendingQuorum != nil
}

// SetPendingQuorumLocked stages a quorum change. The snapshot is rebuilt
// immediately so role-dependent admission sees the new role at once; the
// committed quorum stays unchanged until SetCommittedQuorumLocked.
func (rs *ReplicaState) SetPendingQuorumLocked(newQuorum types.Quorum) error {
	rs.assertLocked()
	if rs.pendingQuorum != nil {
		panic(fmt.Sprintf("attempting to make pending quorum change while another is already pending; pending: %s, new: %s",
			rs.pendingQuorum, newQuorum))
	}
	staged := newQuorum.Copy()
	rs.pendingQuorum = &staged
	rs.resetActiveSnapshot(staged)
	return nil
}

// PendingQuorumLocked returns the staged quorum. Panics if none is
// pending.
func (rs *ReplicaState) PendingQuorumLocked() types.Quorum {
	rs.assertLocked()
	if rs.pendingQuorum == nil {
		panic("no pending quorum")
	}
	return rs.pendingQuorum.Copy()
}

// SetCommittedQuorumLocked persists newQuorum as the committed quorum and
// clears the pending slot. If a change is pending, newQuorum must be the
// same serialized configuration.
func (rs *ReplicaState) SetCommittedQuorumLocked(newQuorum types.Quorum) error {
	rs.assertLocked()

	hadPending := rs.pendingQuorum != nil
	if hadPending && !rs.pendingQuorum.Equals(newQuorum) {
		panic(fmt.Sprintf("attempting to persist quorum change while a different one is pending; pending: %s, new: %s",
			rs.pendingQuorum, newQuorum))
	}

	if err := rs.cmeta.Mutate(func(pb *ConsensusMetadataPB) {
		pb.CommittedQuorum = newQuorum.Copy()
	}); err != nil {
		return err
	}
	if !hadPending {
		// Only update acting quorum members if this is a net-new change.
		rs.resetActiveSnapshot(newQuorum)
	}
	rs.pendingQuorum = nil
	return nil
}

// CommittedQuorumLocked returns the durable committed quorum.
func (rs *ReplicaState) CommittedQuorumLocked() types.Quorum {
	rs.assertLocked()
	return rs.cmeta.PB().CommittedQuorum.Copy()
}

// IncrementConfigSeqnoLocked bumps the committed quorum's seqno and
// flushes.
func (rs *ReplicaState) IncrementConfigSeqnoLocked() error {
	rs.assertLocked()
	return rs.cmeta.Mutate(func(pb *ConsensusMetadataPB) {
		pb.CommittedQuorum.Seqno++
	})
}

func (rs *ReplicaState) resetActiveSnapshot(quorum types.Quorum) {
	rs.activeSnapshot = BuildQuorumSnapshot(quorum, rs.peerUuid)
}

//--------------------------------------------------------------------------
// Term and vote

func (rs *ReplicaState) CurrentTermLocked() uint64 {
	rs.assertLocked()
	return rs.cmeta.PB().CurrentTerm
}

// SetCurrentTermLocked moves to newTerm. Terms never go backwards; a
// strictly greater term clears the vote record. The change is durable
// before it is observable.
func (rs *ReplicaState) SetCurrentTermLocked(newTerm uint64) error {
	rs.assertLocked()
	if newTerm < rs.cmeta.PB().CurrentTerm {
		return errors.Wrapf(ErrIllegalState,
			"cannot change term to a term that is lower than the current one, current: %d, proposed: %d",
			rs.cmeta.PB().CurrentTerm, newTerm)
	}
	if err := rs.cmeta.Mutate(func(pb *ConsensusMetadataPB) {
		if newTerm > pb.CurrentTerm {
			pb.VotedFor = ""
		}
		pb.CurrentTerm = newTerm
	}); err != nil {
		return err
	}
	rs.metrics.CurrentTerm.Set(float64(newTerm))
	return nil
}

// IncrementTermLocked bumps the term by one and clears the vote.
func (rs *ReplicaState) IncrementTermLocked() error {
	rs.assertLocked()
	return rs.SetCurrentTermLocked(rs.cmeta.PB().CurrentTerm + 1)
}

func (rs *ReplicaState) HasVotedCurrentTermLocked() bool {
	rs.assertLocked()
	return rs.cmeta.PB().HasVotedFor()
}

// SetVotedForCurrentTermLocked records a durable vote for uuid in the
// current term.
func (rs *ReplicaState) SetVotedForCurrentTermLocked(uuid string) error {
	rs.assertLocked()
	return errors.Wrap(rs.cmeta.Mutate(func(pb *ConsensusMetadataPB) {
		pb.VotedFor = uuid
	}), "unable to flush consensus metadata after recording vote")
}

// VotedForCurrentTermLocked returns the vote cast this term. The vote must
// be present.
func (rs *ReplicaState) VotedForCurrentTermLocked() string {
	rs.assertLocked()
	if !rs.cmeta.PB().HasVotedFor() {
		panic("no vote recorded for the current term")
	}
	return rs.cmeta.PB().VotedFor
}

//--------------------------------------------------------------------------
// Pending operations and watermarks

// ReplicaOpFactoryLocked returns the factory used to drive follower-side
// operations.
func (rs *ReplicaState) ReplicaOpFactoryLocked() ReplicaOpFactory {
	rs.assertLocked()
	return rs.opFactory
}

func (rs *ReplicaState) NumPendingOpsLocked() int {
	rs.assertLocked()
	return len(rs.pendingOps)
}

// AddPendingOperationLocked admits an operation. Outside RUNNING only
// config changes are admitted.
func (rs *ReplicaState) AddPendingOperationLocked(op *PendingOp) error {
	rs.assertLocked()
	if rs.state != StateRunning && op.Msg().Type != types.OpChangeConfig {
		return errors.Wrap(ErrIllegalState, "cannot trigger prepare, replica is not in running state")
	}
	if _, ok := rs.pendingOps[op.Id()]; ok {
		panic(fmt.Sprintf("operation %s already pending", op.Id()))
	}
	rs.pendingOps[op.Id()] = op
	rs.metrics.PendingOps.Set(float64(len(rs.pendingOps)))
	return nil
}

// MarkConsensusCommittedUpToLocked declaratively advances the commit
// watermark: every pending op up to and including id has its apply
// triggered, in OpId order. Calls for an id at or below the watermark are
// collapsed into no-ops, which tolerates reordered commit messages.
func (rs *ReplicaState) MarkConsensusCommittedUpToLocked(id types.OpId) error {
	rs.assertLocked()
	if rs.state == StateShuttingDown || rs.state == StateShutDown {
		return errors.Wrap(ErrServiceUnavailable, "cannot trigger apply, replica is shutting down")
	}
	if rs.state != StateRunning {
		return errors.Wrap(ErrIllegalState, "cannot trigger apply, replica is not in running state")
	}

	if id.LessEq(rs.lastTriggeredApply) {
		rs.logger.Debug("already marked ops as committed, no-op",
			"marked_through", rs.lastTriggeredApply, "requested", id)
		return nil
	}

	var eligible []types.OpId
	for pendingID := range rs.pendingOps {
		if rs.lastTriggeredApply.Less(pendingID) && pendingID.LessEq(id) {
			eligible = append(eligible, pendingID)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Less(eligible[j]) })

	for _, pendingID := range eligible {
		op := rs.pendingOps[pendingID]
		if _, ok := rs.inFlightCommits[pendingID]; ok {
			panic(fmt.Sprintf("operation %s already in flight", pendingID))
		}
		rs.inFlightCommits[pendingID] = struct{}{}
		rs.metrics.TriggeredApplies.Add(1)

		if c := op.Continuation(); c != nil {
			if err := c.ConsensusCommitted(); err != nil {
				return errors.Wrapf(err, "commit continuation for %s", pendingID)
			}
		} else if cb := op.replicateCB; cb != nil {
			if err := rs.callbackPool.Submit(func() { cb(nil) }); err != nil {
				return err
			}
		}
	}

	rs.lastTriggeredApply = id
	return nil
}

// CommittedOpIdLocked returns the commit watermark (last triggered apply).
func (rs *ReplicaState) CommittedOpIdLocked() types.OpId {
	rs.assertLocked()
	return rs.lastTriggeredApply
}

// UpdateCommittedOpIdLocked finishes the apply of one in-flight op:
// removes it from the pending and in-flight sets, fires its commit
// watchers and, when shutting down, counts down the drain latch.
func (rs *ReplicaState) UpdateCommittedOpIdLocked(id types.OpId) {
	rs.assertLocked()
	if _, ok := rs.inFlightCommits[id]; !ok {
		panic(fmt.Sprintf("trying to mark %s as committed, but not in the in-flight set", id))
	}
	if _, ok := rs.pendingOps[id]; !ok {
		panic(fmt.Sprintf("couldn't remove %s from the pending set", id))
	}
	delete(rs.inFlightCommits, id)
	delete(rs.pendingOps, id)
	rs.metrics.PendingOps.Set(float64(len(rs.pendingOps)))
	rs.commitWatchers.MarkFinished(id, MarkOnlyThisOp)
	if rs.state == StateShuttingDown {
		rs.inFlightAppliesLatch.CountDown()
	}
}

// UpdateLastReplicatedOpIdLocked advances the majority-replicated
// watermark and fires replicate watchers for every op at or below it.
func (rs *ReplicaState) UpdateLastReplicatedOpIdLocked(id types.OpId) {
	rs.assertLocked()
	rs.replicatedOpId = id
	rs.replicateWatchers.MarkFinished(id, MarkAllOpsBefore)
}

func (rs *ReplicaState) LastReplicatedOpIdLocked() types.OpId {
	rs.assertLocked()
	return rs.replicatedOpId
}

// UpdateLastReceivedOpIdLocked advances the received watermark. The
// received watermark never regresses.
func (rs *ReplicaState) UpdateLastReceivedOpIdLocked(id types.OpId) {
	rs.assertLocked()
	if !rs.receivedOpId.LessEq(id) {
		panic(fmt.Sprintf("received op id regression: previously %s, updated %s", rs.receivedOpId, id))
	}
	rs.receivedOpId = id
	rs.nextIndex = id.Index + 1
}

func (rs *ReplicaState) LastReceivedOpIdLocked() types.OpId {
	rs.assertLocked()
	return rs.receivedOpId
}

// NewIdLocked stamps the next operation id in the current term.
func (rs *ReplicaState) NewIdLocked() types.OpId {
	rs.assertLocked()
	id := types.OpId{Term: rs.cmeta.PB().CurrentTerm, Index: rs.nextIndex}
	rs.nextIndex++
	return id
}

// CancelPendingOperationLocked rescinds the most recently assigned id and
// removes its pending entry. Only the latest id is cancellable.
func (rs *ReplicaState) CancelPendingOperationLocked(id types.OpId) {
	rs.assertLocked()
	if term := rs.cmeta.PB().CurrentTerm; term != id.Term {
		panic(fmt.Sprintf("cancelling op %s outside its term %d", id, term))
	}
	if rs.nextIndex != id.Index+1 {
		panic(fmt.Sprintf("cancelling op %s which is not the most recently assigned (next index %d)", id, rs.nextIndex))
	}
	rs.nextIndex = id.Index
	if _, ok := rs.pendingOps[id]; !ok {
		panic(fmt.Sprintf("cancelled op %s not in the pending set", id))
	}
	delete(rs.pendingOps, id)
	rs.metrics.PendingOps.Set(float64(len(rs.pendingOps)))
}

//--------------------------------------------------------------------------
// Shutdown drain

// CancelPendingTransactions aborts every pending op whose apply has not
// been triggered yet. Ops already in flight are left to complete.
func (rs *ReplicaState) CancelPendingTransactions() error {
	l := rs.acquire()
	defer l.Unlock()
	if rs.state != StateShuttingDown {
		return errors.Wrap(ErrIllegalState, "can only cancel pending operations while shutting down")
	}
	rs.logger.Info("trying to abort pending operations", "pending", len(rs.pendingOps))

	var pendingIDs []types.OpId
	for id := range rs.pendingOps {
		pendingIDs = append(pendingIDs, id)
	}
	sort.Slice(pendingIDs, func(i, j int) bool { return pendingIDs[i].Less(pendingIDs[j]) })

	for _, id := range pendingIDs {
		op := rs.pendingOps[id]
		if _, inFlight := rs.inFlightCommits[id]; inFlight {
			rs.logger.Info("skipping op abort as the apply is already in flight", "op", op.Msg().String())
			continue
		}
		rs.logger.Info("aborting operation as it isn't in flight", "op", op.Msg().String())
		rs.metrics.AbortedOps.Add(1)
		if c := op.Continuation(); c != nil {
			c.Abort()
		} else if cb := op.replicateCB; cb != nil {
			_ = rs.callbackPool.Submit(func() { cb(ErrAborted) })
		}
	}
	return nil
}

// WaitForOutstandingApplies blocks until every apply that was in flight
// when shutdown started has finished.
func (rs *ReplicaState) WaitForOutstandingApplies() error {
	l := rs.acquire()
	if rs.state != StateShuttingDown {
		l.Unlock()
		return errors.Wrap(ErrIllegalState, "can only wait for pending commits while shutting down")
	}
	rs.logger.Info("waiting on outstanding applies", "count", rs.inFlightAppliesLatch.Count())
	l.Unlock()

	rs.inFlightAppliesLatch.Wait()
	rs.logger.Info("all local commits completed")
	return nil
}

//--------------------------------------------------------------------------
// Watcher registration

// RegisterOnReplicateCallback fires cb once id is replicated to a
// majority. Registration fails if id already passed the replicated
// watermark.
func (rs *ReplicaState) RegisterOnReplicateCallback(id types.OpId, cb WatcherFn) error {
	l := rs.acquire()
	defer l.Unlock()
	if rs.replicatedOpId.Less(id) {
		rs.replicateWatchers.Register(id, cb)
		return nil
	}
	return errors.Wrap(ErrAlreadyPresent, "the operation has already been replicated")
}

// RegisterOnCommitCallback fires cb once id's apply completes.
// Registration succeeds while the op is ahead of the replicated watermark
// or still pending.
func (rs *ReplicaState) RegisterOnCommitCallback(id types.OpId, cb WatcherFn) error {
	l := rs.acquire()
	defer l.Unlock()
	if rs.replicatedOpId.Less(id) {
		rs.commitWatchers.Register(id, cb)
		return nil
	}
	if _, ok := rs.pendingOps[id]; ok {
		rs.commitWatchers.Register(id, cb)
		return nil
	}
	return errors.Wrap(ErrAlreadyPresent, "the operation has already been committed")
}

//--------------------------------------------------------------------------
// Introspection

func (rs *ReplicaState) PeerUuid() string {
	return rs.peerUuid
}

func (rs *ReplicaState) TabletID() string {
	return rs.tabletID
}

// LogPrefixLocked is prepended to replica log lines: tablet, peer, role.
func (rs *ReplicaState) LogPrefixLocked() string {
	rs.assertLocked()
	return fmt.Sprintf("T %s P %s [%s]: ", rs.tabletID, rs.peerUuid, rs.activeSnapshot.SelfRole)
}

func (rs *ReplicaState) ToString() string {
	l := rs.acquire()
	defer l.Unlock()
	return rs.ToStringLocked()
}

func (rs *ReplicaState) ToStringLocked() string {
	rs.assertLocked()
	return fmt.Sprintf(
		"Replica: %s, State: %s, Role: %s\n"+
			"Watermarks: {Received: %s Replicated: %s Committed: %s}\n"+
			"Num. outstanding commits: %d",
		rs.peerUuid, rs.state, rs.activeSnapshot.SelfRole,
		rs.receivedOpId, rs.replicatedOpId, rs.lastTriggeredApply,
		len(rs.inFlightCommits))
}

package replica

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"tabletraft/consensus"
	"tabletraft/libs/metric"
	"tabletraft/libs/pool"
	"tabletraft/tablet"
	"tabletraft/types"
)

// ReplicaConfig identifies one tablet replica.
type ReplicaConfig struct {
	TabletID string `mapstructure:"tablet_id"`
	PeerUuid string `mapstructure:"peer_uuid"`
}

// TabletReplica wires the consensus state core to the tablet-local
// collaborators: the callback pool, the clock, the mvcc manager and the
// transaction participant. It drives the leader-side pipeline for
// participant ops and provides the factory for follower-side ones.
type TabletReplica struct {
	service.BaseService

	cfg ReplicaConfig

	callbackPool *pool.Pool
	clock        *tablet.Clock
	mvcc         *tablet.MvccManager
	participant  *tablet.TxnParticipant
	state        *consensus.ReplicaState

	factory *opFactory

	metrics *metric.MetricSet
	rm      *replicaMetric
}

type Option func(*TabletReplica)

// NewTabletReplica loads (or seeds) the consensus metadata for
// cfg.TabletID and builds the replica around it.
func NewTabletReplica(
	cfg ReplicaConfig,
	metaStore consensus.MetaStore,
	seed *consensus.ConsensusMetadataPB,
	logger log.Logger,
	options ...Option,
) (*TabletReplica, error) {
	cmeta, err := consensus.LoadConsensusMetadata(metaStore, cfg.TabletID, seed)
	if err != nil {
		return nil, err
	}

	r := &TabletReplica{
		cfg:          cfg,
		callbackPool: pool.NewPool("replica-callbacks"),
		clock:        tablet.NewClock(types.TimestampNone),
		mvcc:         tablet.NewMvccManager(),
		metrics:      metric.NewMetricSet(),
		rm:           newReplicaMetric(),
	}
	r.participant = tablet.NewTxnParticipant(logger.With("module", "txn"))
	r.factory = &opFactory{replica: r}
	r.state = consensus.NewReplicaState(
		cfg.TabletID,
		cfg.PeerUuid,
		r.callbackPool,
		cmeta,
		r.factory,
		consensus.WithLogger(logger.With("module", "consensus")),
	)
	r.callbackPool.SetLogger(logger.With("module", "pool"))
	r.BaseService = *service.NewBaseService(logger, "REPLICA", r)

	if err := r.metrics.SetMetrics("REPLICA", r.rm); err != nil {
		return nil, err
	}
	for _, option := range options {
		option(r)
	}
	return r, nil
}

func (r *TabletReplica) OnStart() error {
	if err := r.callbackPool.Start(); err != nil {
		return err
	}

	l, err := r.state.LockForStart()
	if err != nil {
		return err
	}
	initial := types.OpId{Term: r.state.CurrentTermLocked(), Index: 0}
	if err := r.state.StartLocked(initial); err != nil {
		l.Unlock()
		return err
	}
	r.Logger.Info("replica started", "state", r.state.ToStringLocked())
	l.Unlock()

	r.refreshMetric()
	return nil
}

// OnStop runs the shutdown drain: cancel pending ops whose applies never
// started, wait for the in-flight ones, then seal the state.
func (r *TabletReplica) OnStop() {
	l, err := r.state.LockForShutdown()
	if err != nil {
		r.Logger.Error("failed to lock for shutdown", "err", err)
		return
	}
	l.Unlock()

	if err := r.state.CancelPendingTransactions(); err != nil {
		r.Logger.Error("failed cancelling pending operations", "err", err)
	}
	if err := r.state.WaitForOutstandingApplies(); err != nil {
		r.Logger.Error("failed waiting for outstanding applies", "err", err)
	}
	if err := r.state.Shutdown(); err != nil {
		r.Logger.Error("failed shutting down replica state", "err", err)
	}
	if err := r.callbackPool.Stop(); err != nil {
		r.Logger.Error("failed to stop callback pool", "err", err)
	}
	r.Logger.Info("replica stopped")
}

// ConsensusState exposes the state core to the consensus driver.
func (r *TabletReplica) ConsensusState() *consensus.ReplicaState {
	return r.state
}

func (r *TabletReplica) Clock() *tablet.Clock {
	return r.clock
}

func (r *TabletReplica) Mvcc() *tablet.MvccManager {
	return r.mvcc
}

func (r *TabletReplica) TxnParticipant() *tablet.TxnParticipant {
	return r.participant
}

// Metrics returns the replica's metric registry.
func (r *TabletReplica) Metrics() *metric.MetricSet {
	return r.metrics
}

// SubmitParticipantOp runs the leader-side pipeline for one participant
// op: Prepare, stamp + admit through consensus, Start. The apply is
// triggered when the commit watermark passes the op. In a single-voter
// quorum the local ack is the majority, so the commit is advanced
// immediately.
func (r *TabletReplica) SubmitParticipantOp(req *types.ParticipantRequest) (*types.ParticipantResponse, error) {
	resp := new(types.ParticipantResponse)
	pstate := tablet.NewParticipantOpState(
		r.participant, r.mvcc, r.clock, req, resp, r.Logger.With("module", "participant"))
	pop := tablet.NewParticipantOp(pstate, tablet.LeaderDriver)

	if err := pop.Prepare(); err != nil {
		pop.Finish(tablet.OpAborted)
		resp.Error = err.Error()
		return resp, err
	}

	msg := pop.NewReplicateMsg()
	l, err := r.state.LockForReplicate(msg)
	if err != nil {
		pop.Finish(tablet.OpAborted)
		resp.Error = err.Error()
		return resp, err
	}

	id := r.state.NewIdLocked()
	ts := r.clock.Now()
	msg.Id = &id
	msg.Timestamp = ts
	pstate.SetOpId(id)

	pending := consensus.NewPendingOp(msg,
		consensus.WithContinuation(&participantContinuation{replica: r, op: pop}))
	if err := r.state.AddPendingOperationLocked(pending); err != nil {
		l.Unlock()
		pop.Finish(tablet.OpAborted)
		resp.Error = err.Error()
		return resp, err
	}
	r.state.UpdateLastReceivedOpIdLocked(id)
	singleVoter := r.state.ActiveQuorumSnapshotLocked().MajoritySize == 1
	l.Unlock()

	if err := pop.Start(ts); err != nil {
		return resp, err
	}

	if singleVoter {
		if err := r.advanceCommit(id); err != nil {
			return resp, err
		}
	}
	r.refreshMetric()
	return resp, nil
}

// TrackerFor builds the replication-progress tracker of one in-flight op
// from the acting quorum.
func (r *TabletReplica) TrackerFor(id types.OpId) (*consensus.MajorityTracker, error) {
	l, err := r.state.LockForRead()
	if err != nil {
		return nil, err
	}
	defer l.Unlock()
	qs := r.state.ActiveQuorumSnapshotLocked()
	voters := make(map[string]struct{}, len(qs.VotingPeers))
	for uuid := range qs.VotingPeers {
		voters[uuid] = struct{}{}
	}
	return consensus.NewMajorityTracker(id, voters, qs.MajoritySize, qs.QuorumSize, r.Logger), nil
}

// AckPeer records a replication ack and advances the commit watermark
// when the op reaches its majority. The consensus driver calls this once
// per (peer, op).
func (r *TabletReplica) AckPeer(tracker *consensus.MajorityTracker, uuid string) error {
	tracker.AckPeer(uuid)
	if !tracker.IsDone() {
		return nil
	}
	return r.advanceCommit(tracker.OpId())
}

func (r *TabletReplica) advanceCommit(id types.OpId) error {
	l, err := r.state.LockForCommit()
	if err != nil {
		return err
	}
	defer l.Unlock()
	r.state.UpdateLastReplicatedOpIdLocked(id)
	return r.state.MarkConsensusCommittedUpToLocked(id)
}

// HandleLeaderReplicate ingests one stamped replicate message from the
// leader on a non-leader participant: the replica-side driver prepares and
// starts the op, then it is admitted as pending. A message failing Prepare
// is rejected before admission.
func (r *TabletReplica) HandleLeaderReplicate(msg *types.ReplicateMsg) error {
	if !msg.HasId() {
		return errors.Wrap(consensus.ErrInvalidArgument, "replicate message from leader carries no id")
	}
	pending := consensus.NewPendingOp(msg)
	if err := r.factory.StartReplicaOp(pending); err != nil {
		return err
	}

	l, err := r.state.LockForUpdate()
	if err != nil {
		return err
	}
	if err := r.state.AddPendingOperationLocked(pending); err != nil {
		l.Unlock()
		return err
	}
	r.state.UpdateLastReceivedOpIdLocked(pending.Id())
	l.Unlock()
	r.refreshMetric()
	return nil
}

// HandleLeaderCommit advances the commit watermark to the leader's
// committed id, triggering the applies of every pending op up to it.
func (r *TabletReplica) HandleLeaderCommit(id types.OpId) error {
	return r.advanceCommit(id)
}

// ProposeConfigChange swaps the quorum: stages it, persists it and moves
// back to RUNNING. Only swap-style change from INITIALIZED or RUNNING is
// supported.
func (r *TabletReplica) ProposeConfigChange(newQuorum types.Quorum) error {
	if err := newQuorum.ValidateBasic(); err != nil {
		return err
	}
	l, err := r.state.LockForConfigChange()
	if err != nil {
		return err
	}
	defer l.Unlock()
	if err := r.state.SetPendingQuorumLocked(newQuorum); err != nil {
		return err
	}
	if err := r.state.SetCommittedQuorumLocked(newQuorum); err != nil {
		return err
	}
	r.state.SetConfigDoneLocked()
	r.Logger.Info("quorum changed", "quorum", newQuorum.String())
	return nil
}

// applyParticipantOp runs outside the replica lock, on the callback pool.
func (r *TabletReplica) applyParticipantOp(pop *tablet.ParticipantOp) {
	commitMsg, err := pop.Apply()
	if err != nil {
		// Prepare already validated the op; an apply failure is a
		// programming error in a collaborator.
		panic(fmt.Sprintf("participant apply failed: %v", err))
	}

	l, lockErr := r.state.LockForCommit()
	if lockErr != nil {
		r.Logger.Error("failed to lock for commit", "err", lockErr)
		pop.Finish(tablet.OpAborted)
		return
	}
	r.state.UpdateCommittedOpIdLocked(pop.State().OpId())
	l.Unlock()

	pop.Finish(tablet.OpApplied)
	r.Logger.Debug("participant op applied", "commit", commitMsg.CommittedId)
	r.refreshMetric()
}

func (r *TabletReplica) refreshMetric() {
	l, err := r.state.LockForRead()
	if err != nil {
		return
	}
	defer l.Unlock()
	r.rm.MarkState(r.state.StateLocked().String())
	r.rm.MarkRole(r.state.ActiveQuorumSnapshotLocked().SelfRole.String())
	r.rm.MarkTerm(r.state.CurrentTermLocked())
	r.rm.MarkWatermarks(
		r.state.LastReceivedOpIdLocked().String(),
		r.state.LastReplicatedOpIdLocked().String(),
		r.state.CommittedOpIdLocked().String(),
	)
	r.rm.MarkPendingOps(r.state.NumPendingOpsLocked())
}

//--------------------------------------------------------------------------
// Continuations and the follower op factory

// participantContinuation completes a participant op when consensus
// commits it. ConsensusCommitted runs under the replica lock, so the
// apply itself is pushed to the callback pool.
type participantContinuation struct {
	replica *TabletReplica
	op      *tablet.ParticipantOp
}

func (c *participantContinuation) ConsensusCommitted() error {
	pop := c.op
	return c.replica.callbackPool.Submit(func() {
		c.replica.applyParticipantOp(pop)
	})
}

func (c *participantContinuation) Abort() {
	pop := c.op
	if err := c.replica.callbackPool.Submit(func() {
		pop.Finish(tablet.OpAborted)
		pop.State().Response().Error = consensus.ErrAborted.Error()
	}); err != nil {
		pop.Finish(tablet.OpAborted)
		pop.State().Response().Error = consensus.ErrAborted.Error()
	}
}

// opFactory builds the replica-side driver for operations received from
// the leader.
type opFactory struct {
	replica *TabletReplica
}

var _ consensus.ReplicaOpFactory = (*opFactory)(nil)

// StartReplicaOp prepares and starts a follower-side op and attaches its
// continuation to the pending entry. Called with the replicate message
// already stamped and timestamped by the leader.
func (f *opFactory) StartReplicaOp(pending *consensus.PendingOp) error {
	msg := pending.Msg()
	if msg.Type != types.OpParticipant {
		// Non-participant ops complete through their replicate callback.
		return nil
	}
	r := f.replica
	req := *msg.Participant
	resp := new(types.ParticipantResponse)
	pstate := tablet.NewParticipantOpState(
		r.participant, r.mvcc, r.clock, &req, resp, r.Logger.With("module", "participant"))
	pstate.SetOpId(pending.Id())
	pop := tablet.NewParticipantOp(pstate, tablet.ReplicaDriver)

	if err := pop.Prepare(); err != nil {
		pop.Finish(tablet.OpAborted)
		return err
	}
	if err := pop.Start(msg.Timestamp); err != nil {
		return err
	}
	pending.SetContinuation(&participantContinuation{replica: r, op: pop})
	return nil
}

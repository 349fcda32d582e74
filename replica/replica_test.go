package replica

import (
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"

	"tabletraft/consensus"
	"tabletraft/store"
	"tabletraft/tablet"
	"tabletraft/types"
)

func singleVoterSeed(role types.PeerRole) *consensus.ConsensusMetadataPB {
	return &consensus.ConsensusMetadataPB{
		CommittedQuorum: types.Quorum{
			Seqno: 1,
			Peers: []types.QuorumPeer{{Uuid: "A", Role: role}},
		},
	}
}

func newTestReplica(t *testing.T, role types.PeerRole) *TabletReplica {
	metaStore := store.NewMetaStoreWithDB(memdb.NewDB(), log.TestingLogger())
	r, err := NewTabletReplica(
		ReplicaConfig{TabletID: "tablet-1", PeerUuid: "A"},
		metaStore,
		singleVoterSeed(role),
		log.TestingLogger(),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	return r
}

func txnState(r *TabletReplica, txnId int64) (tablet.TxnState, bool) {
	txn := r.TxnParticipant().GetTransaction(txnId)
	if txn == nil {
		return 0, false
	}
	return txn.State(), true
}

func waitTxnState(t *testing.T, r *TabletReplica, txnId int64, expected tablet.TxnState) {
	require.Eventually(t, func() bool {
		got, ok := txnState(r, txnId)
		return ok && got == expected
	}, time.Second, 5*time.Millisecond, "txn %d never reached %s", txnId, expected)
}

func TestReplicaStartStop(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	r := newTestReplica(t, types.RoleLeader)
	defer func() { _ = r.Stop() }()

	l, err := r.ConsensusState().LockForRead()
	require.NoError(t, err)
	assert.Equal(t, consensus.StateRunning, r.ConsensusState().StateLocked())
	assert.Equal(t, types.RoleLeader, r.ConsensusState().ActiveQuorumSnapshotLocked().SelfRole)
	l.Unlock()

	require.NoError(t, r.Stop())
}

func TestReplicaParticipantLifecycle(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	r := newTestReplica(t, types.RoleLeader)
	defer func() { _ = r.Stop() }()
	const txnId = int64(1)

	_, err := r.SubmitParticipantOp(&types.ParticipantRequest{
		Op: types.ParticipantOpPayload{TxnId: txnId, Type: types.ParticipantBeginTxn},
	})
	require.NoError(t, err)
	waitTxnState(t, r, txnId, tablet.TxnOpen)

	_, err = r.SubmitParticipantOp(&types.ParticipantRequest{
		Op: types.ParticipantOpPayload{TxnId: txnId, Type: types.ParticipantBeginCommit},
	})
	require.NoError(t, err)
	waitTxnState(t, r, txnId, tablet.TxnCommitInProgress)
	require.Eventually(t, func() bool {
		return r.TxnParticipant().GetTransaction(txnId).CommitOp() != nil
	}, time.Second, 5*time.Millisecond, "commit mvcc op never handed to the txn")
	assert.Equal(t, 1, r.Mvcc().InFlightCount())

	finalizeTs := r.Clock().LastAssignedTimestamp() + 5
	_, err = r.SubmitParticipantOp(&types.ParticipantRequest{
		Op: types.ParticipantOpPayload{
			TxnId: txnId, Type: types.ParticipantFinalizeCommit, FinalizedCommitTs: finalizeTs,
		},
	})
	require.NoError(t, err)
	waitTxnState(t, r, txnId, tablet.TxnCommitted)
	require.Eventually(t, func() bool {
		return r.Mvcc().InFlightCount() == 0
	}, time.Second, 5*time.Millisecond, "commit mvcc op never resolved")
	assert.True(t, r.Clock().LastAssignedTimestamp() >= finalizeTs)
}

func TestReplicaParticipantAbort(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	r := newTestReplica(t, types.RoleLeader)
	defer func() { _ = r.Stop() }()
	const txnId = int64(2)

	for _, opType := range []types.ParticipantOpType{types.ParticipantBeginTxn, types.ParticipantBeginCommit} {
		_, err := r.SubmitParticipantOp(&types.ParticipantRequest{
			Op: types.ParticipantOpPayload{TxnId: txnId, Type: opType},
		})
		require.NoError(t, err)
	}
	waitTxnState(t, r, txnId, tablet.TxnCommitInProgress)

	_, err := r.SubmitParticipantOp(&types.ParticipantRequest{
		Op: types.ParticipantOpPayload{TxnId: txnId, Type: types.ParticipantAbortTxn},
	})
	require.NoError(t, err)
	waitTxnState(t, r, txnId, tablet.TxnAborted)
	require.Eventually(t, func() bool {
		return r.Mvcc().InFlightCount() == 0
	}, time.Second, 5*time.Millisecond)

	// A finalize after abort fails validation and never consumes an index.
	resp, err := r.SubmitParticipantOp(&types.ParticipantRequest{
		Op: types.ParticipantOpPayload{
			TxnId: txnId, Type: types.ParticipantFinalizeCommit, FinalizedCommitTs: 999,
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, consensus.ErrIllegalState))
	assert.NotEmpty(t, resp.Error)
}

func TestReplicaRejectsSubmitOnFollower(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	r := newTestReplica(t, types.RoleFollower)
	defer func() { _ = r.Stop() }()

	_, err := r.SubmitParticipantOp(&types.ParticipantRequest{
		Op: types.ParticipantOpPayload{TxnId: 1, Type: types.ParticipantBeginTxn},
	})
	assert.True(t, errors.Is(err, consensus.ErrIllegalState))
}

func TestReplicaProposeConfigChange(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	r := newTestReplica(t, types.RoleLeader)
	defer func() { _ = r.Stop() }()

	newQuorum := types.Quorum{
		Seqno: 2,
		Peers: []types.QuorumPeer{
			{Uuid: "A", Role: types.RoleLeader},
			{Uuid: "B", Role: types.RoleFollower},
			{Uuid: "C", Role: types.RoleFollower},
		},
	}
	require.NoError(t, r.ProposeConfigChange(newQuorum))

	l, err := r.ConsensusState().LockForRead()
	require.NoError(t, err)
	assert.Equal(t, consensus.StateRunning, r.ConsensusState().StateLocked())
	assert.True(t, r.ConsensusState().CommittedQuorumLocked().Equals(newQuorum))
	assert.Equal(t, 2, r.ConsensusState().ActiveQuorumSnapshotLocked().MajoritySize)
	l.Unlock()
}

func TestReplicaAckPeerAdvancesCommit(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	r := newTestReplica(t, types.RoleLeader)
	defer func() { _ = r.Stop() }()

	require.NoError(t, r.ProposeConfigChange(types.Quorum{
		Seqno: 2,
		Peers: []types.QuorumPeer{
			{Uuid: "A", Role: types.RoleLeader},
			{Uuid: "B", Role: types.RoleFollower},
			{Uuid: "C", Role: types.RoleFollower},
		},
	}))

	const txnId = int64(5)
	_, err := r.SubmitParticipantOp(&types.ParticipantRequest{
		Op: types.ParticipantOpPayload{TxnId: txnId, Type: types.ParticipantBeginTxn},
	})
	require.NoError(t, err)

	// Majority is 2: the apply is not triggered by the local ack alone.
	l, lockErr := r.ConsensusState().LockForRead()
	require.NoError(t, lockErr)
	opId := r.ConsensusState().LastReceivedOpIdLocked()
	require.Equal(t, 1, r.ConsensusState().NumPendingOpsLocked())
	l.Unlock()

	tracker, err := r.TrackerFor(opId)
	require.NoError(t, err)
	require.NoError(t, r.AckPeer(tracker, "A"))
	if _, ok := txnState(r, txnId); ok {
		got, _ := txnState(r, txnId)
		require.Equal(t, tablet.TxnInitializing, got)
	}

	require.NoError(t, r.AckPeer(tracker, "B"))
	waitTxnState(t, r, txnId, tablet.TxnOpen)
}

func TestReplicaFollowerPath(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	metaStore := store.NewMetaStoreWithDB(memdb.NewDB(), log.TestingLogger())
	seed := &consensus.ConsensusMetadataPB{
		CommittedQuorum: types.Quorum{
			Seqno: 1,
			Peers: []types.QuorumPeer{
				{Uuid: "A", Role: types.RoleFollower},
				{Uuid: "B", Role: types.RoleLeader},
			},
		},
	}
	r, err := NewTabletReplica(
		ReplicaConfig{TabletID: "tablet-1", PeerUuid: "A"},
		metaStore, seed, log.TestingLogger(),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer func() { _ = r.Stop() }()

	const txnId = int64(9)
	opId := types.OpId{Term: 0, Index: 1}
	msg := &types.ReplicateMsg{
		Id:        &opId,
		Type:      types.OpParticipant,
		Timestamp: 42,
		Participant: &types.ParticipantRequest{
			Op: types.ParticipantOpPayload{TxnId: txnId, Type: types.ParticipantBeginTxn},
		},
	}
	require.NoError(t, r.HandleLeaderReplicate(msg))

	// The apply only triggers once the leader's commit index arrives.
	got, ok := txnState(r, txnId)
	require.True(t, ok)
	require.Equal(t, tablet.TxnInitializing, got)

	require.NoError(t, r.HandleLeaderCommit(opId))
	waitTxnState(t, r, txnId, tablet.TxnOpen)

	// A message failing Prepare is rejected and never admitted.
	badId := types.OpId{Term: 0, Index: 2}
	bad := &types.ReplicateMsg{
		Id:        &badId,
		Type:      types.OpParticipant,
		Timestamp: 43,
		Participant: &types.ParticipantRequest{
			Op: types.ParticipantOpPayload{TxnId: txnId, Type: types.ParticipantBeginTxn},
		},
	}
	err = r.HandleLeaderReplicate(bad)
	require.Error(t, err)
	l, lockErr := r.ConsensusState().LockForRead()
	require.NoError(t, lockErr)
	assert.Equal(t, 0, r.ConsensusState().NumPendingOpsLocked())
	l.Unlock()
}

func TestReplicaMetricSnapshot(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	r := newTestReplica(t, types.RoleLeader)
	defer func() { _ = r.Stop() }()
	require.True(t, r.Metrics().HasMetrics("REPLICA"))

	item := r.Metrics().GetMetrics("REPLICA")
	require.NotNil(t, item)
	assert.Contains(t, item.JSONString(), "RUNNING")
}

package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tabletraft/types"
)

func threePeerQuorum() types.Quorum {
	return types.Quorum{
		Seqno: 7,
		Peers: []types.QuorumPeer{
			{Uuid: "A", Role: types.RoleLeader},
			{Uuid: "B", Role: types.RoleFollower},
			{Uuid: "C", Role: types.RoleFollower},
			{Uuid: "D", Role: types.RoleLearner},
		},
	}
}

func TestBuildQuorumSnapshot(t *testing.T) {
	qs := BuildQuorumSnapshot(threePeerQuorum(), "B")

	assert.Equal(t, types.RoleFollower, qs.SelfRole)
	assert.Equal(t, "A", qs.LeaderUuid)
	assert.Equal(t, 3, len(qs.VotingPeers))
	assert.Equal(t, 2, qs.MajoritySize)
	assert.Equal(t, 4, qs.QuorumSize)
	assert.Equal(t, int64(7), qs.ConfigSeqno)

	assert.True(t, qs.IsVotingPeer("A"))
	assert.True(t, qs.IsVotingPeer("C"))
	assert.False(t, qs.IsVotingPeer("D"))
}

func TestBuildQuorumSnapshotNonParticipant(t *testing.T) {
	qs := BuildQuorumSnapshot(threePeerQuorum(), "Z")
	assert.Equal(t, types.RoleNonParticipant, qs.SelfRole)
}

func TestBuildQuorumSnapshotLearnerSelf(t *testing.T) {
	qs := BuildQuorumSnapshot(threePeerQuorum(), "D")
	assert.Equal(t, types.RoleLearner, qs.SelfRole)
	assert.False(t, qs.IsVotingPeer("D"))
}

func TestBuildQuorumSnapshotEmptyQuorum(t *testing.T) {
	qs := BuildQuorumSnapshot(types.Quorum{}, "A")
	// Degenerate but representable.
	assert.Equal(t, 1, qs.MajoritySize)
	assert.Equal(t, 0, qs.QuorumSize)
	assert.Equal(t, "", qs.LeaderUuid)
}

package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletraft/types"
)

func TestLoadConsensusMetadataSeedsFreshStore(t *testing.T) {
	store := newMemMetaStore()
	seed := &ConsensusMetadataPB{
		CurrentTerm:     3,
		CommittedQuorum: types.Quorum{Seqno: 1},
	}

	cmeta, err := LoadConsensusMetadata(store, "tablet-1", seed)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cmeta.PB().CurrentTerm)
	assert.Equal(t, 1, store.nFlushes, "the seed record is flushed immediately")

	// A second load ignores the seed and returns the stored record.
	other := &ConsensusMetadataPB{CurrentTerm: 99}
	cmeta2, err := LoadConsensusMetadata(store, "tablet-1", other)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cmeta2.PB().CurrentTerm)
}

func TestConsensusMetadataMutateStaging(t *testing.T) {
	store := newMemMetaStore()
	cmeta, err := LoadConsensusMetadata(store, "tablet-1", nil)
	require.NoError(t, err)

	require.NoError(t, cmeta.Mutate(func(pb *ConsensusMetadataPB) {
		pb.CurrentTerm = 4
		pb.VotedFor = "B"
	}))
	assert.Equal(t, uint64(4), cmeta.PB().CurrentTerm)

	// A failed flush leaves the installed record untouched.
	store.failing = true
	err = cmeta.Mutate(func(pb *ConsensusMetadataPB) {
		pb.CurrentTerm = 5
		pb.VotedFor = ""
	})
	require.Error(t, err)
	assert.Equal(t, uint64(4), cmeta.PB().CurrentTerm)
	assert.Equal(t, "B", cmeta.PB().VotedFor)
}

func TestConsensusMetadataCopyIsDeep(t *testing.T) {
	pb := &ConsensusMetadataPB{
		CurrentTerm: 1,
		CommittedQuorum: types.Quorum{
			Seqno: 1,
			Peers: []types.QuorumPeer{{Uuid: "A", Role: types.RoleLeader}},
		},
	}
	cp := pb.Copy()
	cp.CommittedQuorum.Peers[0].Uuid = "Z"
	assert.Equal(t, "A", pb.CommittedQuorum.Peers[0].Uuid)
}

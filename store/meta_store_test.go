package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"

	"tabletraft/consensus"
	"tabletraft/types"
)

func newTestMetaStore() *MetaStore {
	return NewMetaStoreWithDB(memdb.NewDB(), log.TestingLogger())
}

func testRecord() *consensus.ConsensusMetadataPB {
	return &consensus.ConsensusMetadataPB{
		CurrentTerm: 5,
		VotedFor:    "B",
		CommittedQuorum: types.Quorum{
			Seqno: 3,
			Peers: []types.QuorumPeer{
				{Uuid: "A", Role: types.RoleLeader},
				{Uuid: "B", Role: types.RoleFollower},
			},
		},
	}
}

func TestMetaStoreRoundTrip(t *testing.T) {
	ms := newTestMetaStore()

	loaded, err := ms.Load("tablet-1")
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing record loads as nil")

	pb := testRecord()
	require.NoError(t, ms.Flush("tablet-1", pb))

	loaded, err = ms.Load("tablet-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(5), loaded.CurrentTerm)
	assert.Equal(t, "B", loaded.VotedFor)
	assert.True(t, pb.CommittedQuorum.Equals(loaded.CommittedQuorum))
}

func TestMetaStoreOverwrite(t *testing.T) {
	ms := newTestMetaStore()

	pb := testRecord()
	require.NoError(t, ms.Flush("tablet-1", pb))

	pb.CurrentTerm = 6
	pb.VotedFor = ""
	require.NoError(t, ms.Flush("tablet-1", pb))

	loaded, err := ms.Load("tablet-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), loaded.CurrentTerm)
	assert.False(t, loaded.HasVotedFor())
}

func TestMetaStoreTablets(t *testing.T) {
	ms := newTestMetaStore()

	require.NoError(t, ms.Flush("tablet-1", testRecord()))
	require.NoError(t, ms.Flush("tablet-2", testRecord()))

	ids, err := ms.Tablets()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tablet-1", "tablet-2"}, ids)
}

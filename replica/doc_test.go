package replica

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletraft/types"
)

func TestReplicaDocSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.json")

	doc := ReplicaDoc{
		TabletID: "tablet-1",
		PeerUuid: "peer-abc",
		Quorum: types.Quorum{
			Seqno: 1,
			Peers: []types.QuorumPeer{{Uuid: "peer-abc", Role: types.RoleCandidate}},
		},
	}
	require.NoError(t, doc.SaveAs(path))

	loaded, err := LoadReplicaDoc(path)
	require.NoError(t, err)
	assert.Equal(t, doc.TabletID, loaded.TabletID)
	assert.Equal(t, doc.PeerUuid, loaded.PeerUuid)
	assert.True(t, doc.Quorum.Equals(loaded.Quorum))
}

func TestReplicaDocValidateBasic(t *testing.T) {
	doc := ReplicaDoc{
		TabletID: "tablet-1",
		PeerUuid: "peer-abc",
		Quorum: types.Quorum{
			Seqno: 1,
			Peers: []types.QuorumPeer{{Uuid: "peer-abc", Role: types.RoleLeader}},
		},
	}
	assert.NoError(t, doc.ValidateBasic())

	noTablet := doc
	noTablet.TabletID = ""
	assert.Error(t, noTablet.ValidateBasic())

	noPeer := doc
	noPeer.PeerUuid = ""
	assert.Error(t, noPeer.ValidateBasic())
}

func TestLoadReplicaDocMissingFile(t *testing.T) {
	_, err := LoadReplicaDoc(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

package replica

import (
	"io/ioutil"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/tempfile"

	"tabletraft/types"
)

// ReplicaDoc is the on-disk bootstrap document of one tablet replica: its
// identity and the initial quorum. It seeds the consensus metadata the
// first time the replica starts; afterwards the durable record in the
// metadata store is authoritative.
type ReplicaDoc struct {
	TabletID string       `json:"tablet_id"`
	PeerUuid string       `json:"peer_uuid"`
	Quorum   types.Quorum `json:"quorum"`
}

func (doc ReplicaDoc) ValidateBasic() error {
	if doc.TabletID == "" {
		return errors.New("replica doc has empty tablet id")
	}
	if doc.PeerUuid == "" {
		return errors.New("replica doc has empty peer uuid")
	}
	return doc.Quorum.ValidateBasic()
}

// SaveAs writes the document atomically to path.
func (doc ReplicaDoc) SaveAs(path string) error {
	jsonBytes, err := tmjson.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(path, jsonBytes, 0600)
}

// LoadReplicaDoc reads and validates the document at path.
func LoadReplicaDoc(path string) (*ReplicaDoc, error) {
	jsonBytes, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := new(ReplicaDoc)
	if err := tmjson.Unmarshal(jsonBytes, doc); err != nil {
		return nil, errors.Wrapf(err, "error reading replica doc from %v", path)
	}
	if err := doc.ValidateBasic(); err != nil {
		return nil, err
	}
	return doc, nil
}

package consensus

import (
	"github.com/pkg/errors"

	"tabletraft/types"
)

// ConsensusMetadataPB is the durable consensus record of one tablet
// replica: the current term, the vote cast in that term (if any) and the
// last committed quorum.
type ConsensusMetadataPB struct {
	CurrentTerm     uint64       `json:"current_term"`
	VotedFor        string       `json:"voted_for,omitempty"`
	CommittedQuorum types.Quorum `json:"committed_quorum"`
}

func (pb *ConsensusMetadataPB) HasVotedFor() bool {
	return pb.VotedFor != ""
}

func (pb *ConsensusMetadataPB) Copy() *ConsensusMetadataPB {
	cp := *pb
	cp.CommittedQuorum = pb.CommittedQuorum.Copy()
	return &cp
}

// MetaStore persists consensus metadata records, one per tablet. Flush
// must be atomic: a record is either fully written or not written at all.
type MetaStore interface {
	// Load returns the record for tabletID, or nil if none was ever
	// flushed.
	Load(tabletID string) (*ConsensusMetadataPB, error)
	Flush(tabletID string, pb *ConsensusMetadataPB) error
}

// ConsensusMetadata owns the in-memory copy of one replica's durable
// record and mediates every mutation through the flush-then-install
// discipline: a change is staged on a scratch copy, flushed, and only then
// made observable. A failed flush leaves the in-memory record untouched.
type ConsensusMetadata struct {
	store    MetaStore
	tabletID string
	pb       *ConsensusMetadataPB
}

// LoadConsensusMetadata reads the record for tabletID from the store. If
// the store holds no record yet, a fresh one is created from seed and
// flushed.
func LoadConsensusMetadata(store MetaStore, tabletID string, seed *ConsensusMetadataPB) (*ConsensusMetadata, error) {
	pb, err := store.Load(tabletID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading consensus metadata for tablet %s", tabletID)
	}
	if pb == nil {
		if seed == nil {
			seed = &ConsensusMetadataPB{}
		}
		pb = seed.Copy()
		if err := store.Flush(tabletID, pb); err != nil {
			return nil, errors.Wrapf(err, "flushing seed consensus metadata for tablet %s", tabletID)
		}
	}
	return &ConsensusMetadata{store: store, tabletID: tabletID, pb: pb}, nil
}

// PB returns the current record. Callers must treat it as read-only.
func (cm *ConsensusMetadata) PB() *ConsensusMetadataPB {
	return cm.pb
}

// Mutate applies fn to a scratch copy of the record, flushes it, and
// installs the copy on success. On flush failure the previous record
// stays in force and the error is returned.
func (cm *ConsensusMetadata) Mutate(fn func(pb *ConsensusMetadataPB)) error {
	staged := cm.pb.Copy()
	fn(staged)
	if err := cm.store.Flush(cm.tabletID, staged); err != nil {
		return errors.Wrapf(err, "flushing consensus metadata for tablet %s", cm.tabletID)
	}
	cm.pb = staged
	return nil
}

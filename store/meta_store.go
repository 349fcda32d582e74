package store

import (
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"

	"tabletraft/consensus"
)

const metaKeyPrefix = "cmeta/"

// NewMetaStore opens (or creates) a levelDB-backed metadata store in dir.
func NewMetaStore(name, dir string, logger log.Logger) (*MetaStore, error) {
	levelDB, err := leveldb.NewDB(name, dir)
	if err != nil {
		return nil, err
	}
	return NewMetaStoreWithDB(levelDB, logger), nil
}

// NewMetaStoreWithDB wraps an existing tm-db handle. Tests pass a memdb.
func NewMetaStoreWithDB(db tmdb.DB, logger log.Logger) *MetaStore {
	return &MetaStore{db: db, logger: logger}
}

// MetaStore persists one consensus-metadata record per tablet replica in a
// tm-db key-value store. Each record is written with a single Set, which
// the backends guarantee to be atomic.
type MetaStore struct {
	db     tmdb.DB
	logger log.Logger
}

var _ consensus.MetaStore = (*MetaStore)(nil)

func (ms *MetaStore) Load(tabletID string) (*consensus.ConsensusMetadataPB, error) {
	bz, err := ms.db.Get(metaKey(tabletID))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, nil
	}
	pb := new(consensus.ConsensusMetadataPB)
	if err := tmjson.Unmarshal(bz, pb); err != nil {
		return nil, err
	}
	return pb, nil
}

func (ms *MetaStore) Flush(tabletID string, pb *consensus.ConsensusMetadataPB) error {
	bz, err := tmjson.Marshal(pb)
	if err != nil {
		return err
	}
	if err := ms.db.SetSync(metaKey(tabletID), bz); err != nil {
		return err
	}
	ms.logger.Debug("flushed consensus metadata", "tablet", tabletID, "term", pb.CurrentTerm)
	return nil
}

// Tablets lists the tablet ids with a stored record.
func (ms *MetaStore) Tablets() ([]string, error) {
	itr, err := ms.db.Iterator([]byte(metaKeyPrefix), []byte(metaKeyPrefix+"\xff"))
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var ids []string
	for ; itr.Valid(); itr.Next() {
		ids = append(ids, string(itr.Key()[len(metaKeyPrefix):]))
	}
	return ids, itr.Error()
}

func (ms *MetaStore) Close() error {
	return ms.db.Close()
}

func metaKey(tabletID string) []byte {
	return []byte(metaKeyPrefix + tabletID)
}

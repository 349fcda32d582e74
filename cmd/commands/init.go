package commands

import (
	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmrand "github.com/tendermint/tendermint/libs/rand"

	"tabletraft/replica"
	"tabletraft/store"
	"tabletraft/types"
)

// InitFilesCmd initialises a fresh tablet replica home: the bootstrap
// document and the metadata database.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a tablet replica home directory",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(cfg *Config) error {
	if err := tmos.EnsureDir(cfg.Home, 0700); err != nil {
		return err
	}
	if err := tmos.EnsureDir(cfg.DataDir(), 0700); err != nil {
		return err
	}

	docFile := cfg.ReplicaDocFile()
	var doc *replica.ReplicaDoc
	if tmos.FileExists(docFile) {
		var err error
		doc, err = replica.LoadReplicaDoc(docFile)
		if err != nil {
			return err
		}
		logger.Info("Found replica doc", "path", docFile)
	} else {
		peerUuid := "peer-" + tmrand.Str(12)
		doc = &replica.ReplicaDoc{
			TabletID: cfg.TabletID,
			PeerUuid: peerUuid,
			Quorum: types.Quorum{
				Seqno: 1,
				Peers: []types.QuorumPeer{
					{Uuid: peerUuid, Role: types.RoleCandidate},
				},
			},
		}
		if err := doc.SaveAs(docFile); err != nil {
			return err
		}
		logger.Info("Generated replica doc", "path", docFile, "peer", peerUuid)
	}

	metaStore, err := store.NewMetaStore("cmeta", cfg.DataDir(), logger)
	if err != nil {
		return err
	}
	defer metaStore.Close()

	pb, err := metaStore.Load(doc.TabletID)
	if err != nil {
		return err
	}
	if pb != nil {
		logger.Info("Found consensus metadata", "tablet", doc.TabletID, "term", pb.CurrentTerm)
		return nil
	}
	if err := metaStore.Flush(doc.TabletID, seedMetadata(doc)); err != nil {
		return err
	}
	logger.Info("Generated consensus metadata", "tablet", doc.TabletID)
	return nil
}

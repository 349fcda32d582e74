package commands

import (
	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	"tabletraft/consensus"
	"tabletraft/replica"
	"tabletraft/store"
)

// RunReplicaCmd starts the tablet replica and blocks until a signal.
var RunReplicaCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a tablet replica",
	RunE:  runReplica,
}

func runReplica(cmd *cobra.Command, args []string) error {
	doc, err := replica.LoadReplicaDoc(config.ReplicaDocFile())
	if err != nil {
		return err
	}

	metaStore, err := store.NewMetaStore("cmeta", config.DataDir(), logger)
	if err != nil {
		return err
	}

	r, err := replica.NewTabletReplica(
		replica.ReplicaConfig{TabletID: doc.TabletID, PeerUuid: doc.PeerUuid},
		metaStore,
		seedMetadata(doc),
		logger,
	)
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}

	tmos.TrapSignal(logger, func() {
		if err := r.Stop(); err != nil {
			logger.Error("failed to stop replica", "err", err)
		}
		if err := metaStore.Close(); err != nil {
			logger.Error("failed to close metadata store", "err", err)
		}
	})

	// Run forever.
	select {}
}

func seedMetadata(doc *replica.ReplicaDoc) *consensus.ConsensusMetadataPB {
	return &consensus.ConsensusMetadataPB{
		CurrentTerm:     0,
		CommittedQuorum: doc.Quorum.Copy(),
	}
}

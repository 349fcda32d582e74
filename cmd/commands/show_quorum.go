package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"

	"tabletraft/store"
)

// ShowQuorumCmd prints the committed quorum recorded in the metadata
// store.
var ShowQuorumCmd = &cobra.Command{
	Use:     "show-quorum",
	Aliases: []string{"show_quorum"},
	Short:   "Show the committed quorum of the tablet replica",
	RunE:    showQuorum,
}

func showQuorum(cmd *cobra.Command, args []string) error {
	metaStore, err := store.NewMetaStore("cmeta", config.DataDir(), logger)
	if err != nil {
		return err
	}
	defer metaStore.Close()

	pb, err := metaStore.Load(config.TabletID)
	if err != nil {
		return err
	}
	if pb == nil {
		return fmt.Errorf("no consensus metadata for tablet %s", config.TabletID)
	}

	bz, err := tmjson.MarshalIndent(pb.CommittedQuorum, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bz))
	return nil
}

package main

import (
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "tabletraft/cmd/commands"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.RunReplicaCmd,
		cmd.ShowQuorumCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	baseCmd := cli.PrepareBaseCmd(rootCmd, "TR", os.ExpandEnv(filepath.Join("$HOME", ".tabletraft")))
	if err := baseCmd.Execute(); err != nil {
		panic(err)
	}
}

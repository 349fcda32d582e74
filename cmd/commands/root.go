package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/libs/cli"
	"github.com/tendermint/tendermint/libs/log"
)

var (
	config = DefaultConfig()
	logger = log.NewTMLogger(log.NewSyncWriter(os.Stdout))
)

// Config is the CLI-level configuration, populated from flags and the
// environment through viper.
type Config struct {
	Home     string `mapstructure:"home"`
	TabletID string `mapstructure:"tablet_id"`
	Verbose  bool   `mapstructure:"verbose"`
}

func DefaultConfig() *Config {
	return &Config{
		TabletID: "tablet-0000",
	}
}

func (cfg *Config) DataDir() string {
	return filepath.Join(cfg.Home, "data")
}

func (cfg *Config) ReplicaDocFile() string {
	return filepath.Join(cfg.Home, "replica.json")
}

var RootCmd = &cobra.Command{
	Use:   "tabletraft",
	Short: "raft-based replication core for a distributed tablet store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.Unmarshal(config); err != nil {
			return err
		}
		config.Home = viper.GetString(cli.HomeFlag)
		if config.Verbose {
			logger = log.NewFilter(logger, log.AllowDebug())
		} else {
			logger = log.NewFilter(logger, log.AllowInfo())
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().String("tablet_id", config.TabletID, "tablet replica to operate on")
	RootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	_ = viper.BindPFlag("tablet_id", RootCmd.PersistentFlags().Lookup("tablet_id"))
	_ = viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
}

package main

import (
	"os"
	"path/filepath"

	cmd "github.com/232425wxy/dactr/cmd/commands"
	cfg "github.com/232425wxy/dactr/config"
	"github.com/232425wxy/dactr/libs/cli"
	nm "github.com/232425wxy/dactr/node"
)

func main() {
	nodeFunc := nm.DefaultNewNode
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.RegisterAppCmd,
		cmd.ListAppsCmd,
		cmd.CheckTxCmd,
		cmd.BlockLengthCmd,
		cmd.EncodeTxCmd,
	)

	rootCmd.AddCommand(cmd.NewRunNodeCmd(nodeFunc))

	command := cli.PrepareBaseCmd(rootCmd, "DA", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultHomeDir)))
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

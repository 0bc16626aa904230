package commands

import (
	"github.com/spf13/cobra"

	nm "github.com/232425wxy/dactr/node"
)

// InitFilesCmd 初始化 home 目录：写入默认的 config.toml，并注册配置中的创世应用
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the node home directory and genesis applications",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	n, err := nm.DefaultNewNode(config, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	keys, err := n.Registry().List()
	if err != nil {
		return err
	}
	for _, k := range keys {
		logger.Infow("Found application", "app_id", k.ID, "key", k.Key)
	}
	logger.Infow("Initialized node", "home", config.RootDir, "config", config.ConfigFile())
	return nil
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/232425wxy/dactr/config"
	"github.com/232425wxy/dactr/libs/log"
)

// 所有子命令共享的配置和日志记录器，在 RootCmd 的 PersistentPreRunE 中根据 config.toml 重新生成
var (
	config = cfg.DefaultConfig()
	logger = log.NewCRLogger(config.LogLevel)
)

func init() {
	RootCmd.PersistentFlags().String("log_level", config.LogLevel, "log level: debug | info | warn | error")
	RootCmd.PersistentFlags().String("chain_id", config.ChainID, "override the chain_id in config.toml")
}

// ParseConfig 把 viper 中的 config.toml、环境变量 DA_* 以及命令行参数合并到默认配置上，
// 在主目录下补齐缺失的目录和 config.toml，然后检查网格尺寸和创世应用等配置是否合法
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	conf.SetRoot(conf.RootDir)
	cfg.EnsureRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in %s: %w", conf.ConfigFile(), err)
	}
	return conf, nil
}

// RootCmd 是 dactr 的根命令
var RootCmd = &cobra.Command{
	Use:   "dactr",
	Short: "Data availability node with per-application block space accounting",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if config, err = ParseConfig(); err != nil {
			return err
		}
		logger = log.NewCRLogger(config.LogLevel)
		logger.Debugw("Loaded config", "home", config.RootDir, "chain_id", config.ChainID,
			"block_length", config.DataAvailability.BlockLength().String())
		return nil
	},
}

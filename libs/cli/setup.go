package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	HomeFlag  = "home"
	TraceFlag = "trace"
)

// Executable is the minimal interface to *cobra.Command, so we can
// wrap if desired before the test
type Executable interface {
	Execute() error
}

// PrepareBaseCmd 为根命令加上 --home 和 --trace 两个全局参数，并在任何子命令执行之前：
//	1. 读取以 envPrefix 开头的环境变量，例如 DA_HOME、DA_LOG_LEVEL
//	2. 把命令行参数绑定到 viper，并从 home 目录中读取 config.toml
// 子命令原有的 PersistentPreRunE 在这之后执行
func PrepareBaseCmd(cmd *cobra.Command, envPrefix, defaultHome string) Executor {
	cobra.OnInitialize(func() { initEnv(envPrefix) })
	cmd.PersistentFlags().StringP(HomeFlag, "", defaultHome, "directory for config and data")
	cmd.PersistentFlags().Bool(TraceFlag, false, "print out full stack trace on errors")
	cmd.PersistentPreRunE = concatCobraCmdFuncs(bindFlagsLoadViper, cmd.PersistentPreRunE)
	return Executor{cmd, os.Exit}
}

// initEnv 让 viper 读取带有 prefix 前缀的环境变量，配置项中的 "." 和 "-" 对应环境变量中的 "_"，
// 例如 mempool.cache_size 对应 DA_MEMPOOL_CACHE_SIZE
func initEnv(prefix string) {
	copyEnvVars(prefix)

	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// copyEnvVars 把缺少下划线的环境变量补上下划线，例如 prefix 为 "DA" 时，"DAHOME=/data" 会被复制为 "DA_HOME=/data"
func copyEnvVars(prefix string) {
	prefix = strings.ToUpper(prefix)
	ps := prefix + "_"
	for _, e := range os.Environ() {
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := kv[0], kv[1]
		if strings.HasPrefix(k, prefix) && !strings.HasPrefix(k, ps) {
			os.Setenv(strings.Replace(k, prefix, ps, 1), v)
		}
	}
}

// Executor wraps the cobra Command with a nicer Execute method
type Executor struct {
	*cobra.Command
	Exit func(int) // this is os.Exit by default, override in tests
}

// ExitCoder 由需要自定义退出码的错误实现
type ExitCoder interface {
	ExitCode() int
}

// Execute 执行根命令，出错时把错误打印到标准错误输出并以非零的退出码退出，
// 指定了 --trace 时同时打印调用栈
func (e Executor) Execute() error {
	e.SilenceUsage = true
	e.SilenceErrors = true
	err := e.Command.Execute()
	if err != nil {
		if viper.GetBool(TraceFlag) {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			fmt.Fprintf(os.Stderr, "ERROR: %v\n%s\n", err, buf)
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}

		exitCode := 1
		if ec, ok := err.(ExitCoder); ok {
			exitCode = ec.ExitCode()
		}
		e.Exit(exitCode)
	}
	return err
}

type cobraCmdFunc func(cmd *cobra.Command, args []string) error

// concatCobraCmdFuncs 把多个 cobraCmdFunc 串成一个，按顺序执行，遇到错误就停止
func concatCobraCmdFuncs(fs ...cobraCmdFunc) cobraCmdFunc {
	return func(cmd *cobra.Command, args []string) error {
		for _, f := range fs {
			if f == nil {
				continue
			}
			if err := f(cmd, args); err != nil {
				return err
			}
		}
		return nil
	}
}

// bindFlagsLoadViper 把命令行参数绑定到 viper，然后依次在 $HOME 和 $HOME/config 中查找 config.toml，
// 找不到配置文件不算错误，此时使用默认配置
func bindFlagsLoadViper(cmd *cobra.Command, args []string) error {
	// cmd.Flags() 包括来自此命令的参数和来自父命令的所有持久参数
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	homeDir := viper.GetString(HomeFlag)
	viper.Set(HomeFlag, homeDir)
	viper.SetConfigName("config")
	viper.AddConfigPath(homeDir)
	viper.AddConfigPath(filepath.Join(homeDir, "config"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	sros "github.com/232425wxy/dactr/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot 创建主目录以及其中的 config、data 目录，config.toml 不存在时写入默认配置，
// 任何一步失败都会 panic
func EnsureRoot(rootDir string) {
	err := sros.EnsureDirs(DefaultDirPerm,
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	)
	if err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if !sros.FileExists(configFilePath) {
		WriteConfigFile(configFilePath, DefaultConfig())
	}
}

// WriteConfigFile 用模板渲染 config 并写入 configFilePath
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer
	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}
	if err := sros.WriteFileAtomic(configFilePath, buffer.Bytes(), 0644); err != nil {
		panic(fmt.Sprintf("failed to write %s: %v", configFilePath, err))
	}
}

const defaultConfigTemplate = `# 这是一个 TOML 配置文件.
# 要想了解更多信息，请参考：https://github.com/toml-lang/toml

# 注意: 该配置文件里的所有路径都是相对路径，相对于主目录：“$HOME/.dactr”（默认情况下），
# 但也可以通过环境变量 “$DA_HOME” 或者命令行参数 “--home” 来改变主目录.

######################################################################
###                    (BaseConfig)  基本配置选项                    ###
######################################################################

# 区块链的 ID
chain_id = "{{ .BaseConfig.ChainID }}"

# 数据库后端: goleveldb | memdb | cleveldb | boltdb | rocksdb | badgerdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# 存放数据库的目录
db_dir = "{{ js .BaseConfig.DBPath }}"

# 日志的输出级别
log_level = "{{ .BaseConfig.LogLevel }}"

#######################################################
###           (MempoolConfig)  交易池配置选项           ###
#######################################################
[mempool]

# 交易池中的最大交易数
size = {{ .Mempool.Size }}

# 交易池中所有交易的总大小上限，只计算交易本身的字节数
max_txs_bytes = {{ .Mempool.MaxTxsBytes }}

# 用于过滤已经见过的交易的缓存大小，单位是：交易个数
cache_size = {{ .Mempool.CacheSize }}

# 单笔交易的最大大小
max_tx_bytes = {{ .Mempool.MaxTxBytes }}

# 每个区块构建结束后，是否重新检查交易池里剩下的交易
recheck = {{ .Mempool.Recheck }}

#######################################################
###     (DataAvailabilityConfig)  数据可用性配置选项     ###
#######################################################
[data_availability]

# 数据可用性网格的行数和列数，必须是 2 的幂，区块最多能容纳 block_rows * block_cols 个 scalar
block_rows = {{ .DataAvailability.BlockRows }}
block_cols = {{ .DataAvailability.BlockCols }}

# 一个 scalar 的字节数，目前只支持 32
chunk_size = {{ .DataAvailability.ChunkSize }}

# 应用名的最大长度
max_app_key_length = {{ .DataAvailability.MaxAppKeyLength }}

# 创世时注册的应用，依次分配 AppID 0, 1, 2...
genesis_app_keys = [{{ range $i, $k := .DataAvailability.GenesisAppKeys }}{{ if $i }}, {{ end }}"{{ js $k }}"{{ end }}]
`

package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/232425wxy/dactr/types"
)

const (
	// DefaultLogLevel 默认的日志记录等级为 info，因此默认情况下，不会记录 debug 日志
	DefaultLogLevel = "info"

	// SystemAppKey 是 AppID 0 对应的应用名
	SystemAppKey = "Data Avail"
)

var (
	DefaultHomeDir   = ".dactr"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName) // config/config.toml
)

// Config 定义了节点的顶级配置
type Config struct {
	// 顶级选项使用匿名结构 squash 标志可将 BaseConfig 里的字段提到 Config 中
	BaseConfig `mapstructure:",squash"`

	Mempool          *MempoolConfig          `mapstructure:"mempool"`
	DataAvailability *DataAvailabilityConfig `mapstructure:"data_availability"`
}

// DefaultConfig 为节点生成一个默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:       DefaultBaseConfig(),
		Mempool:          DefaultMempoolConfig(),
		DataAvailability: DefaultDataAvailabilityConfig(),
	}
}

// SetRoot 为所有种类的配置文件存放地址设置根目录
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic 测试所有种类的配置是否正确
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Mempool.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [mempool] section: %w", err)
	}
	if err := cfg.DataAvailability.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [data_availability] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig 为节点定义了基础配置信息
type BaseConfig struct {
	// ChainID 区块链ID
	ChainID string `mapstructure:"chain_id"`

	// RootDir 是所有数据的根目录。这应该在viper中设置，这样它就可以 unmarshal 到这个结构中
	RootDir string `mapstructure:"home"`

	// 数据库后端: goleveldb | memdb | cleveldb | boltdb | rocksdb | badgerdb
	DBBackend string `mapstructure:"db_backend"`

	// 存放数据库的相对目录
	DBPath string `mapstructure:"db_dir"`

	// 日志输出等级
	LogLevel string `mapstructure:"log_level"`
}

// DefaultBaseConfig 为节点返回一个默认的基础配置信息
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		LogLevel:  DefaultLogLevel,
		DBBackend: "goleveldb",
		DBPath:    defaultDataDir,
	}
}

// DBDir 返回数据库目录存放位置的绝对路径
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ConfigFile 返回 config.toml 的绝对路径
func (cfg BaseConfig) ConfigFile() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

func (cfg BaseConfig) ValidateBasic() error {
	if cfg.DBBackend == "" {
		return errors.New("db_backend can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MempoolConfig

// MempoolConfig 为交易池定义配置选项
type MempoolConfig struct {
	// 交易池中的最大交易数
	Size int `mapstructure:"size"`
	// 限制交易池中所有交易的总大小
	MaxTxsBytes int64 `mapstructure:"max_txs_bytes"`
	// CacheSize 用于过滤已经见过的交易的缓存大小
	CacheSize int `mapstructure:"cache_size"`
	// 单笔交易的最大大小
	MaxTxBytes int `mapstructure:"max_tx_bytes"`
	// Recheck 每个区块构建结束后，是否用新的状态重新检查交易池里剩下的交易
	Recheck bool `mapstructure:"recheck"`
}

// DefaultMempoolConfig 为交易池返回默认配置选项
func DefaultMempoolConfig() *MempoolConfig {
	return &MempoolConfig{
		Size:        5000,
		MaxTxsBytes: 1024 * 1024 * 1024, // 1GB
		CacheSize:   10000,
		MaxTxBytes:  1024 * 1024, // 1MB
		Recheck:     true,
	}
}

// ValidateBasic 执行基本验证(检查参数边界等)，如果任何检查失败，返回一个错误
func (cfg *MempoolConfig) ValidateBasic() error {
	if cfg.Size < 0 {
		return errors.New("size can't be negative")
	}
	if cfg.MaxTxsBytes < 0 {
		return errors.New("max_txs_bytes can't be negative")
	}
	if cfg.CacheSize < 0 {
		return errors.New("cache_size can't be negative")
	}
	if cfg.MaxTxBytes < 0 {
		return errors.New("max_tx_bytes can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// DataAvailabilityConfig

// DataAvailabilityConfig 定义数据可用性网格的初始尺寸以及应用注册相关的参数
type DataAvailabilityConfig struct {
	// 网格的行数和列数，都必须是 2 的幂
	BlockRows uint32 `mapstructure:"block_rows"`
	BlockCols uint32 `mapstructure:"block_cols"`
	ChunkSize uint32 `mapstructure:"chunk_size"`

	// 应用名的最大长度，单位是：字节
	MaxAppKeyLength int `mapstructure:"max_app_key_length"`

	// 创世时注册的应用，按顺序依次分配 AppID 0, 1, 2...，第一个必须是 SystemAppKey
	GenesisAppKeys []string `mapstructure:"genesis_app_keys"`
}

// DefaultDataAvailabilityConfig 返回默认的数据可用性配置
func DefaultDataAvailabilityConfig() *DataAvailabilityConfig {
	return &DataAvailabilityConfig{
		BlockRows:       types.DefaultBlockRows,
		BlockCols:       types.DefaultBlockCols,
		ChunkSize:       types.ChunkSize,
		MaxAppKeyLength: 64,
		GenesisAppKeys:  []string{SystemAppKey},
	}
}

// BlockLength 返回配置的网格尺寸
func (cfg *DataAvailabilityConfig) BlockLength() types.BlockLength {
	return types.BlockLength{Rows: cfg.BlockRows, Cols: cfg.BlockCols, ChunkSize: cfg.ChunkSize}
}

// ValidateBasic 执行基本验证(检查参数边界等)，如果任何检查失败，返回一个错误
func (cfg *DataAvailabilityConfig) ValidateBasic() error {
	if err := cfg.BlockLength().ValidateBasic(); err != nil {
		return err
	}
	if cfg.MaxAppKeyLength <= 0 {
		return errors.New("max_app_key_length must be positive")
	}
	if len(cfg.GenesisAppKeys) == 0 || cfg.GenesisAppKeys[0] != SystemAppKey {
		return fmt.Errorf("genesis_app_keys must start with %q", SystemAppKey)
	}
	seen := make(map[string]struct{}, len(cfg.GenesisAppKeys))
	for _, key := range cfg.GenesisAppKeys {
		if key == "" || len(key) > cfg.MaxAppKeyLength {
			return fmt.Errorf("invalid genesis app key %q", key)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("duplicate genesis app key %q", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// rootify 如果 path 是绝对路径，则直接返回，否则将其与 root 拼接
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	dbm "github.com/tendermint/tm-db"

	cfg "github.com/232425wxy/dactr/config"
	"github.com/232425wxy/dactr/extension"
	"github.com/232425wxy/dactr/libs/log"
	"github.com/232425wxy/dactr/libs/service"
	mempl "github.com/232425wxy/dactr/mempool"
	"github.com/232425wxy/dactr/registry"
	sm "github.com/232425wxy/dactr/state"
	"github.com/232425wxy/dactr/types"
)

//------------------------------------------------------------------------------

// DBContext 指定用于加载新 DB 的配置信息
type DBContext struct {
	ID     string
	Config *cfg.Config
}

// DBProvider 接受一个 DBContext 并返回一个实例化的 DB
type DBProvider func(*DBContext) (dbm.DB, error)

// DefaultDBProvider 使用 DBContext.Config 中指定的 DBBackend 和 DBDir 返回一个数据库
func DefaultDBProvider(ctx *DBContext) (dbm.DB, error) {
	dbType := dbm.BackendType(ctx.Config.DBBackend)
	return dbm.NewDB(ctx.ID, dbType, ctx.Config.DBDir())
}

// MemDBProvider 总是返回一个新的内存数据库，用于测试
func MemDBProvider(*DBContext) (dbm.DB, error) {
	return dbm.NewMemDB(), nil
}

// ErrTxRejected 表示区块构建时交易没有通过检查，Reason 是具体的原因
type ErrTxRejected struct {
	Reason error
}

func (e ErrTxRejected) Error() string {
	return fmt.Sprintf("tx rejected: %v", e.Reason)
}

func (e ErrTxRejected) Unwrap() error {
	return e.Reason
}

//------------------------------------------------------------------------------

// Node 把应用注册表、区块长度记录、CheckAppId 以及交易池组装在一起：
//	CheckTx    交易进入交易池之前的检查，不占用区块空间
//	BeginBlock 开始构建一个新的区块
//	DeliverTx  把交易打包进正在构建的区块，通过检查才会占用区块空间
//	EndBlock   结束区块的构建，保存长度记录，并从交易池中删除已经打包的交易
//
// 启动节点后，如果配置了出块间隔，节点会定时从交易池里取交易构建区块
type Node struct {
	service.BaseService

	config *cfg.Config

	registryDB dbm.DB
	stateDB    dbm.DB

	registry   *registry.Registry
	stateStore sm.Store
	blockState *sm.BlockBuildState
	checker    *extension.Checker
	mempool    *mempl.TxMempool

	metricsRegistry metrics.Registry

	blockInterval time.Duration
	maxBlockTxs   int
	onBlock       BlockCallback
	producerQuit  chan struct{}
	producerDone  chan struct{}

	// mtx 保护正在构建的区块里的交易列表
	mtx        sync.Mutex
	lastHeight int64
	blockTxs   types.Txs
}

// Option sets a parameter for the node.
type Option func(*Node)

// WithMetricsRegistry 让节点把指标注册到 r 中，默认使用一个新的 registry
func WithMetricsRegistry(r metrics.Registry) Option {
	return func(n *Node) { n.metricsRegistry = r }
}

// BlockCallback 在节点自动构建完一个区块之后被调用
type BlockCallback func(rec sm.BlockLengthRecord, included types.Txs)

// WithBlockProducer 让节点启动后每隔 interval 构建一个区块，每个区块最多从交易池里取 maxTxs 笔交易，
// interval 不大于 0 时节点不会自动出块
func WithBlockProducer(interval time.Duration, maxTxs int) Option {
	return func(n *Node) {
		n.blockInterval = interval
		n.maxBlockTxs = maxTxs
	}
}

// WithBlockCallback 设置自动出块之后的回调
func WithBlockCallback(cb BlockCallback) Option {
	return func(n *Node) { n.onBlock = cb }
}

// Provider 根据配置创建一个节点
type Provider func(*cfg.Config, log.CRLogger, ...Option) (*Node, error)

// DefaultNewNode 使用 DefaultDBProvider 创建一个节点
func DefaultNewNode(config *cfg.Config, logger log.CRLogger, options ...Option) (*Node, error) {
	return NewNode(config, DefaultDBProvider, logger, options...)
}

// NewNode 返回一个节点：
//	1. 打开注册表和状态数据库
//	2. 如果注册表是空的，就注册创世应用，并保存配置里的网格尺寸
//	3. 创建 CheckAppId、区块长度记录以及交易池
func NewNode(config *cfg.Config, dbProvider DBProvider, logger log.CRLogger, options ...Option) (*Node, error) {
	n := &Node{
		config:          config,
		blockState:      sm.NewBlockBuildState(),
		metricsRegistry: metrics.NewRegistry(),
		maxBlockTxs:     -1,
	}
	n.BaseService = *service.NewBaseService(logger, "Node", n)
	for _, option := range options {
		option(n)
	}

	var err error
	if n.registryDB, err = dbProvider(&DBContext{"registry", config}); err != nil {
		return nil, err
	}
	if n.stateDB, err = dbProvider(&DBContext{"state", config}); err != nil {
		n.registryDB.Close()
		return nil, err
	}

	if err := n.loadOrInitGenesis(); err != nil {
		n.Close()
		return nil, err
	}

	n.checker = extension.NewChecker(n.registry,
		extension.WithLogger(logger.With("module", "check_app_id")),
		extension.WithMetrics(extension.NewMetrics(n.metricsRegistry)),
	)

	dims, err := n.stateStore.LoadBlockLength()
	if err != nil {
		n.Close()
		return nil, err
	}
	n.mempool = mempl.NewTxMempool(config.Mempool, n.lastHeight,
		mempl.WithPreCheck(n.txPreCheck(n.lastHeight+1, dims)),
		mempl.WithMetrics(mempl.NewMetrics(n.metricsRegistry)),
	)
	n.mempool.SetLogger(logger.With("module", "mempool"))

	logger.Infow("Node created", "chain_id", config.ChainID, "height", n.lastHeight,
		"block_length", dims.String(), "next_app_id", n.registry.NextApplicationID())
	return n, nil
}

func (n *Node) loadOrInitGenesis() error {
	da := n.config.DataAvailability

	reg, err := registry.NewRegistry(n.registryDB, da.MaxAppKeyLength)
	if err != nil {
		return err
	}
	n.registry = reg
	n.stateStore = sm.NewStore(n.stateDB)

	initialized, err := reg.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		if err := reg.InitGenesis(da.GenesisAppKeys); err != nil {
			return err
		}
		if err := n.stateStore.SaveBlockLength(da.BlockLength()); err != nil {
			return err
		}
		n.Logger.Infow("Registered genesis applications", "keys", da.GenesisAppKeys)
	}

	n.lastHeight, err = n.stateStore.LoadLastHeight()
	return err
}

// txPreCheck 组合交易池使用的预检查：交易不能比整个网格还大，并且必须通过 CheckAppId，
// 检查总是针对高度为 nextHeight 的空区块，与正在构建的区块占用了多少空间无关
func (n *Node) txPreCheck(nextHeight int64, dims types.BlockLength) mempl.PreCheckFunc {
	var fns []mempl.PreCheckFunc
	if maxScalars, ok := dims.MaxScalars(); ok {
		fns = append(fns, mempl.PreCheckMaxBytes(int64(maxScalars)*int64(types.DataChunkSize)))
	}
	fns = append(fns, sm.TxPreCheck(n.checker, nextHeight, dims))
	return mempl.ChainPreCheck(fns...)
}

// OnStart 启动出块协程
func (n *Node) OnStart() error {
	if n.blockInterval <= 0 {
		return nil
	}
	n.producerQuit = make(chan struct{})
	n.producerDone = make(chan struct{})
	go n.produceBlocksRoutine()
	return nil
}

// OnStop 等待出块协程退出，然后关闭数据库
func (n *Node) OnStop() {
	if n.producerQuit != nil {
		close(n.producerQuit)
		<-n.producerDone
	}
	if err := n.Close(); err != nil {
		n.Logger.Errorw("Error closing databases", "err", err)
	}
}

// produceBlocksRoutine 每隔 blockInterval 检查一次交易池，交易池不为空时构建一个区块
func (n *Node) produceBlocksRoutine() {
	defer close(n.producerDone)

	ticker := time.NewTicker(n.blockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.producerQuit:
			return
		case <-ticker.C:
			if n.mempool.Size() == 0 {
				continue
			}
			rec, included, err := n.ProduceBlock(n.maxBlockTxs)
			if err != nil {
				n.Logger.Errorw("Failed to produce block, stop producing", "err", err)
				return
			}
			if n.onBlock != nil {
				n.onBlock(rec, included)
			}
		}
	}
}

// CheckTx 检查一笔交易并尝试将其加入交易池
func (n *Node) CheckTx(tx types.Tx) error {
	return n.mempool.CheckTx(tx)
}

// BeginBlock 开始构建下一个区块，网格尺寸取自状态数据库
func (n *Node) BeginBlock() (int64, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	dims, err := n.stateStore.LoadBlockLength()
	if err != nil {
		return 0, err
	}
	height := n.lastHeight + 1
	if err := n.blockState.Begin(height, dims); err != nil {
		return 0, err
	}
	n.blockTxs = nil
	n.Logger.Debugw("Begin block", "height", height, "block_length", dims.String())
	return height, nil
}

// DeliverTx 把交易打包进正在构建的区块，交易必须通过 CheckAppId 的 PreDispatch，
// 没有通过的交易不会改变区块的长度记录
func (n *Node) DeliverTx(tx types.Tx) error {
	ext, err := types.DecodeExtrinsic(tx)
	if err != nil {
		return ErrTxRejected{fmt.Errorf("malformed extrinsic: %w", err)}
	}
	if err := n.checker.For(ext.AppID).PreDispatch(ext.Call, len(tx), n.blockState); err != nil {
		if errors.Is(err, sm.ErrBlockNotStarted) {
			return err
		}
		return ErrTxRejected{err}
	}

	n.mtx.Lock()
	n.blockTxs = append(n.blockTxs, tx)
	n.mtx.Unlock()
	return nil
}

// EndBlock 结束区块的构建：
//	1. 把区块的长度记录保存到状态数据库，保存成功之后才重置正在构建的区块，
//	   保存失败时区块仍处于构建状态，可以再次调用 EndBlock
//	2. 锁住交易池，删除已经打包的交易，并用新的网格尺寸替换交易池的预检查
func (n *Node) EndBlock() (sm.BlockLengthRecord, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	rec, err := n.blockState.Record()
	if err != nil {
		return sm.BlockLengthRecord{}, err
	}
	if err := n.stateStore.SaveBlockLengthRecord(rec); err != nil {
		return sm.BlockLengthRecord{}, fmt.Errorf("save block length record: %w", err)
	}
	if _, err := n.blockState.Finalize(); err != nil {
		return sm.BlockLengthRecord{}, err
	}
	n.lastHeight = rec.Height
	n.checker.BlockFinalized()

	dims, err := n.stateStore.LoadBlockLength()
	if err != nil {
		return sm.BlockLengthRecord{}, err
	}

	n.mempool.Lock()
	err = n.mempool.Update(rec.Height, n.blockTxs, n.txPreCheck(rec.Height+1, dims))
	n.mempool.Unlock()
	if err != nil {
		return sm.BlockLengthRecord{}, err
	}

	scalars, _ := rec.Lens.TotalNumScalars()
	n.Logger.Infow("Finalized block", "height", rec.Height, "txs", len(n.blockTxs),
		"apps", rec.Lens.Len(), "scalars", scalars)
	n.blockTxs = nil
	return rec, nil
}

// ProduceBlock 从交易池中按顺序取出最多 maxTxs 笔交易构建一个区块，
// 被拒绝的交易留在交易池里，返回区块的长度记录以及打包进区块的交易
func (n *Node) ProduceBlock(maxTxs int) (sm.BlockLengthRecord, types.Txs, error) {
	height, err := n.BeginBlock()
	if err != nil {
		return sm.BlockLengthRecord{}, nil, err
	}

	var included types.Txs
	for _, tx := range n.mempool.ReapMaxTxs(maxTxs) {
		if err := n.DeliverTx(tx); err != nil {
			n.Logger.Debugw("Skipped tx", "height", height, "tx", tx.Hash(), "err", err)
			continue
		}
		included = append(included, tx)
	}

	rec, err := n.EndBlock()
	if err != nil {
		return sm.BlockLengthRecord{}, nil, err
	}
	return rec, included, nil
}

// RegisterApp 注册一个新的应用，返回分配给它的 AppID
func (n *Node) RegisterApp(key string) (types.AppID, error) {
	id, err := n.registry.CreateApplicationKey(key)
	if err != nil {
		return 0, err
	}
	n.Logger.Infow("Registered application", "key", key, "app_id", id)
	return id, nil
}

// SetBlockLength 修改网格尺寸，从下一个开始构建的区块起生效
func (n *Node) SetBlockLength(bl types.BlockLength) error {
	if err := n.stateStore.SaveBlockLength(bl); err != nil {
		return err
	}
	n.Logger.Infow("Updated block length", "block_length", bl.String())
	return nil
}

// BlockLength 返回当前保存的网格尺寸
func (n *Node) BlockLength() (types.BlockLength, error) {
	return n.stateStore.LoadBlockLength()
}

// Close 关闭节点打开的所有数据库，重复调用是安全的
func (n *Node) Close() error {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	var errs []error
	if n.registryDB != nil {
		if err := n.registryDB.Close(); err != nil {
			errs = append(errs, err)
		}
		n.registryDB = nil
	}
	if n.stateDB != nil {
		if err := n.stateDB.Close(); err != nil {
			errs = append(errs, err)
		}
		n.stateDB = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close node: %v", errs)
	}
	return nil
}

// Config returns the Node's config.
func (n *Node) Config() *cfg.Config {
	return n.config
}

// Registry returns the Node's application key registry.
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Mempool returns the Node's mempool.
func (n *Node) Mempool() mempl.Mempool {
	return n.mempool
}

// BlockState returns the length record of the block being built.
func (n *Node) BlockState() *sm.BlockBuildState {
	return n.blockState
}

// StateStore returns the Node's state store.
func (n *Node) StateStore() sm.Store {
	return n.stateStore
}

// Checker returns the Node's CheckAppId checker.
func (n *Node) Checker() *extension.Checker {
	return n.checker
}

// LastHeight 返回最近一个结束构建的区块的高度
func (n *Node) LastHeight() int64 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.lastHeight
}

// MetricsRegistry returns the registry all node metrics are registered in.
func (n *Node) MetricsRegistry() metrics.Registry {
	return n.metricsRegistry
}

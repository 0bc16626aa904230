package mempool

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/232425wxy/dactr/config"
	srlog "github.com/232425wxy/dactr/libs/log"
	"github.com/232425wxy/dactr/types"
)

// TxMempool 是一个有序的交易池，用来存储还没有被打包进区块的交易，
// 交易在进入交易池之前，会先经过 preCheck 的检查，交易池按照交易进入的顺序保存它们
type TxMempool struct {
	// Atomic integers
	height   int64 // the last block Update()'d to
	txsBytes int64 // 交易池中所有交易的大小，单位是：字节

	config *config.MempoolConfig

	// Update 方法的互斥锁，防止与 CheckTx 或 Reap 方法并发执行
	updateMtx sync.RWMutex
	preCheck  PreCheckFunc

	// txsMtx 保护下面几个字段，CheckTx 只持有 updateMtx 的读锁，多个 CheckTx 可能并发执行
	txsMtx sync.Mutex
	txs    *list.List // 存储通过检查的 tx，元素的 Value 是 *mempoolTx
	// 交易的哈希值 -> txs 中的元素，用于快速定位到某笔交易
	txsMap map[[TxKeySize]byte]*list.Element

	// 当交易池里有交易的时候，就通知区块构建者
	notifiedTxsAvailable bool
	txsAvailable         chan struct{} // 当交易池不是空的时候，为每个高度触发一次

	// 保存已看到的 tx 的缓存
	cache txCache

	metrics *Metrics
	logger  srlog.CRLogger
}

var _ Mempool = &TxMempool{}

// TxMempoolOption 用来配置 TxMempool 的选项
type TxMempoolOption func(*TxMempool)

// NewTxMempool 根据给定的配置参数实例化一个 TxMempool
func NewTxMempool(config *config.MempoolConfig, height int64, options ...TxMempoolOption) *TxMempool {
	mempool := &TxMempool{
		config:  config,
		txs:     list.New(),
		txsMap:  make(map[[TxKeySize]byte]*list.Element),
		height:  height,
		metrics: NopMetrics(),
		logger:  srlog.NewNopLogger(),
	}
	if config.CacheSize > 0 {
		mempool.cache = newMapTxCache(config.CacheSize)
	} else {
		mempool.cache = nopTxCache{}
	}
	for _, option := range options {
		option(mempool)
	}
	return mempool
}

// WithPreCheck 为交易池设置一个过滤器，当 f(tx) 返回一个 non-nil error 的时候，
// 会拒绝该笔交易。之后的 Update 可以覆盖它
func WithPreCheck(f PreCheckFunc) TxMempoolOption {
	return func(mem *TxMempool) { mem.preCheck = f }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) TxMempoolOption {
	return func(mem *TxMempool) { mem.metrics = m }
}

// SetLogger sets the Logger.
func (mem *TxMempool) SetLogger(l srlog.CRLogger) {
	mem.logger = l
}

// EnableTxsAvailable 该方法不是线程安全的，只应该在交易池启动的时候调用
func (mem *TxMempool) EnableTxsAvailable() {
	mem.txsAvailable = make(chan struct{}, 1)
}

// TxsAvailable 区块构建者调用该方法监听交易池里的动静
func (mem *TxMempool) TxsAvailable() <-chan struct{} {
	return mem.txsAvailable
}

// Lock 让 .updateMtx 锁住
func (mem *TxMempool) Lock() {
	mem.updateMtx.Lock()
}

// Unlock 让 .updateMtx 解锁
func (mem *TxMempool) Unlock() {
	mem.updateMtx.Unlock()
}

// Height 返回最近一次 Update 的区块高度
func (mem *TxMempool) Height() int64 {
	return atomic.LoadInt64(&mem.height)
}

// Size 返回交易池中的交易数量
func (mem *TxMempool) Size() int {
	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()
	return mem.txs.Len()
}

// TxsBytes 返回交易池中存储的交易大小，单位是：字节
func (mem *TxMempool) TxsBytes() int64 {
	return atomic.LoadInt64(&mem.txsBytes)
}

// Has 判断交易池中是否有这笔交易
func (mem *TxMempool) Has(tx types.Tx) bool {
	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()
	_, ok := mem.txsMap[TxKey(tx)]
	return ok
}

// Flush 从交易池中和缓存中删除所有交易
func (mem *TxMempool) Flush() {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	mem.cache.Reset()

	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()
	mem.txs.Init()
	mem.txsMap = make(map[[TxKeySize]byte]*list.Element)
	atomic.StoreInt64(&mem.txsBytes, 0)
	mem.updateMetrics()
}

// CheckTx 检查一笔新的交易，通过检查的交易会被追加到交易池的末尾
func (mem *TxMempool) CheckTx(tx types.Tx) error {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	txSize := len(tx)

	if err := mem.isFull(txSize); err != nil {
		mem.metrics.FailedTxs.Inc(1)
		return err
	}

	if txSize > mem.config.MaxTxBytes {
		mem.metrics.FailedTxs.Inc(1)
		return ErrTxTooLarge{mem.config.MaxTxBytes, txSize}
	}

	// 预检查不通过的交易不会进入缓存，之后区块的状态变化了，它可能又是合法的
	if mem.preCheck != nil {
		if err := mem.preCheck(tx); err != nil {
			mem.metrics.FailedTxs.Inc(1)
			mem.logger.Debugw("rejected bad transaction", "tx", txID(tx), "err", err)
			return ErrPreCheck{err}
		}
	}

	// 有可能 tx 仍然在缓存中，但不再在交易池中(例如打包进区块后，tx 会从交易池中删除，但不会从缓存中删除)
	if !mem.cache.Push(tx) {
		return ErrTxInCache
	}

	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()

	// 再次检查交易池是否满了，检查 isFull 之后可能有别的交易已经进入了交易池
	if err := mem.isFullLocked(txSize); err != nil {
		mem.cache.Remove(tx)
		mem.metrics.FailedTxs.Inc(1)
		return err
	}

	mem.addTxLocked(&mempoolTx{height: mem.Height(), tx: tx})
	mem.logger.Debugw("added good transaction", "tx", txID(tx), "height", mem.Height(), "total", mem.txs.Len())
	mem.notifyTxsAvailableLocked()
	return nil
}

// isFull 先检查交易池里 tx 的个数是否达到上限，然后加上新 tx 的 txSize 大小后，
// 检查交易池里存储的 tx 容量（单位：字节）是否达到上限，如果达到上限了，返回一个错误
func (mem *TxMempool) isFull(txSize int) error {
	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()
	return mem.isFullLocked(txSize)
}

func (mem *TxMempool) isFullLocked(txSize int) error {
	var (
		memSize  = mem.txs.Len()
		txsBytes = mem.TxsBytes()
	)

	if memSize >= mem.config.Size || int64(txSize)+txsBytes > mem.config.MaxTxsBytes {
		return ErrMempoolIsFull{
			memSize, mem.config.Size,
			txsBytes, mem.config.MaxTxsBytes,
		}
	}
	return nil
}

// Called with txsMtx held.
func (mem *TxMempool) addTxLocked(memTx *mempoolTx) {
	e := mem.txs.PushBack(memTx)
	mem.txsMap[TxKey(memTx.tx)] = e
	atomic.AddInt64(&mem.txsBytes, int64(len(memTx.tx)))
	mem.updateMetrics()
}

// Called with txsMtx held.
func (mem *TxMempool) removeTxLocked(tx types.Tx, elem *list.Element) {
	mem.txs.Remove(elem)
	delete(mem.txsMap, TxKey(tx))
	atomic.AddInt64(&mem.txsBytes, int64(-len(tx)))
	mem.updateMetrics()
}

func (mem *TxMempool) updateMetrics() {
	mem.metrics.Size.Update(int64(mem.txs.Len()))
	mem.metrics.TxsBytes.Update(atomic.LoadInt64(&mem.txsBytes))
}

// notifyTxsAvailableLocked 在往交易池里添加一个 tx 后调用，这样监听 .txsAvailable 的模块就会收到通知，
// 每个高度最多通知一次
func (mem *TxMempool) notifyTxsAvailableLocked() {
	if mem.txs.Len() == 0 {
		panic("notified txs available but mempool is empty!")
	}
	if mem.txsAvailable != nil && !mem.notifiedTxsAvailable {
		mem.notifiedTxsAvailable = true
		select {
		case mem.txsAvailable <- struct{}{}:
		default:
		}
	}
}

// ReapMaxBytes 从交易池里逐个取出 tx，如果再取一个 tx 总大小就会超过 maxBytes，则到此为止
func (mem *TxMempool) ReapMaxBytes(maxBytes int64) types.Txs {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()

	var totalBytes int64
	txs := make([]types.Tx, 0, mem.txs.Len())
	for e := mem.txs.Front(); e != nil; e = e.Next() {
		memTx := e.Value.(*mempoolTx)
		totalBytes += int64(len(memTx.tx))
		if maxBytes > -1 && totalBytes > maxBytes {
			return txs
		}
		txs = append(txs, memTx.tx)
	}
	return txs
}

// ReapMaxTxs 从交易池里按顺序取出最多 max 个 tx，如果 max 小于 0，则全部取出
func (mem *TxMempool) ReapMaxTxs(max int) types.Txs {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()

	if max < 0 || max > mem.txs.Len() {
		max = mem.txs.Len()
	}

	txs := make([]types.Tx, 0, max)
	for e := mem.txs.Front(); e != nil && len(txs) < max; e = e.Next() {
		txs = append(txs, e.Value.(*mempoolTx).tx)
	}
	return txs
}

// Update 将已经打包进区块的交易从交易池中删除掉
func (mem *TxMempool) Update(height int64, blockTxs types.Txs, preCheck PreCheckFunc) error {
	atomic.StoreInt64(&mem.height, height)

	if preCheck != nil {
		mem.preCheck = preCheck
	}

	mem.txsMtx.Lock()
	defer mem.txsMtx.Unlock()

	mem.notifiedTxsAvailable = false

	for _, tx := range blockTxs {
		// 已经打包的 tx 留在缓存里，防止再次进入交易池
		_ = mem.cache.Push(tx)
		if e, ok := mem.txsMap[TxKey(tx)]; ok {
			mem.removeTxLocked(tx, e)
		}
	}

	if mem.txs.Len() > 0 && mem.config.Recheck && mem.preCheck != nil {
		mem.logger.Debugw("recheck txs", "numtxs", mem.txs.Len(), "height", height)
		mem.recheckTxsLocked()
	}
	if mem.txs.Len() > 0 {
		mem.notifyTxsAvailableLocked()
	}
	return nil
}

// recheckTxsLocked 用新的 preCheck 重新检查交易池里剩下的交易，不再合法的交易会被删除，
// 同时也从缓存里删除，因为它之后可能又是合法的
func (mem *TxMempool) recheckTxsLocked() {
	for e := mem.txs.Front(); e != nil; {
		next := e.Next()
		memTx := e.Value.(*mempoolTx)
		if err := mem.preCheck(memTx.tx); err != nil {
			mem.logger.Debugw("tx is no longer valid", "tx", txID(memTx.tx), "err", err)
			mem.removeTxLocked(memTx.tx, e)
			mem.cache.Remove(memTx.tx)
			mem.metrics.EvictedTxs.Inc(1)
		}
		e = next
	}
}

//--------------------------------------------------------------------------------

// mempoolTx 是一笔通过检查的交易
type mempoolTx struct {
	height int64 // 进入交易池时的高度
	tx     types.Tx
}

// txID 返回交易的哈希值，用于日志
func txID(tx types.Tx) string {
	return tx.Hash().String()
}

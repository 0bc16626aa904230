package mempool

import (
	"container/list"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/232425wxy/dactr/types"
)

// TxKeySize 是 tx 键索引的大小，单位是：字节
const TxKeySize = blake2b.Size256

// TxKey 是交易在 map 中的定长索引，等于交易的 blake2b-256 哈希值
func TxKey(tx types.Tx) [TxKeySize]byte {
	return blake2b.Sum256(tx)
}

type txCache interface {
	Reset()
	Push(tx types.Tx) bool
	Remove(tx types.Tx)
	Has(tx types.Tx) bool
}

// mapTxCache 维护交易的 LRU 缓存，只存储交易的哈希值
type mapTxCache struct {
	mtx      sync.Mutex
	size     int
	cacheMap map[[TxKeySize]byte]*list.Element
	list     *list.List // 越靠后越新
}

var _ txCache = (*mapTxCache)(nil)

func newMapTxCache(cacheSize int) *mapTxCache {
	return &mapTxCache{
		size:     cacheSize,
		cacheMap: make(map[[TxKeySize]byte]*list.Element, cacheSize),
		list:     list.New(),
	}
}

// Reset 清空缓存
func (cache *mapTxCache) Reset() {
	cache.mtx.Lock()
	cache.cacheMap = make(map[[TxKeySize]byte]*list.Element, cache.size)
	cache.list.Init()
	cache.mtx.Unlock()
}

// Push 将 tx 加入缓存并返回 true，如果 tx 已经在缓存里，则把它移到最新的位置并返回 false
func (cache *mapTxCache) Push(tx types.Tx) bool {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()

	txHash := TxKey(tx)
	if moved, exists := cache.cacheMap[txHash]; exists {
		cache.list.MoveToBack(moved)
		return false
	}

	// 缓存满了就淘汰最旧的那个
	if cache.list.Len() >= cache.size {
		if popped := cache.list.Front(); popped != nil {
			delete(cache.cacheMap, popped.Value.([TxKeySize]byte))
			cache.list.Remove(popped)
		}
	}
	cache.cacheMap[txHash] = cache.list.PushBack(txHash)
	return true
}

// Remove removes the given tx from the cache.
func (cache *mapTxCache) Remove(tx types.Tx) {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()

	txHash := TxKey(tx)
	if popped, ok := cache.cacheMap[txHash]; ok {
		delete(cache.cacheMap, txHash)
		cache.list.Remove(popped)
	}
}

func (cache *mapTxCache) Has(tx types.Tx) bool {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()
	_, ok := cache.cacheMap[TxKey(tx)]
	return ok
}

type nopTxCache struct{}

var _ txCache = (*nopTxCache)(nil)

func (nopTxCache) Reset()             {}
func (nopTxCache) Push(types.Tx) bool { return true }
func (nopTxCache) Remove(types.Tx)    {}
func (nopTxCache) Has(types.Tx) bool  { return false }

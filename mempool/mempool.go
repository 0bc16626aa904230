package mempool

import (
	"fmt"

	"github.com/232425wxy/dactr/types"
)

// Mempool 定义了交易池的接口
//
// 交易池的更新需要与区块的构建同步：区块构建结束后调用 Update 删除已经打包的交易，
// 并用新的 PreCheckFunc 重新检查剩下的交易
type Mempool interface {
	// CheckTx 检查一笔新的交易，决定是否将其加入到交易池里，如果调用了 Update 或 Lock，CheckTx 会被阻塞：
	//	1. 检查交易池中交易的个数和总大小是否已经达到上限，并检查单笔交易的大小是否超过上限
	//	2. 如果 preCheck 不为 nil，则调用 preCheck 检查该笔交易
	//	3. 尝试将这笔交易的哈希值放到缓存里，已经见过的交易直接拒绝
	//	4. 将交易追加到交易池的末尾
	CheckTx(tx types.Tx) error

	// ReapMaxBytes 按照进入交易池的顺序取出交易，取出的交易总大小不超过 maxBytes，
	// 如果 maxBytes 为负数，则返回交易池中所有的交易
	ReapMaxBytes(maxBytes int64) types.Txs

	// ReapMaxTxs 从交易池中取出最多 max 条交易，如果 max 小于 0，则返回交易池中所有交易
	ReapMaxTxs(max int) types.Txs

	// Lock 锁定交易池，区块构建者必须持有这把锁才能安全地更新交易池
	Lock()

	// Unlock unlocks the mempool.
	Unlock()

	// Update 通知交易池给定的 txs 已经被打包进高度为 blockHeight 的区块，可以被丢弃了，
	// newPreFn 不为 nil 时替换原来的 preCheck，并且在配置了 recheck 时用它重新检查剩下的交易
	// 注意：调用之前必须先调用 Lock
	Update(blockHeight int64, blockTxs types.Txs, newPreFn PreCheckFunc) error

	// Flush 从交易池中和缓存中删除所有交易
	Flush()

	// TxsAvailable 返回一个通道，该通道在每个区块高度触发一次，并且仅当交易池中有交易时触发
	// 注意：如果没有调用 EnableTxsAvailable，返回的通道是 nil
	TxsAvailable() <-chan struct{}

	// EnableTxsAvailable 初始化 TxsAvailable 通道
	EnableTxsAvailable()

	// Size 返回交易池中的交易数量
	Size() int

	// TxsBytes 返回交易池中所有交易加一起的大小，单位是：字节
	TxsBytes() int64
}

//--------------------------------------------------------------------------------

// PreCheckFunc 是在交易进入交易池之前执行的一个可选过滤器，返回错误则拒绝交易，
// 例如确保交易附带的 AppID 是合法的，并且区块还能容纳这笔交易
type PreCheckFunc func(types.Tx) error

// PreCheckMaxBytes 检查 tx 的大小是否小于或等于 maxBytes，如果不是则表明 tx 太大，返回一个错误
func PreCheckMaxBytes(maxBytes int64) PreCheckFunc {
	return func(tx types.Tx) error {
		txSize := int64(len(tx))
		if txSize > maxBytes {
			return fmt.Errorf("tx size is too big: %d, max: %d", txSize, maxBytes)
		}
		return nil
	}
}

// ChainPreCheck 依次执行多个 PreCheckFunc，遇到第一个错误就停止，nil 会被跳过
func ChainPreCheck(fns ...PreCheckFunc) PreCheckFunc {
	return func(tx types.Tx) error {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	}
}

package state

import (
	"fmt"

	"github.com/232425wxy/dactr/extension"
	"github.com/232425wxy/dactr/mempool"
	"github.com/232425wxy/dactr/types"
)

// TxPreCheck 返回交易池使用的预检查函数：
//	1. 解码交易，解码失败就拒绝
//	2. 用交易附带的 AppID 对调用做 CheckAppId 检查，并检查一个高度为 nextHeight、网格尺寸为 dims 的
//	   空区块能否容纳这笔交易
// 检查与正在构建的区块已经占用了多少空间无关，交易只有在被打包进区块时才占用区块的空间
func TxPreCheck(ck *extension.Checker, nextHeight int64, dims types.BlockLength) mempool.PreCheckFunc {
	empty := NewBlockBuildState()
	beginErr := empty.Begin(nextHeight, dims)
	return func(tx types.Tx) error {
		if beginErr != nil {
			return beginErr
		}
		ext, err := types.DecodeExtrinsic(tx)
		if err != nil {
			return fmt.Errorf("malformed extrinsic: %w", err)
		}
		// empty 只会被只读地访问，所以可以在所有交易之间共享
		return ck.For(ext.AppID).Validate(ext.Call, len(tx), empty)
	}
}

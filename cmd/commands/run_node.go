package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	srbytes "github.com/232425wxy/dactr/libs/bytes"
	sros "github.com/232425wxy/dactr/libs/os"
	nm "github.com/232425wxy/dactr/node"
	sm "github.com/232425wxy/dactr/state"
	"github.com/232425wxy/dactr/types"
)

// AddNodeFlags 在命令行中暴露了一些常见的配置选项：
//	- "block_interval" : 构建区块的时间间隔
//	- "max_block_txs" : 每个区块最多从交易池里取出的交易数，-1 表示不限制
//	- "db_backend" : config.DBBackend : "数据库后端"
//	- "db_dir" : config.DBPath : "存放数据库的目录"
//	- "mempool.size" : config.Mempool.Size : "交易池中的最大交易数"
func AddNodeFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("block_interval", time.Second, "interval between two blocks")
	cmd.Flags().Int("max_block_txs", -1, "max number of txs reaped from the mempool per block, -1 means unlimited")

	// db flags
	cmd.Flags().String("db_backend", config.DBBackend, "database backend: goleveldb | memdb")
	cmd.Flags().String("db_dir", config.DBPath, "database directory")

	// mempool flags
	cmd.Flags().Int("mempool.size", config.Mempool.Size, "max number of txs in the mempool")
}

// NewRunNodeCmd 返回启动节点的命令：从标准输入逐行读取十六进制编码的交易并放入交易池，
// 每隔 block_interval 构建一个区块
func NewRunNodeCmd(nodeProvider nm.Provider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the node, reading hex encoded extrinsics from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, err := cmd.Flags().GetDuration("block_interval")
			if err != nil {
				return err
			}
			maxTxs, err := cmd.Flags().GetInt("max_block_txs")
			if err != nil {
				return err
			}

			n, err := nodeProvider(config, logger,
				nm.WithBlockProducer(interval, maxTxs),
				nm.WithBlockCallback(func(rec sm.BlockLengthRecord, included types.Txs) {
					printRecord(cmd, rec.Height, rec.Dimensions, rec.Lens)
					logger.Debugw("Produced block", "height", rec.Height, "txs", len(included))
				}),
			)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}
			logger.Infow("Started node", "chain_id", config.ChainID, "height", n.LastHeight())

			// Stop upon receiving SIGTERM or CTRL-C.
			sros.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Errorw("unable to stop the node", "err", err)
					}
				}
			})

			go feedTxs(n, cmd.InOrStdin())

			// Run forever.
			n.Wait()
			return nil
		},
	}

	AddNodeFlags(cmd)
	return cmd
}

// feedTxs 逐行读取十六进制编码的交易并提交给交易池，空行会被忽略
func feedTxs(n *nm.Node, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), config.Mempool.MaxTxBytes*2+2)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		bz, err := srbytes.FromString(line)
		if err != nil {
			logger.Errorw("invalid hex", "line", line, "err", err)
			continue
		}
		tx := types.Tx(bz)
		if err := n.CheckTx(tx); err != nil {
			logger.Infow("rejected tx", "tx", tx.Hash(), "err", err)
			continue
		}
		logger.Debugw("accepted tx", "tx", tx.Hash(), "mempool_size", n.Mempool().Size())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		logger.Errorw("stop reading txs", "err", err)
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	nm "github.com/232425wxy/dactr/node"
	"github.com/232425wxy/dactr/types"
)

var (
	blockLengthRows   uint32
	blockLengthCols   uint32
	blockLengthHeight int64
)

// BlockLengthCmd 打印当前的网格尺寸，或者修改它，或者打印某个高度的区块长度记录
var BlockLengthCmd = &cobra.Command{
	Use:   "block-length",
	Short: "Show or update the data availability grid dimensions",
	RunE:  blockLength,
}

func init() {
	BlockLengthCmd.Flags().Uint32Var(&blockLengthRows, "rows", 0, "set the number of grid rows (power of two)")
	BlockLengthCmd.Flags().Uint32Var(&blockLengthCols, "cols", 0, "set the number of grid columns (power of two)")
	BlockLengthCmd.Flags().Int64Var(&blockLengthHeight, "height", 0, "show the length record of the block at this height")
}

func blockLength(cmd *cobra.Command, args []string) error {
	n, err := nm.DefaultNewNode(config, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	if blockLengthHeight > 0 {
		rec, err := n.StateStore().LoadBlockLengthRecord(blockLengthHeight)
		if err != nil {
			return err
		}
		printRecord(cmd, rec.Height, rec.Dimensions, rec.Lens)
		return nil
	}

	if blockLengthRows != 0 || blockLengthCols != 0 {
		bl, err := n.BlockLength()
		if err != nil {
			return err
		}
		if blockLengthRows != 0 {
			bl.Rows = blockLengthRows
		}
		if blockLengthCols != 0 {
			bl.Cols = blockLengthCols
		}
		if err := n.SetBlockLength(types.NewBlockLength(bl.Rows, bl.Cols)); err != nil {
			return err
		}
	}

	bl, err := n.BlockLength()
	if err != nil {
		return err
	}
	maxScalars, _ := bl.MaxScalars()
	fmt.Fprintf(cmd.OutOrStdout(), "%v, %d scalars, last height %d\n", bl, maxScalars, n.LastHeight())
	return nil
}

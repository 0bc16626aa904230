package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/232425wxy/dactr/extension"
	srbytes "github.com/232425wxy/dactr/libs/bytes"
	sros "github.com/232425wxy/dactr/libs/os"
	nm "github.com/232425wxy/dactr/node"
	"github.com/232425wxy/dactr/types"
)

var (
	checkTxFile    string
	checkTxProduce bool
)

// CheckTxCmd 检查一笔十六进制编码的交易，指定 --produce 时还会把它打包进一个新的区块
var CheckTxCmd = &cobra.Command{
	Use:   "check-tx [hex]",
	Short: "Run the AppId admission check on a hex encoded extrinsic",
	Args:  cobra.MaximumNArgs(1),
	RunE:  checkTx,
}

func init() {
	CheckTxCmd.Flags().StringVar(&checkTxFile, "file", "", "read the hex encoded extrinsic from a file")
	CheckTxCmd.Flags().BoolVar(&checkTxProduce, "produce", false, "include the extrinsic in a new block and persist its length record")
}

func checkTx(cmd *cobra.Command, args []string) error {
	tx, err := readTx(args)
	if err != nil {
		return err
	}
	ext, err := types.DecodeExtrinsic(tx)
	if err != nil {
		return fmt.Errorf("malformed extrinsic: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "hash:   %v\n", tx.Hash())
	fmt.Fprintf(out, "app_id: %v\n", ext.AppID)
	fmt.Fprintf(out, "call:   %v\n", ext.Call)
	fmt.Fprintf(out, "length: %d\n", len(tx))

	n, err := nm.DefaultNewNode(config, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.CheckTx(tx); err != nil {
		printRejection(cmd, err)
		return err
	}
	fmt.Fprintln(out, "result: OK")

	if !checkTxProduce {
		return nil
	}
	rec, included, err := n.ProduceBlock(-1)
	if err != nil {
		return err
	}
	if len(included) == 0 {
		return errors.New("extrinsic was not included")
	}
	printRecord(cmd, rec.Height, rec.Dimensions, rec.Lens)
	return nil
}

// readTx 从 --file 指定的文件或者第一个参数中读取 16 进制编码的交易
func readTx(args []string) (types.Tx, error) {
	switch {
	case checkTxFile != "":
		bz, err := sros.ReadHexFile(checkTxFile)
		if err != nil {
			return nil, err
		}
		return types.Tx(bz), nil
	case len(args) == 1:
		bz, err := srbytes.FromString(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return types.Tx(bz), nil
	default:
		return nil, errors.New("expected a hex encoded extrinsic or --file")
	}
}

func printRejection(cmd *cobra.Command, err error) {
	if code, ok := extension.CodeOf(err); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "result: rejected by %s: %v (custom code %d)\n", extension.Identifier, code, uint8(code))
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "result: rejected: %v\n", err)
}

func printRecord(cmd *cobra.Command, height int64, dims types.BlockLength, lens types.AllExtrinsicsLen) {
	out := cmd.OutOrStdout()
	maxScalars, _ := dims.MaxScalars()
	used, _ := lens.TotalNumScalars()
	fmt.Fprintf(out, "height %d: %v, %d/%d scalars used\n", height, dims, used, maxScalars)
	for _, id := range lens.AppIDs() {
		l := lens.Get(id)
		fmt.Fprintf(out, "  app %v: raw %d, padded %d, scalars %d\n", id, l.Raw, l.Padded, l.Scalars())
	}
}

package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/232425wxy/dactr/types"
)

var (
	encodeAppID  uint32
	encodeCall   string
	encodeData   string
	encodeDest   string
	encodeValue  uint64
	encodeBatch  string
	encodeRepeat int
)

// EncodeTxCmd 构造一笔交易并打印它的十六进制编码，方便配合 check-tx 使用
var EncodeTxCmd = &cobra.Command{
	Use:   "encode-tx",
	Short: "Build an extrinsic and print it hex encoded",
	// 不需要读取配置
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              encodeTx,
}

func init() {
	EncodeTxCmd.Flags().Uint32Var(&encodeAppID, "app-id", 0, "AppId attached to the extrinsic")
	EncodeTxCmd.Flags().StringVar(&encodeCall, "call", "submit_data", "call kind: submit_data | remark | transfer | create_application_key")
	EncodeTxCmd.Flags().StringVar(&encodeData, "data", "", "payload of submit_data, remark or create_application_key")
	EncodeTxCmd.Flags().StringVar(&encodeDest, "dest", "", "hex encoded transfer destination")
	EncodeTxCmd.Flags().Uint64Var(&encodeValue, "value", 0, "transfer value")
	EncodeTxCmd.Flags().StringVar(&encodeBatch, "batch", "", "wrap the call: batch | batch_all | force_batch")
	EncodeTxCmd.Flags().IntVar(&encodeRepeat, "repeat", 1, "number of copies of the call inside the batch")
}

func encodeTx(cmd *cobra.Command, args []string) error {
	call, err := buildCall(encodeCall)
	if err != nil {
		return err
	}
	if encodeBatch != "" {
		if encodeRepeat < 0 {
			return fmt.Errorf("negative repeat %d", encodeRepeat)
		}
		calls := make([]*types.Call, encodeRepeat)
		for i := range calls {
			calls[i] = call
		}
		switch encodeBatch {
		case "batch":
			call = types.NewBatchCall(calls...)
		case "batch_all":
			call = types.NewBatchAllCall(calls...)
		case "force_batch":
			call = types.NewForceBatchCall(calls...)
		default:
			return fmt.Errorf("unknown batch kind %q", encodeBatch)
		}
	}

	tx := types.NewExtrinsic(types.AppID(encodeAppID), call).Encode()
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(tx))
	return nil
}

func buildCall(kind string) (*types.Call, error) {
	switch kind {
	case "submit_data":
		return types.NewSubmitDataCall([]byte(encodeData)), nil
	case "remark":
		return types.NewRemarkCall([]byte(encodeData)), nil
	case "create_application_key":
		return types.NewCreateApplicationKeyCall([]byte(encodeData)), nil
	case "transfer":
		dest, err := hex.DecodeString(encodeDest)
		if err != nil {
			return nil, fmt.Errorf("invalid dest: %w", err)
		}
		return types.NewTransferCall(dest, encodeValue), nil
	default:
		return nil, fmt.Errorf("unknown call kind %q", kind)
	}
}

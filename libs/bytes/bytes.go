package bytes

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes 是交易哈希、交易本身这类需要给人看的二进制数据，
// 打印和编码成 JSON 时都使用大写的 16 进制，例如 Tx.Hash() 打印出来是 "3A9F..."
type HexBytes []byte

func (bz HexBytes) String() string {
	return strings.ToUpper(hex.EncodeToString(bz))
}

// MarshalJSON 编码成带引号的大写 16 进制字符串
func (bz HexBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"` + bz.String() + `"`), nil
}

// UnmarshalJSON 解析带引号的 16 进制字符串，大小写都可以，也允许 "0x" 前缀
func (bz *HexBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid hex string: %s", data)
	}
	decoded, err := FromString(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*bz = decoded
	return nil
}

// FromString 解析命令行参数、标准输入或者文件里的 16 进制字符串，
// encode-tx 的输出可以原样传给 check-tx 和 start
func FromString(str string) (HexBytes, error) {
	str = strings.TrimSpace(str)
	str = strings.TrimPrefix(strings.TrimPrefix(str, "0x"), "0X")
	bz, err := hex.DecodeString(str)
	if err != nil {
		return nil, err
	}
	return bz, nil
}

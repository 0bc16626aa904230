package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gogo/protobuf/proto"
	"golang.org/x/crypto/blake2b"

	srbytes "github.com/232425wxy/dactr/libs/bytes"
)

// ExtrinsicVersion 是交易编码格式的版本号，写在编码结果的第一个字节
const ExtrinsicVersion byte = 4

// ErrBadVersion 交易的版本号不被支持
var ErrBadVersion = errors.New("unsupported extrinsic version")

// Tx 是编码后的交易，交易的长度就是 len(tx)
type Tx []byte

// Hash 计算交易的 blake2b-256 哈希值
func (tx Tx) Hash() srbytes.HexBytes {
	h := blake2b.Sum256(tx)
	return h[:]
}

// String 返回 transaction 16 进制编码的字符串
func (tx Tx) String() string {
	return fmt.Sprintf("Tx{%X}", []byte(tx))
}

// Txs 是一个 transaction 列表
type Txs []Tx

// Index 给定一个 transaction，返回该 transaction 在交易列表里的索引值
func (txs Txs) Index(tx Tx) int {
	for i := range txs {
		if bytes.Equal(txs[i], tx) {
			return i
		}
	}
	return -1
}

// TotalBytes 返回列表中所有交易的字节数之和
func (txs Txs) TotalBytes() int64 {
	var n int64
	for _, tx := range txs {
		n += int64(len(tx))
	}
	return n
}

//-----------------------------------------------------------------------------

// Extrinsic 是解码后的交易：附带的 AppID 以及请求执行的调用
type Extrinsic struct {
	AppID AppID
	Call  *Call
}

// NewExtrinsic 创建一笔新的交易
func NewExtrinsic(appID AppID, call *Call) *Extrinsic {
	return &Extrinsic{AppID: appID, Call: call}
}

// Encode 编码格式：version(1 byte) varint(app_id) call，
// ext.Call 不能是 nil，否则 panic(ErrNilCall)
func (ext *Extrinsic) Encode() Tx {
	buf := []byte{ExtrinsicVersion}
	buf = append(buf, proto.EncodeVarint(uint64(ext.AppID))...)
	return appendCall(buf, ext.Call)
}

// EncodedSize 返回交易编码后的长度
func (ext *Extrinsic) EncodedSize() int {
	return len(ext.Encode())
}

// DecodeExtrinsic 从 tx 中解码出交易，调用的嵌套深度不能超过 MaxDecodeDepth
func DecodeExtrinsic(tx Tx) (*Extrinsic, error) {
	if len(tx) == 0 {
		return nil, ErrTruncated
	}
	if tx[0] != ExtrinsicVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, tx[0])
	}
	d := &decoder{buf: tx, off: 1}
	id, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if id > uint64(^uint32(0)) {
		return nil, fmt.Errorf("app id %d overflows uint32", id)
	}
	call, err := d.call(0)
	if err != nil {
		return nil, err
	}
	if d.remaining() != 0 {
		return nil, ErrTrailingBytes
	}
	return &Extrinsic{AppID: AppID(id), Call: call}, nil
}

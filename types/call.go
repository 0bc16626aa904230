package types

import (
	"errors"
	"fmt"

	"github.com/gogo/protobuf/proto"
)

// MaxDecodeDepth 解码时调用结构允许的最大嵌套深度，超过这个深度的交易会在解码阶段被直接丢弃
const MaxDecodeDepth = 256

var (
	// ErrUnknownCall 遇到无法识别的调用类型
	ErrUnknownCall = errors.New("unknown call kind")
	// ErrCallTooDeep 调用的嵌套深度超过了 MaxDecodeDepth
	ErrCallTooDeep = errors.New("call nesting exceeds max decode depth")
	// ErrTruncated 输入的字节在解码完成之前就结束了
	ErrTruncated = errors.New("unexpected end of input")
	// ErrTrailingBytes 解码完成后还有多余的字节
	ErrTrailingBytes = errors.New("trailing bytes after call")
)

// CallKind 标识一个调用属于哪个模块的哪个方法
type CallKind uint16

const (
	CallSystemRemark CallKind = iota + 1
	CallBalancesTransfer
	CallSubmitData
	CallCreateApplicationKey
	CallUtilityBatch
	CallUtilityBatchAll
	CallUtilityForceBatch
)

var callKindNames = map[CallKind]string{
	CallSystemRemark:         "System.remark",
	CallBalancesTransfer:     "Balances.transfer",
	CallSubmitData:           "DataAvailability.submit_data",
	CallCreateApplicationKey: "DataAvailability.create_application_key",
	CallUtilityBatch:         "Utility.batch",
	CallUtilityBatchAll:      "Utility.batch_all",
	CallUtilityForceBatch:    "Utility.force_batch",
}

func (k CallKind) String() string {
	if name, ok := callKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CallKind(%d)", uint16(k))
}

// IsBatch 判断是否是 batch、batch_all 或者 force_batch 这三种组合调用之一
func (k CallKind) IsBatch() bool {
	switch k {
	case CallUtilityBatch, CallUtilityBatchAll, CallUtilityForceBatch:
		return true
	}
	return false
}

// Call 是一笔交易所请求执行的操作，组合调用（batch）会在 Calls 里包含一组有序的内部调用，
// 内部调用本身也可以是组合调用
type Call struct {
	Kind CallKind

	// Data 是 remark、submit_data 和 create_application_key 的参数
	Data []byte

	// transfer 的参数
	Dest  []byte
	Value uint64

	// Calls 只有组合调用才会用到
	Calls []*Call
}

func NewRemarkCall(remark []byte) *Call {
	return &Call{Kind: CallSystemRemark, Data: remark}
}

func NewTransferCall(dest []byte, value uint64) *Call {
	return &Call{Kind: CallBalancesTransfer, Dest: dest, Value: value}
}

func NewSubmitDataCall(data []byte) *Call {
	return &Call{Kind: CallSubmitData, Data: data}
}

func NewCreateApplicationKeyCall(key []byte) *Call {
	return &Call{Kind: CallCreateApplicationKey, Data: key}
}

func NewBatchCall(calls ...*Call) *Call {
	return &Call{Kind: CallUtilityBatch, Calls: calls}
}

func NewBatchAllCall(calls ...*Call) *Call {
	return &Call{Kind: CallUtilityBatchAll, Calls: calls}
}

func NewForceBatchCall(calls ...*Call) *Call {
	return &Call{Kind: CallUtilityForceBatch, Calls: calls}
}

// IsSubmitData 判断该调用是否是 DataAvailability.submit_data
func (c *Call) IsSubmitData() bool {
	return c != nil && c.Kind == CallSubmitData
}

// BatchedCalls 如果该调用是一个组合调用，则返回它包装的内部调用以及 true
func (c *Call) BatchedCalls() ([]*Call, bool) {
	if c == nil || !c.Kind.IsBatch() {
		return nil, false
	}
	return c.Calls, true
}

func (c *Call) String() string {
	if c == nil {
		return "Call{nil}"
	}
	if c.Kind.IsBatch() {
		return fmt.Sprintf("%v[%d calls]", c.Kind, len(c.Calls))
	}
	return c.Kind.String()
}

//-----------------------------------------------------------------------------
// 编解码

// ErrNilCall 交易或组合调用里出现了 nil 调用，nil 调用没有对应的编码
var ErrNilCall = errors.New("nil call")

// Encode 将调用编码成字节，c 以及它包含的所有调用都不能是 nil：
//	call := varint(kind) payload
//	remark | submit_data | create_application_key 的 payload 是 varint(len) bytes
//	transfer 的 payload 是 varint(len) dest varint(value)
//	组合调用的 payload 是 varint(count) call...
func (c *Call) Encode() []byte {
	return appendCall(nil, c)
}

func appendCall(buf []byte, c *Call) []byte {
	if c == nil {
		panic(ErrNilCall)
	}
	buf = append(buf, proto.EncodeVarint(uint64(c.Kind))...)
	switch {
	case c.Kind.IsBatch():
		buf = append(buf, proto.EncodeVarint(uint64(len(c.Calls)))...)
		for _, inner := range c.Calls {
			buf = appendCall(buf, inner)
		}
	case c.Kind == CallBalancesTransfer:
		buf = appendBytes(buf, c.Dest)
		buf = append(buf, proto.EncodeVarint(c.Value)...)
	default:
		buf = appendBytes(buf, c.Data)
	}
	return buf
}

func appendBytes(buf []byte, bz []byte) []byte {
	buf = append(buf, proto.EncodeVarint(uint64(len(bz)))...)
	return append(buf, bz...)
}

// DecodeCall 从字节中解码出一个完整的调用，不允许有多余的字节
func DecodeCall(bz []byte) (*Call, error) {
	d := &decoder{buf: bz}
	c, err := d.call(0)
	if err != nil {
		return nil, err
	}
	if d.off != len(bz) {
		return nil, ErrTrailingBytes
	}
	return c, nil
}

// decoder 记录当前解码到的位置
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) uvarint() (uint64, error) {
	x, n := proto.DecodeVarint(d.buf[d.off:])
	if n == 0 {
		return 0, ErrTruncated
	}
	d.off += n
	return x, nil
}

func (d *decoder) bytes() ([]byte, error) {
	l, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if l > uint64(d.remaining()) {
		return nil, ErrTruncated
	}
	bz := make([]byte, int(l))
	copy(bz, d.buf[d.off:d.off+int(l)])
	d.off += int(l)
	return bz, nil
}

// call 递归地解码调用，depth 是当前的嵌套深度
func (d *decoder) call(depth int) (*Call, error) {
	if depth > MaxDecodeDepth {
		return nil, ErrCallTooDeep
	}
	k, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if k > uint64(^uint16(0)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCall, k)
	}
	c := &Call{Kind: CallKind(k)}
	switch {
	case c.Kind.IsBatch():
		n, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		// 每个内部调用至少占用一个字节，借此防止恶意的 count 导致巨大的内存分配
		if n > uint64(d.remaining()) {
			return nil, ErrTruncated
		}
		c.Calls = make([]*Call, 0, int(n))
		for i := uint64(0); i < n; i++ {
			inner, err := d.call(depth + 1)
			if err != nil {
				return nil, err
			}
			c.Calls = append(c.Calls, inner)
		}
	case c.Kind == CallBalancesTransfer:
		if c.Dest, err = d.bytes(); err != nil {
			return nil, err
		}
		if c.Value, err = d.uvarint(); err != nil {
			return nil, err
		}
	case c.Kind == CallSystemRemark, c.Kind == CallSubmitData, c.Kind == CallCreateApplicationKey:
		if c.Data, err = d.bytes(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCall, k)
	}
	return c, nil
}

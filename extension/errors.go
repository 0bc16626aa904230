package extension

import (
	"errors"
	"fmt"
)

// InvalidTxCode 是交易被拒绝时附带的自定义错误码，提交交易的一方依据它得到稳定的诊断信息
type InvalidTxCode uint8

const (
	// CodeInvalidAppID 非零的 AppID 还没有被注册（>= next AppID）
	CodeInvalidAppID InvalidTxCode = 137 + iota
	// CodeForbiddenAppID 非零的 AppID 附带在了 submit_data 和 batch 以外的调用上
	CodeForbiddenAppID
	// CodeMaxPaddedLenExceeded 长度转换溢出、长度累加溢出或者区块网格的容量不够
	CodeMaxPaddedLenExceeded
	// CodeMaxRecursionExceeded 组合调用展开的次数超过了上限
	CodeMaxRecursionExceeded
)

var codeNames = map[InvalidTxCode]string{
	CodeInvalidAppID:         "InvalidAppId",
	CodeForbiddenAppID:       "ForbiddenAppId",
	CodeMaxPaddedLenExceeded: "MaxPaddedLenExceeded",
	CodeMaxRecursionExceeded: "MaxRecursionExceeded",
}

func (c InvalidTxCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("InvalidTxCode(%d)", uint8(c))
}

// ErrInvalidTransaction 表示交易没有通过 CheckAppId 的检查，拒绝是最终的，不会在内部重试
type ErrInvalidTransaction struct {
	Code InvalidTxCode
}

func (e ErrInvalidTransaction) Error() string {
	return fmt.Sprintf("invalid transaction: %v (custom code %d)", e.Code, uint8(e.Code))
}

var (
	ErrInvalidAppID         = ErrInvalidTransaction{Code: CodeInvalidAppID}
	ErrForbiddenAppID       = ErrInvalidTransaction{Code: CodeForbiddenAppID}
	ErrMaxPaddedLenExceeded = ErrInvalidTransaction{Code: CodeMaxPaddedLenExceeded}
	ErrMaxRecursionExceeded = ErrInvalidTransaction{Code: CodeMaxRecursionExceeded}
)

// CodeOf 从 err 的错误链中取出自定义错误码
func CodeOf(err error) (InvalidTxCode, bool) {
	var invalid ErrInvalidTransaction
	if errors.As(err, &invalid) {
		return invalid.Code, true
	}
	return 0, false
}

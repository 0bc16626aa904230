package types

import (
	"fmt"
	"strconv"
)

// AppID 是应用（租户）的标识符，每一笔交易都会携带一个 AppID
type AppID uint32

// SystemAppID 是系统保留的 AppID，任何调用都可以使用它
const SystemAppID AppID = 0

// IsSystem 判断 AppID 是否为系统保留的 0
func (id AppID) IsSystem() bool {
	return id == SystemAppID
}

// Next 返回 id+1，如果溢出了则返回 false
func (id AppID) Next() (AppID, bool) {
	if id == AppID(^uint32(0)) {
		return id, false
	}
	return id + 1, true
}

func (id AppID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseAppID 从十进制字符串中解析出 AppID
func ParseAppID(s string) (AppID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid app id %q: %w", s, err)
	}
	return AppID(v), nil
}

// AppIDGetter 由携带 AppID 的对象实现，例如交易的校验扩展，
// 手续费或者优先级相关的逻辑可以借此读回交易的 AppID
type AppIDGetter interface {
	AppID() AppID
}

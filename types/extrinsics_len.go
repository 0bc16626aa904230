package types

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gogo/protobuf/proto"
)

// AppExtrinsicsLen 记录一个应用在当前区块里累积的交易字节数
type AppExtrinsicsLen struct {
	// Raw 是该应用所有交易编码后的字节数之和
	Raw uint32 `json:"raw"`
	// Padded 是 Raw 按照网格规则填充后的字节数
	Padded uint32 `json:"padded"`
}

// Scalars 返回该应用占用的 scalar 个数
func (l AppExtrinsicsLen) Scalars() uint32 {
	return l.Padded / DataChunkSize
}

// PaddedLen 计算 raw 字节的数据放进网格时填充后的长度：
// 先在尾部追加一个填充字节，然后补零到 DataChunkSize 的整数倍，溢出时返回 false
func PaddedLen(raw uint32) (uint32, bool) {
	n := uint64(raw) + 1
	chunks := (n + uint64(DataChunkSize) - 1) / uint64(DataChunkSize)
	padded := chunks * uint64(DataChunkSize)
	if padded > math.MaxUint32 {
		return 0, false
	}
	return uint32(padded), true
}

// AllExtrinsicsLen 是正在构建的区块里 AppID -> 累积长度 的映射，
// 数据可用性网格在生成区块头时依据它来布局数据
type AllExtrinsicsLen struct {
	lens map[AppID]AppExtrinsicsLen
}

// NewAllExtrinsicsLen 返回一个空的 AllExtrinsicsLen
func NewAllExtrinsicsLen() AllExtrinsicsLen {
	return AllExtrinsicsLen{lens: make(map[AppID]AppExtrinsicsLen)}
}

// Clone 深拷贝，修改拷贝不会影响原来的值
func (all AllExtrinsicsLen) Clone() AllExtrinsicsLen {
	cp := AllExtrinsicsLen{lens: make(map[AppID]AppExtrinsicsLen, len(all.lens))}
	for id, l := range all.lens {
		cp.lens[id] = l
	}
	return cp
}

// Get 返回指定应用的累积长度，没有记录的应用返回零值
func (all AllExtrinsicsLen) Get(id AppID) AppExtrinsicsLen {
	return all.lens[id]
}

// Len 返回有记录的应用个数
func (all AllExtrinsicsLen) Len() int {
	return len(all.lens)
}

// AppIDs 按从小到大的顺序返回所有有记录的 AppID
func (all AllExtrinsicsLen) AppIDs() []AppID {
	ids := make([]AppID, 0, len(all.lens))
	for id := range all.lens {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddPadded 把一笔长度为 length 的交易记到应用 id 名下，返回该应用新的填充后长度，
// 任何一步溢出都会返回 false，并且不会修改 all
func (all *AllExtrinsicsLen) AddPadded(id AppID, length uint32) (uint32, bool) {
	if all.lens == nil {
		all.lens = make(map[AppID]AppExtrinsicsLen)
	}
	cur := all.lens[id]
	raw := cur.Raw + length
	if raw < cur.Raw {
		return 0, false
	}
	padded, ok := PaddedLen(raw)
	if !ok {
		return 0, false
	}
	all.lens[id] = AppExtrinsicsLen{Raw: raw, Padded: padded}
	return padded, true
}

// TotalNumScalars 所有应用占用的 scalar 总数，溢出时返回 false
func (all AllExtrinsicsLen) TotalNumScalars() (uint32, bool) {
	var total uint32
	for _, l := range all.lens {
		next := total + l.Scalars()
		if next < total {
			return 0, false
		}
		total = next
	}
	return total, true
}

// TotalRaw 所有应用交易字节数之和，溢出时返回 false
func (all AllExtrinsicsLen) TotalRaw() (uint32, bool) {
	var total uint32
	for _, l := range all.lens {
		next := total + l.Raw
		if next < total {
			return 0, false
		}
		total = next
	}
	return total, true
}

//-----------------------------------------------------------------------------
// 编解码，持久化区块的长度记录时使用

// Encode 编码格式：varint(n) { varint(app_id) varint(raw) } * n，按 AppID 升序排列
func (all AllExtrinsicsLen) Encode() []byte {
	ids := all.AppIDs()
	buf := proto.EncodeVarint(uint64(len(ids)))
	for _, id := range ids {
		buf = append(buf, proto.EncodeVarint(uint64(id))...)
		buf = append(buf, proto.EncodeVarint(uint64(all.lens[id].Raw))...)
	}
	return buf
}

// DecodeAllExtrinsicsLen 从字节中恢复 AllExtrinsicsLen，填充后的长度会重新计算
func DecodeAllExtrinsicsLen(bz []byte) (AllExtrinsicsLen, error) {
	d := &decoder{buf: bz}
	n, err := d.uvarint()
	if err != nil {
		return AllExtrinsicsLen{}, err
	}
	if n > uint64(d.remaining()) {
		return AllExtrinsicsLen{}, ErrTruncated
	}
	all := AllExtrinsicsLen{lens: make(map[AppID]AppExtrinsicsLen, int(n))}
	var prev int64 = -1
	for i := uint64(0); i < n; i++ {
		id, err := d.uvarint()
		if err != nil {
			return AllExtrinsicsLen{}, err
		}
		raw, err := d.uvarint()
		if err != nil {
			return AllExtrinsicsLen{}, err
		}
		if id > math.MaxUint32 || raw > math.MaxUint32 {
			return AllExtrinsicsLen{}, errors.New("extrinsics len entry overflows uint32")
		}
		if int64(id) <= prev {
			return AllExtrinsicsLen{}, fmt.Errorf("app id %d out of order", id)
		}
		prev = int64(id)
		padded, ok := PaddedLen(uint32(raw))
		if !ok {
			return AllExtrinsicsLen{}, fmt.Errorf("padded len of app %d overflows", id)
		}
		all.lens[AppID(id)] = AppExtrinsicsLen{Raw: uint32(raw), Padded: padded}
	}
	if d.remaining() != 0 {
		return AllExtrinsicsLen{}, ErrTrailingBytes
	}
	return all, nil
}

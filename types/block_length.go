package types

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	// ChunkSize 是数据可用性网格中一个 scalar 的大小，单位是：字节
	ChunkSize uint32 = 32

	// DataChunkSize 每个 scalar 实际能装下的数据字节数，留出一个字节保证 scalar 落在域内
	DataChunkSize uint32 = ChunkSize - 1

	// MaxBlockRows 网格行数的上限
	MaxBlockRows uint32 = 1024
	// MaxBlockCols 网格列数的上限
	MaxBlockCols uint32 = 256

	// DefaultBlockRows 默认的行数
	DefaultBlockRows uint32 = 256
	// DefaultBlockCols 默认的列数
	DefaultBlockCols uint32 = 256
)

// BlockLength 描述当前区块的数据可用性网格的尺寸：Rows × Cols 个 scalar
type BlockLength struct {
	Rows      uint32 `json:"rows"`
	Cols      uint32 `json:"cols"`
	ChunkSize uint32 `json:"chunk_size"`
}

// DefaultBlockLength 返回默认的网格尺寸
func DefaultBlockLength() BlockLength {
	return BlockLength{
		Rows:      DefaultBlockRows,
		Cols:      DefaultBlockCols,
		ChunkSize: ChunkSize,
	}
}

// NewBlockLength 用给定的行数和列数构造 BlockLength，chunk 大小固定为 ChunkSize
func NewBlockLength(rows, cols uint32) BlockLength {
	return BlockLength{Rows: rows, Cols: cols, ChunkSize: ChunkSize}
}

// MaxScalars 返回 rows * cols，乘法溢出时返回 false
func (bl BlockLength) MaxScalars() (uint32, bool) {
	hi, lo := bits.Mul32(bl.Rows, bl.Cols)
	if hi != 0 {
		return 0, false
	}
	return lo, true
}

// ValidateBasic 行数和列数必须是不超过上限的 2 的幂，chunk 大小必须等于 ChunkSize
func (bl BlockLength) ValidateBasic() error {
	if bl.Rows == 0 || bl.Rows&(bl.Rows-1) != 0 {
		return fmt.Errorf("block rows must be a power of two, got %d", bl.Rows)
	}
	if bl.Rows > MaxBlockRows {
		return fmt.Errorf("block rows is too big. %d > %d", bl.Rows, MaxBlockRows)
	}
	if bl.Cols == 0 || bl.Cols&(bl.Cols-1) != 0 {
		return fmt.Errorf("block cols must be a power of two, got %d", bl.Cols)
	}
	if bl.Cols > MaxBlockCols {
		return fmt.Errorf("block cols is too big. %d > %d", bl.Cols, MaxBlockCols)
	}
	if bl.ChunkSize != ChunkSize {
		return errors.New("chunk size must be 32")
	}
	return nil
}

func (bl BlockLength) String() string {
	return fmt.Sprintf("BlockLength{%dx%d, chunk %d}", bl.Rows, bl.Cols, bl.ChunkSize)
}

package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/232425wxy/dactr/extension"
	"github.com/232425wxy/dactr/types"
)

var (
	// ErrBlockNotStarted 在区块开始构建之前或者结束构建之后访问长度记录
	ErrBlockNotStarted = errors.New("block build not started")
	// ErrBlockInProgress 上一个区块还没有结束构建，就试图开始构建新的区块
	ErrBlockInProgress = errors.New("block build already in progress")
)

// BlockLengthRecord 是一个区块结束构建时的长度记录，数据可用性网格依据它布局区块数据
type BlockLengthRecord struct {
	Height     int64
	Dimensions types.BlockLength
	Lens       types.AllExtrinsicsLen
}

// BlockBuildState 是正在构建的区块的长度记录，它的生命周期与区块绑定：
//	Begin    区块开始构建时创建一个空的记录
//	Update   每接受一笔交易，整体替换一次记录
//	Finalize 区块构建结束时取走记录并重置
// 读取和替换发生在同一个临界区内，所以两笔同时被处理的交易不会交错地修改记录
type BlockBuildState struct {
	mtx sync.Mutex

	started bool
	height  int64
	dims    types.BlockLength
	// 区块刚开始、还没有接受任何交易时为 nil
	lens *types.AllExtrinsicsLen
}

var _ extension.BlockLengthState = (*BlockBuildState)(nil)

// NewBlockBuildState 返回一个还没有开始构建区块的 BlockBuildState
func NewBlockBuildState() *BlockBuildState {
	return &BlockBuildState{}
}

// Begin 开始构建高度为 height 的区块，网格尺寸在整个区块的构建过程中保持不变
func (s *BlockBuildState) Begin(height int64, dims types.BlockLength) error {
	if err := dims.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid block length: %w", err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.started {
		return ErrBlockInProgress
	}
	s.started = true
	s.height = height
	s.dims = dims
	s.lens = nil
	return nil
}

// IsStarted 判断是否正在构建区块
func (s *BlockBuildState) IsStarted() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.started
}

// Height 返回正在构建的区块的高度
func (s *BlockBuildState) Height() int64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.height
}

// Dimensions 返回正在构建的区块的网格尺寸
func (s *BlockBuildState) Dimensions() types.BlockLength {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.dims
}

// Snapshot 返回当前长度记录的拷贝，还没有接受任何交易时返回一个空记录
func (s *BlockBuildState) Snapshot() types.AllExtrinsicsLen {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.lens == nil {
		return types.NewAllExtrinsicsLen()
	}
	return s.lens.Clone()
}

// View 实现 extension.BlockLengthState
func (s *BlockBuildState) View(fn func(dims types.BlockLength, current *types.AllExtrinsicsLen) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.started {
		return ErrBlockNotStarted
	}
	if s.lens == nil {
		return fn(s.dims, nil)
	}
	cp := s.lens.Clone()
	return fn(s.dims, &cp)
}

// Update 实现 extension.BlockLengthState
func (s *BlockBuildState) Update(fn func(dims types.BlockLength, current *types.AllExtrinsicsLen) (types.AllExtrinsicsLen, error)) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.started {
		return ErrBlockNotStarted
	}
	var current *types.AllExtrinsicsLen
	if s.lens != nil {
		cp := s.lens.Clone()
		current = &cp
	}
	next, err := fn(s.dims, current)
	if err != nil {
		return err
	}
	s.lens = &next
	return nil
}

// Clone 返回一个与当前状态脱离的拷贝，对拷贝的修改不会影响原来的状态，
// 交易池用它来检查交易而不占用区块的空间
func (s *BlockBuildState) Clone() *BlockBuildState {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	cp := &BlockBuildState{
		started: s.started,
		height:  s.height,
		dims:    s.dims,
	}
	if s.lens != nil {
		lens := s.lens.Clone()
		cp.lens = &lens
	}
	return cp
}

// Record 返回正在构建的区块当前的长度记录，不会结束区块的构建
func (s *BlockBuildState) Record() (BlockLengthRecord, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.started {
		return BlockLengthRecord{}, ErrBlockNotStarted
	}
	return s.recordLocked(), nil
}

// Finalize 结束区块的构建，取走长度记录并重置状态
func (s *BlockBuildState) Finalize() (BlockLengthRecord, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.started {
		return BlockLengthRecord{}, ErrBlockNotStarted
	}
	rec := s.recordLocked()
	s.started = false
	s.lens = nil
	return rec, nil
}

func (s *BlockBuildState) recordLocked() BlockLengthRecord {
	rec := BlockLengthRecord{
		Height:     s.height,
		Dimensions: s.dims,
		Lens:       types.NewAllExtrinsicsLen(),
	}
	if s.lens != nil {
		rec.Lens = s.lens.Clone()
	}
	return rec
}

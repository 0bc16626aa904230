package extension

import (
	"fmt"
	"math"

	srlog "github.com/232425wxy/dactr/libs/log"
	"github.com/232425wxy/dactr/types"
)

const (
	// Identifier 是这项检查的名字，交易处理流程用它做诊断和追踪
	Identifier = "CheckAppId"

	// MaxIterations 组合调用最多能展开的次数（不含），展开计数达到它就拒绝交易，
	// 也就是说 batch 里面不能再嵌套 batch
	MaxIterations = 2
)

// NextAppIDProvider 提供最小的尚未注册的 AppID，在一次检查的过程中它不会变化
type NextAppIDProvider interface {
	NextApplicationID() types.AppID
}

// NextAppIDFunc 让普通函数也能作为 NextAppIDProvider 使用
type NextAppIDFunc func() types.AppID

func (f NextAppIDFunc) NextApplicationID() types.AppID {
	return f()
}

// BlockLengthState 是正在构建的区块的长度记录，CheckAppId 只通过它读取网格尺寸和当前的记录
type BlockLengthState interface {
	// View 在临界区内只读地访问网格尺寸和当前记录，区块刚开始时 current 为 nil
	View(fn func(dims types.BlockLength, current *types.AllExtrinsicsLen) error) error

	// Update 在同一个临界区内读取当前记录，然后用 fn 返回的新记录整体替换它，
	// fn 返回错误时什么都不会改变
	Update(fn func(dims types.BlockLength, current *types.AllExtrinsicsLen) (types.AllExtrinsicsLen, error)) error
}

//-----------------------------------------------------------------------------

// Checker 持有 CheckAppId 需要的外部协作者，一个节点只需要一个 Checker，
// 然后为每一笔交易调用 For 得到一个 CheckAppID
type Checker struct {
	nextAppID NextAppIDProvider
	logger    srlog.CRLogger
	metrics   *Metrics
}

// CheckerOption 用来配置 Checker 的选项
type CheckerOption func(*Checker)

// WithLogger 设置日志记录器，只有区块容量耗尽时才会记录日志
func WithLogger(logger srlog.CRLogger) CheckerOption {
	return func(ck *Checker) { ck.logger = logger }
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) CheckerOption {
	return func(ck *Checker) { ck.metrics = m }
}

// NewChecker 创建一个 Checker，nextAppID 不能为 nil
func NewChecker(nextAppID NextAppIDProvider, options ...CheckerOption) *Checker {
	if nextAppID == nil {
		panic("nil NextAppIDProvider")
	}
	ck := &Checker{
		nextAppID: nextAppID,
		logger:    srlog.NewNopLogger(),
		metrics:   NopMetrics(),
	}
	for _, option := range options {
		option(ck)
	}
	return ck
}

// BlockFinalized 在区块结束构建之后调用，把已占用 scalar 的指标归零
func (ck *Checker) BlockFinalized() {
	ck.metrics.ScalarsUsed.Update(0)
}

// For 返回检查附带 appID 的交易的 CheckAppID
func (ck *Checker) For(appID types.AppID) CheckAppID {
	return CheckAppID{appID: appID, ck: ck}
}

// NextExtrinsicsLen 计算把一笔长度为 length 的交易记到 appID 名下之后区块新的长度记录：
//	1. 将 length 转换成 uint32，转换不了就拒绝
//	2. 计算网格能容纳的 scalar 总数 rows * cols
//	3. 在 current 的拷贝上累加该交易填充后的长度
//	4. 计算所有应用占用的 scalar 总数
//	5. 总数不超过网格容量就返回新记录，否则记录一条警告日志并拒绝
// 任何一步溢出都返回 ErrMaxPaddedLenExceeded，current 本身永远不会被修改
func (ck *Checker) NextExtrinsicsLen(
	appID types.AppID,
	length int,
	dims types.BlockLength,
	current *types.AllExtrinsicsLen,
) (types.AllExtrinsicsLen, error) {
	if length < 0 || uint64(length) > math.MaxUint32 {
		return types.AllExtrinsicsLen{}, ErrMaxPaddedLenExceeded
	}

	maxScalars, ok := dims.MaxScalars()
	if !ok {
		return types.AllExtrinsicsLen{}, ErrMaxPaddedLenExceeded
	}

	var next types.AllExtrinsicsLen
	if current != nil {
		next = current.Clone()
	} else {
		next = types.NewAllExtrinsicsLen()
	}
	if _, ok := next.AddPadded(appID, uint32(length)); !ok {
		return types.AllExtrinsicsLen{}, ErrMaxPaddedLenExceeded
	}

	totalScalars, ok := next.TotalNumScalars()
	if !ok {
		return types.AllExtrinsicsLen{}, ErrMaxPaddedLenExceeded
	}

	if totalScalars > maxScalars {
		ck.logger.Warnw(fmt.Sprintf("Padded block length (max %d scalars) is exhausted, requested %d", maxScalars, totalScalars),
			"app_id", appID, "max_scalars", maxScalars, "requested", totalScalars)
		return types.AllExtrinsicsLen{}, ErrMaxPaddedLenExceeded
	}
	return next, nil
}

//-----------------------------------------------------------------------------

// CheckAppID 检查一笔交易附带的 AppID：
//	- DataAvailability.submit_data 可以使用已经注册的非零 AppID
//	- Utility.batch/batch_all/force_batch 只有在包装的调用全都是 submit_data 时才可以使用非零 AppID
//	- 其他任何调用都必须使用 AppID 0
// 同时它还保证区块头生成时数据可用性网格能够容纳区块里所有的数据
type CheckAppID struct {
	appID types.AppID
	ck    *Checker
}

var _ types.AppIDGetter = CheckAppID{}

// AppID 返回交易附带的 AppID
func (c CheckAppID) AppID() types.AppID {
	return c.appID
}

// Identifier 返回这项检查的名字
func (c CheckAppID) Identifier() string {
	return Identifier
}

func (c CheckAppID) String() string {
	return fmt.Sprintf("%s: %v", Identifier, c.appID)
}

// ValidateAppID 遍历调用结构，判断 AppID 对其中的每一个叶子调用是否都是合法的。
// 使用显式的栈而不是递归，组合调用每展开一次计数器加一，计数器达到 MaxIterations 就拒绝，
// 因此遍历的工作量只取决于交易本身的大小。next AppID 只在第一次遇到 submit_data 时读取一次
func (c CheckAppID) ValidateAppID(call *types.Call) error {
	if c.appID.IsSystem() {
		return nil
	}

	stack := []*types.Call{call}
	var (
		nextAppID  types.AppID
		fetched    bool
		iterations int
	)

	for len(stack) > 0 {
		top := len(stack) - 1
		cur := stack[top]
		stack = stack[:top]

		if cur.IsSubmitData() {
			if !fetched {
				nextAppID = c.ck.nextAppID.NextApplicationID()
				fetched = true
			}
			if c.appID >= nextAppID {
				return ErrInvalidAppID
			}
			continue
		}

		inner, ok := cur.BatchedCalls()
		if !ok {
			return ErrForbiddenAppID
		}
		iterations++
		if iterations >= MaxIterations {
			return ErrMaxRecursionExceeded
		}
		stack = append(stack, inner...)
	}

	return nil
}

// DoValidate 先检查 AppID，再在 st 的同一个临界区内计算并提交新的区块长度记录，
// 两步都通过交易才被接受，否则返回第一个失败的原因，并且不会修改任何状态
func (c CheckAppID) DoValidate(call *types.Call, length int, st BlockLengthState) error {
	err := c.doValidate(call, length, st)
	c.ck.metrics.Block.observe(err)
	return err
}

func (c CheckAppID) doValidate(call *types.Call, length int, st BlockLengthState) error {
	if err := c.ValidateAppID(call); err != nil {
		return err
	}

	var used uint32
	err := st.Update(func(dims types.BlockLength, current *types.AllExtrinsicsLen) (types.AllExtrinsicsLen, error) {
		next, err := c.ck.NextExtrinsicsLen(c.appID, length, dims, current)
		if err != nil {
			return next, err
		}
		used, _ = next.TotalNumScalars()
		return next, nil
	})
	if err != nil {
		return err
	}
	c.ck.metrics.ScalarsUsed.Update(int64(used))
	return nil
}

// Validate 用于交易池准入：做与 DoValidate 完全相同的检查，但不提交新的长度记录，
// 因此交易进入交易池并不会占用区块的空间
func (c CheckAppID) Validate(call *types.Call, length int, st BlockLengthState) error {
	err := c.validate(call, length, st)
	c.ck.metrics.Pool.observe(err)
	return err
}

func (c CheckAppID) validate(call *types.Call, length int, st BlockLengthState) error {
	if err := c.ValidateAppID(call); err != nil {
		return err
	}
	return st.View(func(dims types.BlockLength, current *types.AllExtrinsicsLen) error {
		_, err := c.ck.NextExtrinsicsLen(c.appID, length, dims, current)
		return err
	})
}

// PreDispatch 用于把交易打包进正在构建的区块，等同于 DoValidate
func (c CheckAppID) PreDispatch(call *types.Call, length int, st BlockLengthState) error {
	return c.DoValidate(call, length, st)
}

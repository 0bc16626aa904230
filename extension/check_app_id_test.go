package extension

import (
	"math"
	"sync"
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/232425wxy/dactr/types"
)

// memState 是 BlockLengthState 的一个最简单的实现
type memState struct {
	mtx  sync.Mutex
	dims types.BlockLength
	lens *types.AllExtrinsicsLen
}

func newMemState(rows, cols uint32) *memState {
	return &memState{dims: types.NewBlockLength(rows, cols)}
}

func (s *memState) View(fn func(types.BlockLength, *types.AllExtrinsicsLen) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.lens == nil {
		return fn(s.dims, nil)
	}
	cp := s.lens.Clone()
	return fn(s.dims, &cp)
}

func (s *memState) Update(fn func(types.BlockLength, *types.AllExtrinsicsLen) (types.AllExtrinsicsLen, error)) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var cur *types.AllExtrinsicsLen
	if s.lens != nil {
		cp := s.lens.Clone()
		cur = &cp
	}
	next, err := fn(s.dims, cur)
	if err != nil {
		return err
	}
	s.lens = &next
	return nil
}

func (s *memState) scalars() uint32 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.lens == nil {
		return 0
	}
	n, _ := s.lens.TotalNumScalars()
	return n
}

// countingNext 记录 NextApplicationID 被调用的次数
type countingNext struct {
	next  types.AppID
	calls int
}

func (c *countingNext) NextApplicationID() types.AppID {
	c.calls++
	return c.next
}

func submit() *types.Call { return types.NewSubmitDataCall([]byte("data")) }
func remark() *types.Call { return types.NewRemarkCall([]byte("hello")) }

func TestValidateAppIDScenarios(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }))

	testCases := []struct {
		name  string
		appID types.AppID
		call  *types.Call
		err   error
	}{
		{"unregistered app id", 100, submit(), ErrInvalidAppID},
		{"system app id on remark", 0, remark(), nil},
		{"app id on remark", 1, remark(), ErrForbiddenAppID},
		{"app id on submit data", 1, submit(), nil},
		{"app id on batch of submit data", 1, types.NewBatchCall(submit(), submit(), submit()), nil},
		{"app id on mixed batch", 1, types.NewBatchCall(remark(), submit(), submit()), ErrForbiddenAppID},
		{"system app id on mixed batch", 0, types.NewBatchCall(remark(), submit(), submit()), nil},
		{"next app id itself", 2, submit(), ErrInvalidAppID},
		{"app id on batch_all", 1, types.NewBatchAllCall(submit(), submit()), nil},
		{"app id on force_batch", 1, types.NewForceBatchCall(submit()), nil},
		{"app id on transfer", 1, types.NewTransferCall([]byte{1}, 10), ErrForbiddenAppID},
		{"app id on create application key", 1, types.NewCreateApplicationKeyCall([]byte("k")), ErrForbiddenAppID},
		{"empty batch", 1, types.NewBatchCall(), nil},
		{"unregistered app id in batch", 5, types.NewBatchCall(submit()), ErrInvalidAppID},
		{"nested batch", 1, types.NewBatchCall(types.NewBatchCall(submit())), ErrMaxRecursionExceeded},
		{"nested empty batch", 1, types.NewBatchCall(types.NewForceBatchCall()), ErrMaxRecursionExceeded},
		{"system app id on nested batch", 0, types.NewBatchCall(types.NewBatchCall(remark())), nil},
		{"nil call", 1, nil, ErrForbiddenAppID},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := ck.For(tc.appID).ValidateAppID(tc.call)
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestValidateAppIDFetchesNextOnce(t *testing.T) {
	next := &countingNext{next: 10}
	ck := NewChecker(next)

	require.NoError(t, ck.For(0).ValidateAppID(submit()))
	assert.Equal(t, 0, next.calls)

	require.NoError(t, ck.For(3).ValidateAppID(types.NewBatchCall(submit(), submit(), submit(), submit())))
	assert.Equal(t, 1, next.calls)

	require.ErrorIs(t, ck.For(3).ValidateAppID(types.NewBatchCall(remark())), ErrForbiddenAppID)
	assert.Equal(t, 1, next.calls)
}

func TestDoValidateAccounting(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 3 }))
	st := newMemState(1, 4)

	// 30 字节填充后占 1 个 scalar，61 字节占 2 个
	require.NoError(t, ck.For(1).DoValidate(submit(), 30, st))
	assert.Equal(t, uint32(1), st.scalars())
	require.NoError(t, ck.For(2).DoValidate(submit(), 61, st))
	assert.Equal(t, uint32(3), st.scalars())

	// 应用 1 再追加 61 字节后共 91 字节，填充后占 3 个 scalar，总数 5 超过了 4
	err := ck.For(1).DoValidate(submit(), 61, st)
	require.ErrorIs(t, err, ErrMaxPaddedLenExceeded)
	assert.Equal(t, uint32(3), st.scalars())
	assert.Equal(t, uint32(30), st.lens.Get(1).Raw)

	// 空交易不会让应用 1 多占 scalar
	require.NoError(t, ck.For(1).DoValidate(submit(), 0, st))
	assert.Equal(t, uint32(3), st.scalars())

	require.NoError(t, ck.For(0).DoValidate(remark(), 30, st))
	assert.Equal(t, uint32(4), st.scalars())

	require.ErrorIs(t, ck.For(0).DoValidate(remark(), 1, st), ErrMaxPaddedLenExceeded)
	assert.Equal(t, uint32(4), st.scalars())
}

func TestDoValidateRejectsBeforeAccounting(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }))
	st := newMemState(4, 4)

	require.ErrorIs(t, ck.For(1).DoValidate(remark(), 10, st), ErrForbiddenAppID)
	require.ErrorIs(t, ck.For(7).DoValidate(submit(), 10, st), ErrInvalidAppID)
	assert.Nil(t, st.lens)
}

func TestNextExtrinsicsLenOverflow(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 1 }))
	dims := types.NewBlockLength(256, 256)

	_, err := ck.NextExtrinsicsLen(0, -1, dims, nil)
	require.ErrorIs(t, err, ErrMaxPaddedLenExceeded)

	var tooLong int64 = math.MaxUint32 + 1
	_, err = ck.NextExtrinsicsLen(0, int(tooLong), dims, nil)
	require.ErrorIs(t, err, ErrMaxPaddedLenExceeded)

	_, err = ck.NextExtrinsicsLen(0, 10, types.BlockLength{Rows: math.MaxUint32, Cols: 2, ChunkSize: types.ChunkSize}, nil)
	require.ErrorIs(t, err, ErrMaxPaddedLenExceeded)

	cur := types.NewAllExtrinsicsLen()
	_, ok := cur.AddPadded(0, 1000)
	require.True(t, ok)
	var nearMax int64 = math.MaxUint32 - 500
	_, err = ck.NextExtrinsicsLen(0, int(nearMax), dims, &cur)
	require.ErrorIs(t, err, ErrMaxPaddedLenExceeded)
	assert.Equal(t, uint32(1000), cur.Get(0).Raw)
}

func TestNextExtrinsicsLenDoesNotMutateCurrent(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }))
	dims := types.NewBlockLength(2, 2)

	cur := types.NewAllExtrinsicsLen()
	_, ok := cur.AddPadded(1, 30)
	require.True(t, ok)

	next, err := ck.NextExtrinsicsLen(1, 31, dims, &cur)
	require.NoError(t, err)
	assert.Equal(t, uint32(61), next.Get(1).Raw)
	assert.Equal(t, uint32(30), cur.Get(1).Raw)
}

func TestCapacityExhaustionIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }), WithLogger(zap.New(core).Sugar()))
	st := newMemState(1, 1)

	require.ErrorIs(t, ck.For(1).ValidateAppID(remark()), ErrForbiddenAppID)
	require.NoError(t, ck.For(1).DoValidate(submit(), 30, st))
	require.ErrorIs(t, ck.For(1).DoValidate(submit(), 1, st), ErrMaxPaddedLenExceeded)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Padded block length (max 1 scalars) is exhausted, requested 2", entries[0].Message)
}

func TestValidateIsDryRun(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }))
	st := newMemState(1, 1)

	require.NoError(t, ck.For(1).Validate(submit(), 30, st))
	require.NoError(t, ck.For(1).Validate(submit(), 30, st))
	assert.Nil(t, st.lens)

	require.NoError(t, ck.For(1).PreDispatch(submit(), 30, st))
	require.ErrorIs(t, ck.For(1).Validate(submit(), 30, st), ErrMaxPaddedLenExceeded)
	require.ErrorIs(t, ck.For(1).Validate(remark(), 0, st), ErrForbiddenAppID)
}

func TestDoValidateConcurrent(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }))
	st := newMemState(4, 16) // 64 个 scalar

	var (
		wg       sync.WaitGroup
		mtx      sync.Mutex
		accepted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 每笔交易追加 31 字节，正好 1 个 scalar
			if err := ck.For(1).DoValidate(submit(), 31, st); err == nil {
				mtx.Lock()
				accepted++
				mtx.Unlock()
			}
		}()
	}
	wg.Wait()

	// 第一笔交易之后应用 1 记录了 31 字节，填充后占 2 个 scalar，之后每笔加 1 个
	assert.Equal(t, 63, accepted)
	assert.Equal(t, uint32(64), st.scalars())
	assert.Equal(t, uint32(63*31), st.lens.Get(1).Raw)
}

func TestCheckAppIDAccessors(t *testing.T) {
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }))
	c := ck.For(7)

	var getter types.AppIDGetter = c
	assert.Equal(t, types.AppID(7), getter.AppID())
	assert.Equal(t, "CheckAppId", c.Identifier())
	assert.Equal(t, "CheckAppId: 7", c.String())

	assert.Panics(t, func() { NewChecker(nil) })
}

func TestErrorCodes(t *testing.T) {
	testCases := []struct {
		err  error
		code InvalidTxCode
		name string
	}{
		{ErrInvalidAppID, 137, "InvalidAppId"},
		{ErrForbiddenAppID, 138, "ForbiddenAppId"},
		{ErrMaxPaddedLenExceeded, 139, "MaxPaddedLenExceeded"},
		{ErrMaxRecursionExceeded, 140, "MaxRecursionExceeded"},
	}
	for _, tc := range testCases {
		code, ok := CodeOf(tc.err)
		require.True(t, ok)
		assert.Equal(t, tc.code, code)
		assert.Equal(t, tc.name, code.String())
	}

	_, ok := CodeOf(assert.AnError)
	assert.False(t, ok)
	assert.Equal(t, "InvalidTxCode(1)", InvalidTxCode(1).String())
}

func TestMetrics(t *testing.T) {
	r := metrics.NewRegistry()
	ck := NewChecker(NextAppIDFunc(func() types.AppID { return 2 }), WithMetrics(NewMetrics(r)))
	st := newMemState(1, 2)

	require.NoError(t, ck.For(1).DoValidate(submit(), 30, st))
	require.ErrorIs(t, ck.For(1).DoValidate(remark(), 30, st), ErrForbiddenAppID)
	require.ErrorIs(t, ck.For(9).Validate(submit(), 30, st), ErrInvalidAppID)
	require.ErrorIs(t, ck.For(0).DoValidate(remark(), 62, st), ErrMaxPaddedLenExceeded)

	count := func(name string) int64 {
		return r.Get("check_app_id." + name).(metrics.Counter).Count()
	}
	assert.Equal(t, int64(1), count("block.accepted"))
	assert.Equal(t, int64(0), count("pool.accepted"))
	assert.Equal(t, int64(1), count("block.rejected.ForbiddenAppId"))
	assert.Equal(t, int64(1), count("pool.rejected.InvalidAppId"))
	assert.Equal(t, int64(0), count("block.rejected.InvalidAppId"))
	assert.Equal(t, int64(1), count("block.rejected.MaxPaddedLenExceeded"))
	assert.Equal(t, int64(0), count("block.rejected.MaxRecursionExceeded"))
	assert.Equal(t, int64(1), r.Get("check_app_id.scalars_used").(metrics.Gauge).Value())

	// 交易池准入和区块打包分开计数
	require.NoError(t, ck.For(1).Validate(submit(), 10, newMemState(1, 2)))
	assert.Equal(t, int64(1), count("pool.accepted"))
	assert.Equal(t, int64(1), count("block.accepted"))

	ck.BlockFinalized()
	assert.Equal(t, int64(0), r.Get("check_app_id.scalars_used").(metrics.Gauge).Value())
}

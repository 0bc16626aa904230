package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaddedLen(t *testing.T) {
	testCases := []struct {
		raw    uint32
		padded uint32
	}{
		{0, 31},
		{1, 31},
		{30, 31},
		{31, 62},
		{61, 62},
		{62, 93},
	}
	for _, tc := range testCases {
		got, ok := PaddedLen(tc.raw)
		require.True(t, ok)
		require.Equal(t, tc.padded, got, "raw %d", tc.raw)
	}

	_, ok := PaddedLen(math.MaxUint32)
	require.False(t, ok)
}

func TestAddPaddedAccumulatesPerApp(t *testing.T) {
	all := NewAllExtrinsicsLen()

	padded, ok := all.AddPadded(1, 40)
	require.True(t, ok)
	require.Equal(t, uint32(62), padded)

	padded, ok = all.AddPadded(1, 40)
	require.True(t, ok)
	require.Equal(t, uint32(93), padded)
	require.Equal(t, AppExtrinsicsLen{Raw: 80, Padded: 93}, all.Get(1))

	_, ok = all.AddPadded(0, 10)
	require.True(t, ok)

	total, ok := all.TotalNumScalars()
	require.True(t, ok)
	require.Equal(t, uint32(3+1), total)

	raw, ok := all.TotalRaw()
	require.True(t, ok)
	require.Equal(t, uint32(90), raw)
	require.Equal(t, []AppID{0, 1}, all.AppIDs())
}

func TestAddPaddedOverflowLeavesStateUntouched(t *testing.T) {
	all := NewAllExtrinsicsLen()
	_, ok := all.AddPadded(3, math.MaxUint32-1)
	require.False(t, ok, "padding should overflow")
	require.Equal(t, 0, all.Len())

	_, ok = all.AddPadded(3, 100)
	require.True(t, ok)
	_, ok = all.AddPadded(3, math.MaxUint32)
	require.False(t, ok)
	require.Equal(t, uint32(100), all.Get(3).Raw)
}

func TestZeroValueAllExtrinsicsLen(t *testing.T) {
	var all AllExtrinsicsLen
	total, ok := all.TotalNumScalars()
	require.True(t, ok)
	require.Zero(t, total)

	cp := all.Clone()
	_, ok = cp.AddPadded(5, 1)
	require.True(t, ok)
	require.Equal(t, 0, all.Len())
	require.Equal(t, 1, cp.Len())
}

func TestCloneIsIndependent(t *testing.T) {
	all := NewAllExtrinsicsLen()
	all.AddPadded(1, 10)
	cp := all.Clone()
	cp.AddPadded(1, 100)
	cp.AddPadded(2, 1)
	require.Equal(t, uint32(10), all.Get(1).Raw)
	require.Equal(t, 1, all.Len())
}

func TestAllExtrinsicsLenEncodeDecode(t *testing.T) {
	all := NewAllExtrinsicsLen()
	all.AddPadded(9, 1000)
	all.AddPadded(0, 12)
	all.AddPadded(3, 31)

	got, err := DecodeAllExtrinsicsLen(all.Encode())
	require.NoError(t, err)
	require.Equal(t, all.AppIDs(), got.AppIDs())
	for _, id := range all.AppIDs() {
		require.Equal(t, all.Get(id), got.Get(id))
	}

	empty, err := DecodeAllExtrinsicsLen(NewAllExtrinsicsLen().Encode())
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())

	// 重复或者乱序的 AppID
	_, err = DecodeAllExtrinsicsLen([]byte{2, 5, 1, 5, 1})
	require.Error(t, err)
	_, err = DecodeAllExtrinsicsLen([]byte{1, 5})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestBlockLength(t *testing.T) {
	bl := DefaultBlockLength()
	require.NoError(t, bl.ValidateBasic())
	max, ok := bl.MaxScalars()
	require.True(t, ok)
	require.Equal(t, uint32(256*256), max)

	_, ok = NewBlockLength(1<<16, 1<<16).MaxScalars()
	require.False(t, ok)

	require.Error(t, NewBlockLength(3, 4).ValidateBasic())
	require.Error(t, NewBlockLength(4, 0).ValidateBasic())
	require.Error(t, NewBlockLength(MaxBlockRows*2, 4).ValidateBasic())
	require.Error(t, NewBlockLength(4, MaxBlockCols*2).ValidateBasic())
	require.Error(t, BlockLength{Rows: 4, Cols: 4, ChunkSize: 16}.ValidateBasic())
	require.NoError(t, NewBlockLength(1, 1).ValidateBasic())
}

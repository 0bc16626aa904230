package node

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	cfg "github.com/232425wxy/dactr/config"
	"github.com/232425wxy/dactr/extension"
	"github.com/232425wxy/dactr/libs/log"
	mempl "github.com/232425wxy/dactr/mempool"
	sm "github.com/232425wxy/dactr/state"
	"github.com/232425wxy/dactr/types"
)

func testConfig() *cfg.Config {
	config := cfg.DefaultConfig()
	config.ChainID = "da-test"
	config.DBBackend = string(dbm.MemDBBackend)
	config.DataAvailability.BlockRows = 2
	config.DataAvailability.BlockCols = 2
	config.DataAvailability.GenesisAppKeys = []string{cfg.SystemAppKey, "Ethereum"}
	return config
}

func newTestNode(t *testing.T) *Node {
	n, err := NewNode(testConfig(), MemDBProvider, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func submitTx(id types.AppID, data string) types.Tx {
	return types.NewExtrinsic(id, types.NewSubmitDataCall([]byte(data))).Encode()
}

func TestNodeGenesis(t *testing.T) {
	n := newTestNode(t)

	assert.Equal(t, types.AppID(2), n.Registry().NextApplicationID())
	id, err := n.Registry().Lookup("Ethereum")
	require.NoError(t, err)
	assert.Equal(t, types.AppID(1), id)

	bl, err := n.BlockLength()
	require.NoError(t, err)
	assert.Equal(t, types.NewBlockLength(2, 2), bl)
	assert.Equal(t, int64(0), n.LastHeight())
}

func TestNodeCheckTx(t *testing.T) {
	n := newTestNode(t)

	require.NoError(t, n.CheckTx(submitTx(1, "hello")))
	assert.Equal(t, 1, n.Mempool().Size())

	err := n.CheckTx(submitTx(5, "hello"))
	require.ErrorIs(t, err, extension.ErrInvalidAppID)
	assert.True(t, mempl.IsPreCheckError(err))

	err = n.CheckTx(types.NewExtrinsic(1, types.NewRemarkCall([]byte("hi"))).Encode())
	require.ErrorIs(t, err, extension.ErrForbiddenAppID)

	err = n.CheckTx(types.NewExtrinsic(1, types.NewBatchCall(types.NewBatchCall())).Encode())
	require.ErrorIs(t, err, extension.ErrMaxRecursionExceeded)

	// 比整个网格还大的交易直接被拒绝
	err = n.CheckTx(submitTx(1, string(make([]byte, 4*31))))
	require.Error(t, err)
	assert.True(t, mempl.IsPreCheckError(err))

	// 交易池准入不占用区块空间
	assert.Equal(t, 0, n.BlockState().Snapshot().Len())
}

func TestNodeProduceBlock(t *testing.T) {
	n := newTestNode(t)

	// 网格只有 4 个 scalar，应用 1 的交易每笔 34 个字节，系统的交易每笔 21 个字节
	txs := types.Txs{
		submitTx(1, strings.Repeat("a", 30)),
		submitTx(1, strings.Repeat("b", 30)),
		submitTx(0, "system data 00000"),
		submitTx(1, strings.Repeat("c", 30)),
		submitTx(0, "system data 11111"),
	}
	for _, tx := range txs {
		require.NoError(t, n.CheckTx(tx))
	}

	rec, included, err := n.ProduceBlock(-1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Height)
	assert.Equal(t, int64(1), n.LastHeight())

	scalars, ok := rec.Lens.TotalNumScalars()
	require.True(t, ok)
	assert.LessOrEqual(t, scalars, uint32(4))
	raw, ok := rec.Lens.TotalRaw()
	require.True(t, ok)
	assert.Equal(t, included.TotalBytes(), int64(raw))
	assert.Equal(t, types.Txs{txs[0], txs[1], txs[2]}, included)

	// 打包的交易离开交易池，剩下的等待下一个区块
	assert.Equal(t, len(txs)-len(included), n.Mempool().Size())

	stored, err := n.StateStore().LoadExtrinsicsLen(1)
	require.NoError(t, err)
	assert.Equal(t, rec.Lens.AppIDs(), stored.AppIDs())

	_, included2, err := n.ProduceBlock(-1)
	require.NoError(t, err)
	assert.NotEmpty(t, included2)
	assert.Equal(t, int64(2), n.LastHeight())
}

func TestNodeDeliverTx(t *testing.T) {
	n := newTestNode(t)

	require.ErrorIs(t, n.DeliverTx(submitTx(1, "x")), sm.ErrBlockNotStarted)

	height, err := n.BeginBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), height)

	require.NoError(t, n.DeliverTx(submitTx(1, "x")))
	var rejected ErrTxRejected
	err = n.DeliverTx(submitTx(9, "x"))
	require.True(t, errors.As(err, &rejected))
	require.ErrorIs(t, err, extension.ErrInvalidAppID)
	require.ErrorIs(t, n.DeliverTx(types.Tx{0x00}), types.ErrBadVersion)

	rec, err := n.EndBlock()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Lens.Len())
	assert.Equal(t, uint32(len(submitTx(1, "x"))), rec.Lens.Get(1).Raw)
}

func TestNodeRegisterAppAndBlockLength(t *testing.T) {
	n := newTestNode(t)

	require.ErrorIs(t, n.CheckTx(submitTx(2, "rollup")), extension.ErrInvalidAppID)
	id, err := n.RegisterApp("rollup")
	require.NoError(t, err)
	assert.Equal(t, types.AppID(2), id)
	require.NoError(t, n.CheckTx(submitTx(2, "rollup")))

	require.Error(t, n.SetBlockLength(types.NewBlockLength(3, 2)))
	require.NoError(t, n.SetBlockLength(types.NewBlockLength(4, 4)))

	height, err := n.BeginBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), height)
	assert.Equal(t, types.NewBlockLength(4, 4), n.BlockState().Dimensions())
	_, err = n.EndBlock()
	require.NoError(t, err)
}

func TestNodeBlockProducer(t *testing.T) {
	blocks := make(chan sm.BlockLengthRecord, 4)
	n, err := NewNode(testConfig(), MemDBProvider, log.NewNopLogger(),
		WithBlockProducer(10*time.Millisecond, -1),
		WithBlockCallback(func(rec sm.BlockLengthRecord, included types.Txs) {
			blocks <- rec
		}),
	)
	require.NoError(t, err)

	require.NoError(t, n.Start())
	assert.True(t, n.IsRunning())
	require.NoError(t, n.CheckTx(submitTx(1, "hello")))

	select {
	case rec := <-blocks:
		assert.Equal(t, int64(1), rec.Height)
		assert.Equal(t, uint32(9), rec.Lens.Get(1).Raw)
	case <-time.After(5 * time.Second):
		t.Fatal("no block produced")
	}

	require.NoError(t, n.Stop())
	assert.False(t, n.IsRunning())
	assert.Equal(t, 0, n.Mempool().Size())
	require.NoError(t, n.Close())
}

func TestNodeCheckTxDuringBlockBuild(t *testing.T) {
	n := newTestNode(t)

	_, err := n.BeginBlock()
	require.NoError(t, err)
	// 104 个字节的交易占满 2x2 的网格
	require.NoError(t, n.DeliverTx(submitTx(1, strings.Repeat("x", 100))))
	scalars, _ := n.BlockState().Snapshot().TotalNumScalars()
	require.Equal(t, uint32(4), scalars)

	// 正在构建的区块已经满了，但交易仍然可以进入交易池，等待下一个区块
	small := submitTx(0, "hello")
	require.NoError(t, n.CheckTx(small))
	require.ErrorIs(t, n.DeliverTx(small), extension.ErrMaxPaddedLenExceeded)

	_, err = n.EndBlock()
	require.NoError(t, err)
	assert.Equal(t, 1, n.Mempool().Size())

	rec, included, err := n.ProduceBlock(-1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Height)
	assert.Equal(t, types.Txs{small}, included)
}

// failingBatchDB 在 fail 为 true 时让所有批量写入失败
type failingBatchDB struct {
	dbm.DB
	fail *bool
}

func (db failingBatchDB) NewBatch() dbm.Batch {
	return failingBatch{Batch: db.DB.NewBatch(), fail: db.fail}
}

type failingBatch struct {
	dbm.Batch
	fail *bool
}

func (b failingBatch) WriteSync() error {
	if *b.fail {
		return errors.New("disk full")
	}
	return b.Batch.WriteSync()
}

func TestNodeEndBlockSaveFailure(t *testing.T) {
	fail := false
	dbProvider := func(ctx *DBContext) (dbm.DB, error) {
		if ctx.ID == "state" {
			return failingBatchDB{DB: dbm.NewMemDB(), fail: &fail}, nil
		}
		return dbm.NewMemDB(), nil
	}
	n, err := NewNode(testConfig(), dbProvider, log.NewNopLogger())
	require.NoError(t, err)
	defer n.Close()

	_, err = n.BeginBlock()
	require.NoError(t, err)
	require.NoError(t, n.DeliverTx(submitTx(1, "hello")))

	fail = true
	_, err = n.EndBlock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// 保存失败时区块仍处于构建状态，长度记录保持不变
	assert.True(t, n.BlockState().IsStarted())
	assert.Equal(t, uint32(9), n.BlockState().Snapshot().Get(1).Raw)
	assert.Equal(t, int64(0), n.LastHeight())

	fail = false
	rec, err := n.EndBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Height)
	assert.Equal(t, uint32(9), rec.Lens.Get(1).Raw)
	assert.Equal(t, int64(1), n.LastHeight())
	assert.False(t, n.BlockState().IsStarted())

	stored, err := n.StateStore().LoadExtrinsicsLen(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), stored.Get(1).Raw)
}

func TestNodeEndBlockResetsScalarsGauge(t *testing.T) {
	n := newTestNode(t)

	_, err := n.BeginBlock()
	require.NoError(t, err)
	require.NoError(t, n.DeliverTx(submitTx(1, "hello")))
	gauge := n.MetricsRegistry().Get("check_app_id.scalars_used").(metrics.Gauge)
	assert.Equal(t, int64(1), gauge.Value())

	_, err = n.EndBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(0), gauge.Value())
}

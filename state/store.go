package state

import (
	"errors"
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/232425wxy/dactr/types"
)

//------------------------------------------------------------------------

const (
	blockLengthPrefix   = "block_length"
	extrinsicsLenPrefix = "extrinsics_len"
	lastHeightPrefix    = "last_height"
	dimensionsPrefix    = "dimensions"
)

func blockLengthKey() []byte {
	key, err := orderedcode.Append(nil, blockLengthPrefix)
	if err != nil {
		panic(err)
	}
	return key
}

func lastHeightKey() []byte {
	key, err := orderedcode.Append(nil, lastHeightPrefix)
	if err != nil {
		panic(err)
	}
	return key
}

func dimensionsKey(height int64) []byte {
	key, err := orderedcode.Append(nil, dimensionsPrefix, height)
	if err != nil {
		panic(err)
	}
	return key
}

func extrinsicsLenKey(height int64) []byte {
	key, err := orderedcode.Append(nil, extrinsicsLenPrefix, height)
	if err != nil {
		panic(err)
	}
	return key
}

//----------------------

// Store 持久化网格尺寸以及每个区块结束构建时的长度记录
type Store interface {
	// LoadBlockLength 加载当前的网格尺寸，如果还没有保存过，返回 types.DefaultBlockLength()
	LoadBlockLength() (types.BlockLength, error)
	// SaveBlockLength 保存新的网格尺寸，从下一个开始构建的区块起生效
	SaveBlockLength(types.BlockLength) error
	// SaveBlockLengthRecord 保存区块结束构建时的长度记录，同时把它的高度记为最新高度
	SaveBlockLengthRecord(BlockLengthRecord) error
	// LoadLastHeight 返回最近一个结束构建的区块的高度，还没有区块时返回 0
	LoadLastHeight() (int64, error)
	// LoadExtrinsicsLen 加载指定高度的区块的长度记录
	LoadExtrinsicsLen(height int64) (types.AllExtrinsicsLen, error)
	// LoadBlockLengthRecord 加载指定高度的区块的长度记录以及构建它时使用的网格尺寸
	LoadBlockLengthRecord(height int64) (BlockLengthRecord, error)
}

// ErrNoRecordForHeight 指定高度没有长度记录
var ErrNoRecordForHeight = errors.New("no extrinsics len record for height")

// dbStore wraps a db (github.com/tendermint/tm-db)
type dbStore struct {
	db dbm.DB
}

var _ Store = (*dbStore)(nil)

func NewStore(db dbm.DB) Store {
	return dbStore{db}
}

func (store dbStore) LoadBlockLength() (types.BlockLength, error) {
	buf, err := store.db.Get(blockLengthKey())
	if err != nil {
		return types.BlockLength{}, err
	}
	if len(buf) == 0 {
		return types.DefaultBlockLength(), nil
	}
	bl, err := decodeBlockLength(buf)
	if err != nil {
		return types.BlockLength{}, fmt.Errorf("LoadBlockLength: data has been corrupted: %w", err)
	}
	return bl, nil
}

func (store dbStore) SaveBlockLength(bl types.BlockLength) error {
	if err := bl.ValidateBasic(); err != nil {
		return err
	}
	return store.db.SetSync(blockLengthKey(), encodeBlockLength(bl))
}

func (store dbStore) SaveBlockLengthRecord(rec BlockLengthRecord) error {
	if rec.Height <= 0 {
		return fmt.Errorf("invalid record height %d", rec.Height)
	}
	batch := store.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(extrinsicsLenKey(rec.Height), rec.Lens.Encode()); err != nil {
		return err
	}
	if err := batch.Set(dimensionsKey(rec.Height), encodeBlockLength(rec.Dimensions)); err != nil {
		return err
	}
	if err := batch.Set(lastHeightKey(), proto.EncodeVarint(uint64(rec.Height))); err != nil {
		return err
	}
	return batch.WriteSync()
}

func (store dbStore) LoadLastHeight() (int64, error) {
	buf, err := store.db.Get(lastHeightKey())
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	h, n := proto.DecodeVarint(buf)
	if n == 0 || n != len(buf) {
		return 0, errors.New("LoadLastHeight: data has been corrupted")
	}
	return int64(h), nil
}

func (store dbStore) LoadExtrinsicsLen(height int64) (types.AllExtrinsicsLen, error) {
	buf, err := store.db.Get(extrinsicsLenKey(height))
	if err != nil {
		return types.AllExtrinsicsLen{}, err
	}
	if buf == nil {
		return types.AllExtrinsicsLen{}, fmt.Errorf("%w %d", ErrNoRecordForHeight, height)
	}
	return types.DecodeAllExtrinsicsLen(buf)
}

func (store dbStore) LoadBlockLengthRecord(height int64) (BlockLengthRecord, error) {
	lens, err := store.LoadExtrinsicsLen(height)
	if err != nil {
		return BlockLengthRecord{}, err
	}
	buf, err := store.db.Get(dimensionsKey(height))
	if err != nil {
		return BlockLengthRecord{}, err
	}
	dims, err := decodeBlockLength(buf)
	if err != nil {
		return BlockLengthRecord{}, fmt.Errorf("LoadBlockLengthRecord: data has been corrupted: %w", err)
	}
	return BlockLengthRecord{Height: height, Dimensions: dims, Lens: lens}, nil
}

//------------------------------------------------------------------------

func encodeBlockLength(bl types.BlockLength) []byte {
	buf := proto.EncodeVarint(uint64(bl.Rows))
	buf = append(buf, proto.EncodeVarint(uint64(bl.Cols))...)
	return append(buf, proto.EncodeVarint(uint64(bl.ChunkSize))...)
}

func decodeBlockLength(bz []byte) (types.BlockLength, error) {
	var fields [3]uint32
	for i := range fields {
		x, n := proto.DecodeVarint(bz)
		if n == 0 || x > uint64(^uint32(0)) {
			return types.BlockLength{}, errors.New("malformed block length")
		}
		fields[i] = uint32(x)
		bz = bz[n:]
	}
	if len(bz) != 0 {
		return types.BlockLength{}, types.ErrTrailingBytes
	}
	return types.BlockLength{Rows: fields[0], Cols: fields[1], ChunkSize: fields[2]}, nil
}

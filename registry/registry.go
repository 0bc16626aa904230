package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogo/protobuf/proto"
	gogotypes "github.com/gogo/protobuf/types"
	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/232425wxy/dactr/extension"
	"github.com/232425wxy/dactr/types"
)

var (
	// ErrEmptyKey 应用名不能为空
	ErrEmptyKey = errors.New("application key is empty")
	// ErrKeyTooLong 应用名超过了长度上限
	ErrKeyTooLong = errors.New("application key is too long")
	// ErrKeyExists 应用名已经被注册过了
	ErrKeyExists = errors.New("application key already exists")
	// ErrKeyNotFound 应用名还没有被注册
	ErrKeyNotFound = errors.New("application key not found")
	// ErrAppIDsExhausted 所有的 AppID 都已经分配完了
	ErrAppIDsExhausted = errors.New("application ids exhausted")
	// ErrAlreadyInitialized 创世应用已经注册过了
	ErrAlreadyInitialized = errors.New("registry already initialized")
)

const (
	prefixAppKey    = "app_key"
	prefixAppID     = "app_id"
	prefixNextAppID = "next_app_id"
)

func appKeyKey(key string) []byte {
	return mustAppend(prefixAppKey, key)
}

func appIDKey(id types.AppID) []byte {
	return mustAppend(prefixAppID, uint64(id))
}

func nextAppIDKey() []byte {
	return mustAppend(prefixNextAppID)
}

func mustAppend(items ...interface{}) []byte {
	key, err := orderedcode.Append(nil, items...)
	if err != nil {
		panic(err)
	}
	return key
}

//-----------------------------------------------------------------------------

// Registry 记录应用名与 AppID 之间的对应关系，并维护下一个可分配的 AppID。
// 应用名按注册的先后顺序依次分配 AppID，AppID 0 在创世时分配给系统应用
type Registry struct {
	mtx       sync.RWMutex
	db        dbm.DB
	maxKeyLen int

	// 缓存数据库里的 next_app_id
	next types.AppID
}

var _ extension.NextAppIDProvider = (*Registry)(nil)

// NewRegistry 从 db 中加载注册表，maxKeyLen 是应用名的最大长度
func NewRegistry(db dbm.DB, maxKeyLen int) (*Registry, error) {
	r := &Registry{db: db, maxKeyLen: maxKeyLen}
	bz, err := db.Get(nextAppIDKey())
	if err != nil {
		return nil, err
	}
	if bz != nil {
		var v gogotypes.UInt32Value
		if err := proto.Unmarshal(bz, &v); err != nil {
			return nil, fmt.Errorf("next app id has been corrupted: %w", err)
		}
		r.next = types.AppID(v.Value)
	}
	return r, nil
}

// Initialized 判断创世应用是否已经注册过
func (r *Registry) Initialized() (bool, error) {
	return r.db.Has(nextAppIDKey())
}

// InitGenesis 按顺序注册创世应用，只能在一个空的注册表上调用一次
func (r *Registry) InitGenesis(keys []string) error {
	ok, err := r.Initialized()
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	for _, key := range keys {
		if _, err := r.CreateApplicationKey(key); err != nil {
			return fmt.Errorf("genesis app key %q: %w", key, err)
		}
	}
	return nil
}

// CreateApplicationKey 为 key 分配下一个 AppID，并将 next_app_id 加一，
// 应用名与 AppID 的双向索引以及新的 next_app_id 在同一个 batch 里写入
func (r *Registry) CreateApplicationKey(key string) (types.AppID, error) {
	if err := r.validateKey(key); err != nil {
		return 0, err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	exists, err := r.db.Has(appKeyKey(key))
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("%w: %q", ErrKeyExists, key)
	}

	id := r.next
	next, ok := id.Next()
	if !ok {
		return 0, ErrAppIDsExhausted
	}

	idBz, err := proto.Marshal(&gogotypes.UInt32Value{Value: uint32(id)})
	if err != nil {
		return 0, err
	}
	nextBz, err := proto.Marshal(&gogotypes.UInt32Value{Value: uint32(next)})
	if err != nil {
		return 0, err
	}

	batch := r.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(appKeyKey(key), idBz); err != nil {
		return 0, err
	}
	if err := batch.Set(appIDKey(id), []byte(key)); err != nil {
		return 0, err
	}
	if err := batch.Set(nextAppIDKey(), nextBz); err != nil {
		return 0, err
	}
	if err := batch.WriteSync(); err != nil {
		return 0, err
	}

	r.next = next
	return id, nil
}

func (r *Registry) validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > r.maxKeyLen {
		return fmt.Errorf("%w: %d > %d", ErrKeyTooLong, len(key), r.maxKeyLen)
	}
	return nil
}

// Lookup 返回应用名 key 对应的 AppID
func (r *Registry) Lookup(key string) (types.AppID, error) {
	bz, err := r.db.Get(appKeyKey(key))
	if err != nil {
		return 0, err
	}
	// AppID 0 编码后是空的字节切片
	if len(bz) == 0 {
		exists, err := r.db.Has(appKeyKey(key))
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
	}
	var v gogotypes.UInt32Value
	if err := proto.Unmarshal(bz, &v); err != nil {
		return 0, fmt.Errorf("app id of %q has been corrupted: %w", key, err)
	}
	return types.AppID(v.Value), nil
}

// KeyOf 返回 AppID 对应的应用名
func (r *Registry) KeyOf(id types.AppID) (string, error) {
	bz, err := r.db.Get(appIDKey(id))
	if err != nil {
		return "", err
	}
	if bz == nil {
		return "", fmt.Errorf("%w: app id %v", ErrKeyNotFound, id)
	}
	return string(bz), nil
}

// NextApplicationID 返回下一个将被分配的 AppID，所有小于它的 AppID 都已经注册过了
func (r *Registry) NextApplicationID() types.AppID {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.next
}

// AppKey 是一条注册记录
type AppKey struct {
	ID  types.AppID
	Key string
}

// List 按照 AppID 从小到大的顺序返回所有注册记录
func (r *Registry) List() ([]AppKey, error) {
	start := mustAppend(prefixAppID, uint64(0))
	end := mustAppend(prefixAppID, uint64(^uint32(0))+1)
	it, err := r.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var keys []AppKey
	for ; it.Valid(); it.Next() {
		var (
			prefix string
			id     uint64
		)
		if _, err := orderedcode.Parse(string(it.Key()), &prefix, &id); err != nil {
			return nil, err
		}
		keys = append(keys, AppKey{ID: types.AppID(id), Key: string(it.Value())})
	}
	return keys, it.Error()
}

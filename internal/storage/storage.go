package storage

import (
	"sync"

	"github.com/huahuoao/lsm-kv/internal/storage/engine/lsmtree"
	"github.com/huahuoao/lsm-kv/internal/utils"
	"github.com/panjf2000/gnet/v2/pkg/logging"
)

// Pair 是范围查询返回的键值对。
type Pair struct {
	Key   uint64 `json:"key"`
	Value string `json:"value"`
}

// Store 用互斥锁包装 LSMTree，可以在多个 goroutine 之间共享。
type Store struct {
	mu     sync.Mutex
	tree   *lsmtree.LSMTree
	logger logging.Logger
}

// Open 打开 dir 下的数据库，目录不存在时自动创建。
func Open(dir string, options ...func(*lsmtree.LSMTree)) (*Store, error) {
	if err := utils.Mkdir(dir); err != nil {
		return nil, err
	}

	tree, err := lsmtree.Open(dir, options...)
	if err != nil {
		return nil, err
	}
	return &Store{tree: tree, logger: tree.Logger()}, nil
}

// OpenDefault 打开默认目录下的数据库。
func OpenDefault(options ...func(*lsmtree.LSMTree)) (*Store, error) {
	return Open(utils.GetDatabaseSourcePath(), options...)
}

// Put 写入键值对。
func (s *Store) Put(key uint64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tree.Put(key, []byte(value)); err != nil {
		s.logger.Errorf("put %d: %v", key, err)
		return err
	}
	return nil
}

// Get 返回键对应的值，不存在或读取失败时返回空字符串。
// 需要区分这两种情况时使用 GetErr。
func (s *Store) Get(key uint64) string {
	value, _, err := s.GetErr(key)
	if err != nil {
		return ""
	}
	return value
}

// GetErr 返回键对应的值以及键是否存在。
func (s *Store) GetErr(key uint64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, exists, err := s.tree.Get(key)
	if err != nil {
		s.logger.Errorf("get %d: %v", key, err)
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}
	return string(value), true, nil
}

// Del 删除键，返回删除前键是否存在。
func (s *Store) Del(key uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := s.tree.Delete(key)
	if err != nil {
		s.logger.Errorf("del %d: %v", key, err)
		return false, err
	}
	return deleted, nil
}

// Scan 返回 [key1, key2] 内的键值对，按键升序。
func (s *Store) Scan(key1, key2 uint64) ([]Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kvs, err := s.tree.Scan(key1, key2)
	if err != nil {
		s.logger.Errorf("scan [%d, %d]: %v", key1, key2, err)
		return nil, err
	}

	pairs := make([]Pair, len(kvs))
	for i, kv := range kvs {
		pairs[i] = Pair{Key: kv.Key, Value: string(kv.Value)}
	}
	return pairs, nil
}

// Reset 清空所有数据。
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tree.Reset()
}

// Stats 返回引擎的统计信息。
func (s *Store) Stats() lsmtree.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tree.Stats()
}

// Close 刷盘并关闭数据库。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tree.Close()
}

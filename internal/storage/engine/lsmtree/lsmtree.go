package lsmtree

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/huahuoao/lsm-kv/internal/utils"
	"github.com/panjf2000/gnet/v2/pkg/logging"
	"go.uber.org/multierr"
)

// MaxValueSize 是允许的最大值大小。
// 数据区偏移量是 u32，单个值不能超过它。
const MaxValueSize = 1 << 30

var (
	// ErrValueTooLarge 当放入的值大于 MaxValueSize 时返回。
	ErrValueTooLarge = errors.New("value too large")
	// ErrClosed 当树已经关闭时返回。
	ErrClosed = errors.New("lsm tree closed")
	// ErrCorruptedDiskTable 当磁盘表文件无法解析时返回。
	ErrCorruptedDiskTable = errors.New("corrupted disk table")
	// ErrCorruptedWAL 当 WAL 中出现无法解析的记录时返回。
	ErrCorruptedWAL = errors.New("corrupted wal")
	// ErrUnknownCompression 当配置了不支持的压缩方式时返回。
	ErrUnknownCompression = errors.New("unknown compression")
	// ErrInvalidSize 当 MemTable 阈值或磁盘表上限不在 [头部块大小, MaxUint32] 内时返回。
	ErrInvalidSize = errors.New("invalid size")
)

// LSMTree (https://en.wikipedia.org/wiki/Log-structured_merge-tree)
// 是针对存储数据在文件中的分层日志结构合并树实现。
// 该实现不是 goroutine 安全的！如果需要，确保对树的访问是同步的。
type LSMTree struct {
	// 存储 LSM 树文件的目录的路径，
	// 必须为树的每个实例提供专用目录。
	dbDir string

	// 在执行任何写操作之前，先写入写前日志（WAL），然后才应用。
	wal        *os.File
	walEnabled bool
	walSync    bool

	// 所有尚未刷新到磁盘表中的更改。
	memTable *memTable
	// 如果 MemTable 加上头部块的大小（以字节为单位）超过阈值，
	// 必须将其刷新到文件系统。
	memTableThreshold int

	// 合并时单个磁盘表文件的大小上限。
	maxDiskTableSize int

	// 新磁盘表使用的压缩方式和对应的头部标志位。
	compression string
	flags       uint32

	// 每一层的磁盘表头缓存。
	// 第 0 层按时间戳排序，其余层按 (minKey, timestamp) 排序。
	levels [][]*diskTableHead
	// 当前存在的最高层号，没有任何层时为 -1。
	totalLevel int
	// 最近一次刷盘使用的时间戳。
	timestamp uint64

	recoveryWorkers int
	logger          logging.Logger
	rnd             *rand.Rand
	closed          bool
}

// MemTableThreshold 为 LSMTree 设置 memTableThreshold。
// 如果 MemTable 的大小（以字节为单位）超过阈值，必须
// 将其刷新到文件系统。
func MemTableThreshold(memTableThreshold int) func(*LSMTree) {
	return func(t *LSMTree) {
		t.memTableThreshold = memTableThreshold
	}
}

// MaxDiskTableSize 设置合并输出的单个磁盘表大小上限。
func MaxDiskTableSize(maxDiskTableSize int) func(*LSMTree) {
	return func(t *LSMTree) {
		t.maxDiskTableSize = maxDiskTableSize
	}
}

// WithWAL 开启或关闭写前日志。
func WithWAL(enabled bool) func(*LSMTree) {
	return func(t *LSMTree) {
		t.walEnabled = enabled
	}
}

// WALSync 为真时每次写入 WAL 后都调用 fsync。
func WALSync(sync bool) func(*LSMTree) {
	return func(t *LSMTree) {
		t.walSync = sync
	}
}

// WithCompression 设置新磁盘表的压缩方式：CompressionNone 或 CompressionSnappy。
func WithCompression(compression string) func(*LSMTree) {
	return func(t *LSMTree) {
		t.compression = compression
	}
}

// WithLogger 设置日志。
func WithLogger(logger logging.Logger) func(*LSMTree) {
	return func(t *LSMTree) {
		t.logger = logger
	}
}

// WithRand 设置跳表使用的随机数源。
func WithRand(rnd *rand.Rand) func(*LSMTree) {
	return func(t *LSMTree) {
		t.rnd = rnd
	}
}

// RecoveryWorkers 设置启动时并行加载磁盘表头的协程数量。
func RecoveryWorkers(n int) func(*LSMTree) {
	return func(t *LSMTree) {
		t.recoveryWorkers = n
	}
}

// Open 打开数据库。只有一个树的实例可以
// 读取和写入该目录。
func Open(dbDir string, options ...func(*LSMTree)) (*LSMTree, error) {
	if !utils.DirExists(dbDir) {
		return nil, fmt.Errorf("directory %s does not exist", dbDir)
	}

	t := &LSMTree{
		dbDir:             dbDir,
		walEnabled:        true,
		memTableThreshold: defaultMemTableThreshold,
		maxDiskTableSize:  defaultMaxDiskTableSize,
		compression:       CompressionNone,
		totalLevel:        -1,
		recoveryWorkers:   defaultRecoveryWorkers,
		logger:            logging.GetDefaultLogger(),
	}
	for _, option := range options {
		option(t)
	}
	if t.rnd == nil {
		t.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if t.recoveryWorkers <= 0 {
		t.recoveryWorkers = defaultRecoveryWorkers
	}

	// 磁盘表内的偏移量是 u32
	for _, size := range []int{t.memTableThreshold, t.maxDiskTableSize} {
		if size < headerBlockSize || uint64(size) > math.MaxUint32 {
			return nil, fmt.Errorf("%d not in [%d, %d]: %w", size, headerBlockSize, uint64(math.MaxUint32), ErrInvalidSize)
		}
	}

	switch t.compression {
	case CompressionNone, "":
		t.flags = 0
	case CompressionSnappy:
		t.flags = flagSnappy
	default:
		return nil, fmt.Errorf("%q: %w", t.compression, ErrUnknownCompression)
	}

	levels, totalLevel, timestamp, err := loadLevels(dbDir, t.recoveryWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to load disk tables: %w", err)
	}
	t.levels = levels
	t.totalLevel = totalLevel
	t.timestamp = timestamp

	t.memTable = newMemTable(t.rnd)
	if t.walEnabled {
		wal, err := openWAL(dbDir)
		if err != nil {
			return nil, err
		}
		memTable, err := loadMemTable(wal, t.rnd, t.logger)
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("failed to load entries from %s: %w", wal.Name(), err),
				wal.Close(),
			)
		}
		t.wal = wal
		t.memTable = memTable
	}

	t.logger.Infof("opened %s: total level %d, timestamp %d, %d entries in memtable",
		dbDir, t.totalLevel, t.timestamp, t.memTable.size())

	return t, nil
}

// Close 刷新 MemTable，再做一次合并，然后关闭所有分配的资源。
func (t *LSMTree) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	if t.memTable.size() > 0 {
		err = multierr.Append(err, t.flushMemTable())
	} else {
		err = multierr.Append(err, t.compact())
	}
	if t.wal != nil {
		if cerr := t.wal.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close file %s: %w", t.wal.Name(), cerr))
		}
	}

	return err
}

// Put 将键放入数据库中。
func (t *LSMTree) Put(key uint64, value []byte) error {
	if t.closed {
		return ErrClosed
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}

	return t.put(key, DataValue(value))
}

// put 写入一个值或墓碑。MemTable 放不下时先刷盘，空的 MemTable 总是接受写入。
func (t *LSMTree) put(key uint64, value Value) error {
	if t.memTable.size() > 0 && t.memTable.bytesAfter(key, value)+headerBlockSize > t.memTableThreshold {
		if err := t.flushMemTable(); err != nil {
			return err
		}
	}

	if t.walEnabled {
		if err := appendToWAL(t.wal, key, value, t.walSync); err != nil {
			return fmt.Errorf("failed to append to file %s: %w", t.wal.Name(), err)
		}
	}

	t.memTable.put(key, value)

	return nil
}

// Get 从数据库中获取键的值。
func (t *LSMTree) Get(key uint64) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrClosed
	}

	value, exists, err := t.get(key)
	if err != nil || !exists || value.IsTombstone() {
		return nil, false, err
	}

	return value.Bytes(), true, nil
}

// get 返回 key 最新的版本，可能是墓碑。
func (t *LSMTree) get(key uint64) (Value, bool, error) {
	if value, exists := t.memTable.get(key); exists {
		return value, true, nil
	}

	for level := 0; level < len(t.levels); level++ {
		var (
			found  *diskTableHead
			offset int64
			length uint32
		)
		// 同一层内可能有多个磁盘表包含该键，时间戳最大的最新
		for _, head := range t.levels[level] {
			if !head.mayContain(key) {
				continue
			}
			o, l, ok := head.lookupOffset(key)
			if !ok {
				continue
			}
			if found == nil || head.timestamp() > found.timestamp() {
				found, offset, length = head, o, l
			}
		}
		if found == nil {
			continue
		}

		value, err := fetchValue(found.path, offset, length, found.header.flags)
		if err != nil {
			return Value{}, false, fmt.Errorf("failed to search in disk table %s: %w", found.path, err)
		}
		return value, true, nil
	}

	return Value{}, false, nil
}

// Delete 根据键从数据库中删除值，返回删除前键是否存在。
func (t *LSMTree) Delete(key uint64) (bool, error) {
	if t.closed {
		return false, ErrClosed
	}

	_, exists, err := t.Get(key)
	if err != nil || !exists {
		return false, err
	}

	if err := t.put(key, Tombstone()); err != nil {
		return false, err
	}
	return true, nil
}

// Reset 清空 MemTable，删除所有磁盘表文件和层目录，并截断 WAL。
func (t *LSMTree) Reset() error {
	if t.closed {
		return ErrClosed
	}

	t.memTable.clear()

	var err error
	for level := 0; level < len(t.levels) || utils.DirExists(levelDir(t.dbDir, level)); level++ {
		if level < len(t.levels) {
			for _, head := range append([]*diskTableHead(nil), t.levels[level]...) {
				err = multierr.Append(err, t.removeDiskTable(head, level))
			}
		}
		err = multierr.Append(err, removeLevelDir(t.dbDir, level))
	}
	t.levels = nil
	t.totalLevel = -1
	t.timestamp = 0

	if t.walEnabled {
		wal, werr := clearWAL(t.dbDir, t.wal)
		if werr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to clear the WAL file: %w", werr))
		} else {
			t.wal = wal
		}
	}

	t.logger.Infof("reset %s", t.dbDir)
	return err
}

// flushMemTable 将当前的 MemTable 刷新到第 0 层并清除它，随后触发合并。
// 该函数期望在同步块中运行，
// 因此它不使用任何同步机制。
func (t *LSMTree) flushMemTable() error {
	if err := t.ensureLevel(0); err != nil {
		return fmt.Errorf("failed to create level 0: %w", err)
	}

	timestamp := t.timestamp + 1
	head, err := createDiskTable(t.memTable, levelDir(t.dbDir, 0), timestamp, t.flags)
	if err != nil {
		return err
	}
	t.timestamp = timestamp
	t.addDiskTable(head, 0)
	t.logger.Debugf("flushed %d entries to %s", head.count(), head.path)

	t.memTable.clear()
	if t.walEnabled {
		wal, err := clearWAL(t.dbDir, t.wal)
		if err != nil {
			return fmt.Errorf("failed to clear the WAL file: %w", err)
		}
		t.wal = wal
	}

	return t.compact()
}

// Logger 返回树使用的日志。
func (t *LSMTree) Logger() logging.Logger {
	return t.logger
}

// LevelStats 是单层的统计信息。
type LevelStats struct {
	Level      int   `json:"level"`
	DiskTables int   `json:"disk_tables"`
	Keys       int   `json:"keys"`
	Bytes      int64 `json:"bytes"`
}

// Stats 是树的整体统计信息。
type Stats struct {
	MemTableEntries int          `json:"memtable_entries"`
	MemTableBytes   int          `json:"memtable_bytes"`
	TotalLevel      int          `json:"total_level"`
	Timestamp       uint64       `json:"timestamp"`
	Levels          []LevelStats `json:"levels"`
}

// Stats 返回当前的统计信息。
func (t *LSMTree) Stats() Stats {
	s := Stats{
		MemTableEntries: t.memTable.size(),
		MemTableBytes:   t.memTable.bytes(),
		TotalLevel:      t.totalLevel,
		Timestamp:       t.timestamp,
		Levels:          make([]LevelStats, 0, len(t.levels)),
	}
	for level, heads := range t.levels {
		ls := LevelStats{Level: level, DiskTables: len(heads)}
		for _, head := range heads {
			ls.Keys += head.count()
			ls.Bytes += head.fileSize()
		}
		s.Levels = append(s.Levels, ls)
	}
	return s
}

// PrintStatus 打印当前树的状态，包括 memTable 和每一层的信息。
func (t *LSMTree) PrintStatus() {
	s := t.Stats()
	t.logger.Infof("MemTable: n:%d, b:%d kb", s.MemTableEntries, s.MemTableBytes/1024)
	for _, ls := range s.Levels {
		t.logger.Infof("level %d: tables:%d, n:%d, b:%d kb", ls.Level, ls.DiskTables, ls.Keys, ls.Bytes/1024)
	}
}

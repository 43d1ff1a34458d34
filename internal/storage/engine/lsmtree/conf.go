package lsmtree

const (
	// WAL 文件名。
	walFileName = "wal.db"
	// 层目录前缀，目录名为 level-0、level-1 ...
	levelDirPrefix = "level-"
	// 磁盘表文件后缀。
	diskTableSuffix = ".sst"

	// 头部固定字段：时间戳、键数量、标志位、最小键、最大键。
	headerFieldsSize = 8 + 4 + 4 + 8 + 8
	// 头部中过滤器区域的大小。
	filterSize = 10240
	// 头部块的总大小，固定不变。
	headerBlockSize = headerFieldsSize + filterSize
	// 稠密索引项：键 + 累计偏移量。
	indexEntrySize = 8 + 4
	// 每个值在数据区前面的标记字节。
	valueTagSize = 1
	// MemTable 中每个节点的估算开销。
	nodeOverhead = indexEntrySize + valueTagSize

	// 默认 MemTable 阈值，和单个磁盘表的上限一致。
	defaultMemTableThreshold = 2 * 1024 * 1024 // 2 MB
	// 默认单个磁盘表文件大小上限。
	defaultMaxDiskTableSize = 2 * 1024 * 1024 // 2 MB
	// 第 0 层一次合并的磁盘表数量。
	level0CompactionBatch = 3
	// 启动时并行加载磁盘表头的协程数量。
	defaultRecoveryWorkers = 8

	// 跳表参数。
	maxSkipListHeight = 18
	skipListP         = 0.5

	// 布隆过滤器参数：位数正好填满过滤器区域。
	filterBits   = filterSize * 8
	filterHashes = 4
)

// 头部标志位。
const (
	flagSnappy uint32 = 1 << iota
)

// 压缩方式。
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
)

// levelCapacity 返回第 level 层允许的最大磁盘表数量。
func levelCapacity(level int) int {
	return 1 << (level + 1)
}

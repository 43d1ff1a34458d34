package lsmtree

import (
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
)

// diskTableHead 是磁盘表在内存中的替身：只有头部和索引，没有数据。
// 借助它可以按键范围过滤磁盘表，并用二分查找定位值，而不读取数据区。
type diskTableHead struct {
	path   string
	suffix uint32
	header diskTableHeader
	filter *bloom.BloomFilter
	index  []indexEntry
}

// loadDiskTableHead 只读取磁盘表的头部块和索引。
func loadDiskTableHead(filePath string) (*diskTableHead, error) {
	_, suffix, ok := parseDiskTableFileName(path.Base(filePath))
	if !ok {
		return nil, fmt.Errorf("unexpected disk table name %s: %w", filePath, ErrCorruptedDiskTable)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk table %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat disk table %s: %w", filePath, err)
	}

	header, filter, index, err := readHeader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to load disk table head %s: %w", filePath, err)
	}

	return &diskTableHead{
		path:   filePath,
		suffix: suffix,
		header: header,
		filter: filter,
		index:  index,
	}, nil
}

func (h *diskTableHead) timestamp() uint64 {
	return h.header.timestamp
}

func (h *diskTableHead) count() int {
	return len(h.index)
}

func (h *diskTableHead) key(i int) uint64 {
	return h.index[i].key
}

// covers 判断 key 是否落在 [minKey, maxKey] 内。
func (h *diskTableHead) covers(key uint64) bool {
	return h.count() > 0 && key >= h.header.minKey && key <= h.header.maxKey
}

// overlaps 判断键范围是否与 [key1, key2] 相交。
func (h *diskTableHead) overlaps(key1, key2 uint64) bool {
	return h.count() > 0 && key1 <= h.header.maxKey && key2 >= h.header.minKey
}

// mayContain 先查过滤器，为 false 时键一定不存在。
func (h *diskTableHead) mayContain(key uint64) bool {
	return h.covers(key) && h.filter.Test(keyBytes(key))
}

// lowerBound 返回第一个键不小于 key 的下标。
func (h *diskTableHead) lowerBound(key uint64) int {
	return sort.Search(len(h.index), func(i int) bool {
		return h.index[i].key >= key
	})
}

// search 返回 key 的下标，不存在时返回 -1。
func (h *diskTableHead) search(key uint64) int {
	i := h.lowerBound(key)
	if i < len(h.index) && h.index[i].key == key {
		return i
	}
	return -1
}

// dataOffset 返回数据区在文件中的起始位置。
func (h *diskTableHead) dataOffset() int64 {
	return int64(headerBlockSize) + int64(len(h.index))*indexEntrySize
}

// valueRange 返回第 i 个值在文件中的位置和长度。
func (h *diskTableHead) valueRange(i int) (int64, uint32) {
	start := uint32(0)
	if i > 0 {
		start = h.index[i-1].offset
	}
	return h.dataOffset() + int64(start), h.index[i].offset - start
}

// lookupOffset 二分查找 key，返回值在文件中的位置和长度。
func (h *diskTableHead) lookupOffset(key uint64) (int64, uint32, bool) {
	if !h.covers(key) {
		return 0, 0, false
	}
	i := h.search(key)
	if i < 0 {
		return 0, 0, false
	}
	offset, length := h.valueRange(i)
	return offset, length, true
}

// fileSize 返回磁盘表文件的大小。
func (h *diskTableHead) fileSize() int64 {
	if len(h.index) == 0 {
		return h.dataOffset()
	}
	return h.dataOffset() + int64(h.index[len(h.index)-1].offset)
}

package lsmtree

import (
	"container/heap"
	"fmt"
	"math"
	"os"

	"go.uber.org/multierr"
)

// KeyValue 是范围查询返回的键值对。
type KeyValue struct {
	Key   uint64
	Value []byte
}

// scanCursor 遍历一个数据源中落在查询范围内的键。
// memTable 的数据源只有 entries；磁盘表的数据源在查询期间保持文件打开。
type scanCursor struct {
	timestamp uint64
	level     int

	entries []entry

	head *diskTableHead
	file *os.File

	pos, end int
}

func (c *scanCursor) valid() bool {
	return c.pos < c.end
}

func (c *scanCursor) key() uint64 {
	if c.head == nil {
		return c.entries[c.pos].key
	}
	return c.head.key(c.pos)
}

// value 读取当前位置的值，磁盘表通过 ReadAt 读取恰好一个值的字节。
func (c *scanCursor) value() (Value, error) {
	if c.head == nil {
		return c.entries[c.pos].value, nil
	}

	offset, length := c.head.valueRange(c.pos)
	buf := make([]byte, length)
	if _, err := c.file.ReadAt(buf, offset); err != nil {
		return Value{}, fmt.Errorf("failed to read %d bytes at %d from %s: %w", length, offset, c.head.path, err)
	}
	return decodeValue(buf, c.head.header.flags)
}

// cursorHeap 是按 (key 升序, level 升序, timestamp 降序) 排列的最小堆，
// 堆顶永远是当前最小键的最新版本。浅层总是比深层新，时间戳只在同一层内比较。
type cursorHeap []*scanCursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	ki, kj := h[i].key(), h[j].key()
	if ki != kj {
		return ki < kj
	}
	if h[i].level != h[j].level {
		return h[i].level < h[j].level
	}
	return h[i].timestamp > h[j].timestamp
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*scanCursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Scan 返回 [key1, key2] 内所有存在的键值对，键严格升序且不重复。
// key1 > key2 时返回空结果。
func (t *LSMTree) Scan(key1, key2 uint64) (result []KeyValue, err error) {
	if t.closed {
		return nil, ErrClosed
	}
	result = make([]KeyValue, 0)
	if key1 > key2 {
		return result, nil
	}

	h := make(cursorHeap, 0)
	if entries := t.memTable.scan(key1, key2); len(entries) > 0 {
		h = append(h, &scanCursor{
			timestamp: math.MaxUint64,
			level:     -1,
			entries:   entries,
			end:       len(entries),
		})
	}

	for level, heads := range t.levels {
		for _, head := range heads {
			if !head.overlaps(key1, key2) {
				continue
			}
			start := head.lowerBound(key1)
			end := head.lowerBound(key2)
			if end < head.count() && head.key(end) == key2 {
				end++
			}
			if start >= end {
				continue
			}

			f, oerr := os.Open(head.path)
			if oerr != nil {
				return nil, fmt.Errorf("failed to open disk table %s: %w", head.path, oerr)
			}
			defer multierr.AppendInvoke(&err, multierr.Close(f))

			h = append(h, &scanCursor{
				timestamp: head.timestamp(),
				level:     level,
				head:      head,
				file:      f,
				pos:       start,
				end:       end,
			})
		}
	}
	heap.Init(&h)

	var (
		lastKey uint64
		emitted bool
	)
	for h.Len() > 0 {
		c := h[0]
		key := c.key()

		// 同一个键只有第一次出现的版本有效
		if !emitted || key != lastKey {
			value, verr := c.value()
			if verr != nil {
				return nil, verr
			}
			lastKey, emitted = key, true
			if !value.IsTombstone() {
				result = append(result, KeyValue{Key: key, Value: value.Bytes()})
			}
		}

		c.pos++
		if c.valid() {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}

	return result, nil
}

package lsmtree

import (
	"math/rand"
	"time"
)

// nilNode 表示空指针。节点之间用 arena 中的下标相连。
const nilNode = -1

// headNode 是头节点在 arena 中的位置。
const headNode = 0

// 跳表节点
type skipListNode struct {
	key   uint64
	value Value
	next  []int // 每一层的后继节点下标
}

// SkipList 是写缓冲使用的跳表。节点保存在一个切片里，
// 删除后的空位通过 free 列表复用。
// 该实现不是 goroutine 安全的。
type SkipList struct {
	nodes    []skipListNode
	free     []int
	level    int // 当前使用的最大层数
	maxLevel int
	p        float64
	rnd      *rand.Rand
	num      int // 跳表的节点数量
	size     int // 索引开销与值长度之和
}

// NewSkipList 创建新的跳表，rnd 为 nil 时使用按时间播种的随机源。
func NewSkipList(maxLevel int, p float64, rnd *rand.Rand) *SkipList {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &SkipList{maxLevel: maxLevel, p: p, rnd: rnd}
	s.Reset()
	return s
}

// 随机生成层级
func (s *SkipList) randomLevel() int {
	level := 1
	for level < s.maxLevel && s.rnd.Float64() < s.p {
		level++
	}
	return level
}

func (s *SkipList) newNode(key uint64, value Value, level int) int {
	next := make([]int, level)
	for i := range next {
		next[i] = nilNode
	}
	node := skipListNode{key: key, value: value, next: next}
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.nodes[idx] = node
		return idx
	}
	s.nodes = append(s.nodes, node)
	return len(s.nodes) - 1
}

// findPredecessors 从最高层向下查找，在 update 中记录每一层最后一个
// 小于 key 的节点，返回第 0 层上的候选节点。
func (s *SkipList) findPredecessors(key uint64, update []int) int {
	current := headNode
	for i := s.level - 1; i >= 0; i-- {
		for {
			next := s.nodes[current].next[i]
			if next == nilNode || s.nodes[next].key >= key {
				break
			}
			current = next
		}
		if update != nil {
			update[i] = current
		}
	}
	return s.nodes[current].next[0]
}

// Insert 插入或覆盖一个键值对。
func (s *SkipList) Insert(key uint64, value Value) {
	update := make([]int, s.maxLevel)
	candidate := s.findPredecessors(key, update)

	// 键已存在，原地更新
	if candidate != nilNode && s.nodes[candidate].key == key {
		s.size += value.size() - s.nodes[candidate].value.size()
		s.nodes[candidate].value = value
		return
	}

	newLevel := s.randomLevel()
	if newLevel > s.level {
		for i := s.level; i < newLevel; i++ {
			update[i] = headNode
		}
		s.level = newLevel
	}

	idx := s.newNode(key, value, newLevel)
	for i := 0; i < newLevel; i++ {
		s.nodes[idx].next[i] = s.nodes[update[i]].next[i]
		s.nodes[update[i]].next[i] = idx
	}

	s.num++
	s.size += nodeOverhead + value.size()
}

// Search 查找键对应的值，返回的值可能是墓碑。
func (s *SkipList) Search(key uint64) (Value, bool) {
	candidate := s.findPredecessors(key, nil)
	if candidate != nilNode && s.nodes[candidate].key == key {
		return s.nodes[candidate].value, true
	}
	return Value{}, false
}

// Delete 物理删除节点，返回该键是否存在。
func (s *SkipList) Delete(key uint64) bool {
	update := make([]int, s.maxLevel)
	target := s.findPredecessors(key, update)
	if target == nilNode || s.nodes[target].key != key {
		return false
	}

	for i := 0; i < s.level; i++ {
		if s.nodes[update[i]].next[i] != target {
			break
		}
		s.nodes[update[i]].next[i] = s.nodes[target].next[i]
	}

	// 最高层变空时降低层数
	for s.level > 1 && s.nodes[headNode].next[s.level-1] == nilNode {
		s.level--
	}

	s.num--
	s.size -= nodeOverhead + s.nodes[target].value.size()
	s.nodes[target] = skipListNode{}
	s.free = append(s.free, target)
	return true
}

// Scan 返回 [key1, key2] 内的所有节点，按键升序，包含墓碑。
func (s *SkipList) Scan(key1, key2 uint64) []entry {
	var result []entry
	if key1 > key2 {
		return result
	}
	for current := s.findPredecessors(key1, nil); current != nilNode; current = s.nodes[current].next[0] {
		node := &s.nodes[current]
		if node.key > key2 {
			break
		}
		result = append(result, entry{key: node.key, value: node.value})
	}
	return result
}

// Reset 清空跳表。
func (s *SkipList) Reset() {
	head := skipListNode{next: make([]int, s.maxLevel)}
	for i := range head.next {
		head.next[i] = nilNode
	}
	s.nodes = []skipListNode{head}
	s.free = nil
	s.level = 1
	s.num = 0
	s.size = 0
}

// Bytes 返回当前估算的字节数。
func (s *SkipList) Bytes() uint32 {
	return uint32(s.size)
}

// BytesAfter 返回假设写入 key/value 之后的估算字节数，不修改跳表。
func (s *SkipList) BytesAfter(key uint64, value Value) int {
	if old, ok := s.Search(key); ok {
		return s.size - old.size() + value.size()
	}
	return s.size + nodeOverhead + value.size()
}

// Len 返回节点数量。
func (s *SkipList) Len() int {
	return s.num
}

// 跳表迭代器
type SkipListIterator struct {
	current int
	list    *SkipList
}

// Iterator 创建从第一个节点开始的迭代器
func (s *SkipList) Iterator() *SkipListIterator {
	return &SkipListIterator{
		current: s.nodes[headNode].next[0],
		list:    s,
	}
}

// HasNext 是否有下一个元素
func (it *SkipListIterator) HasNext() bool {
	return it.current != nilNode
}

// Next 返回当前的键值并前进
func (it *SkipListIterator) Next() (uint64, Value) {
	if !it.HasNext() {
		return 0, Value{}
	}
	node := &it.list.nodes[it.current]
	it.current = node.next[0]
	return node.key, node.value
}

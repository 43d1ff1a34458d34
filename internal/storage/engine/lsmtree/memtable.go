package lsmtree

import "math/rand"

// entry 是一个键值对，值可能是墓碑。
type entry struct {
	key   uint64
	value Value
}

// memTable 保存最近的写入，刷盘之前所有读写都先经过它。
// 这个包装器在跳表之上提供引擎需要的操作。
type memTable struct {
	data *SkipList
}

// newMemTable 返回一个新的 memTable。
func newMemTable(rnd *rand.Rand) *memTable {
	return &memTable{data: NewSkipList(maxSkipListHeight, skipListP, rnd)}
}

// put 插入或覆盖键值。
func (mt *memTable) put(key uint64, value Value) {
	mt.data.Insert(key, value)
}

// get 查找键对应的值。
// 注意！被标记删除的键也会返回 true，值为墓碑。
func (mt *memTable) get(key uint64) (Value, bool) {
	return mt.data.Search(key)
}

// scan 返回 [key1, key2] 内的键值对，包含墓碑。
func (mt *memTable) scan(key1, key2 uint64) []entry {
	return mt.data.Scan(key1, key2)
}

// bytes 返回当前估算的字节数。
func (mt *memTable) bytes() int {
	return int(mt.data.Bytes())
}

// bytesAfter 返回写入 key/value 之后的估算字节数。
func (mt *memTable) bytesAfter(key uint64, value Value) int {
	return mt.data.BytesAfter(key, value)
}

func (mt *memTable) size() int {
	return mt.data.Len()
}

// clear 清除所有数据。
func (mt *memTable) clear() {
	mt.data.Reset()
}

// iterator 返回按键升序的迭代器，会遍历墓碑。
func (mt *memTable) iterator() *SkipListIterator {
	return mt.data.Iterator()
}

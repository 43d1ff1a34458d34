package lsmtree

// 值在磁盘和 WAL 中的标记字节。
const (
	tagData      byte = 0
	tagTombstone byte = 1
)

// Value 是写缓冲、磁盘表和合并过程中统一流转的值。
// 删除用墓碑表示，不占用任何合法的取值。
type Value struct {
	data      []byte
	tombstone bool
}

// DataValue 返回一个普通值。
func DataValue(data []byte) Value {
	return Value{data: data}
}

// Tombstone 返回一个删除标记。
func Tombstone() Value {
	return Value{tombstone: true}
}

// IsTombstone 判断是否为删除标记。
func (v Value) IsTombstone() bool {
	return v.tombstone
}

// Bytes 返回值的内容，墓碑返回 nil。
func (v Value) Bytes() []byte {
	if v.tombstone {
		return nil
	}
	return v.data
}

// size 是估算写缓冲占用时使用的负载长度。
func (v Value) size() int {
	return len(v.data)
}

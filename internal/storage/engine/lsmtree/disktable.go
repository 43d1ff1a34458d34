package lsmtree

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/klauspost/compress/snappy"
	"github.com/valyala/bytebufferpool"
)

// 磁盘表文件格式（小端序）：
//
//	┌──────────────────────────────────────────────────────────┐
//	│ 头部块（固定 headerBlockSize 字节）                      │
//	│   timestamp u64 | count u32 | flags u32                  │
//	│   minKey u64 | maxKey u64                                │
//	│   布隆过滤器 filterSize 字节                             │
//	├──────────────────────────────────────────────────────────┤
//	│ 索引：count 个 (key u64, 累计结束偏移 u32)               │
//	├──────────────────────────────────────────────────────────┤
//	│ 数据：依次拼接的编码值 [tag][value]                      │
//	└──────────────────────────────────────────────────────────┘
//
// 第 i 个值位于 headerBlockSize + indexEntrySize*count + offset[i-1]，
// 长度为 offset[i] - offset[i-1]。

// newDiskTableFlag 是创建新磁盘表文件时使用的标志。
const newDiskTableFlag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// diskTableHeader 是头部块中的固定字段。
type diskTableHeader struct {
	timestamp uint64
	count     uint32
	flags     uint32
	minKey    uint64
	maxKey    uint64
}

// indexEntry 指向数据区中某个值的结束位置。
type indexEntry struct {
	key    uint64
	offset uint32
}

// diskTable 是完整加载的磁盘表，只在合并时短暂存在。
type diskTable struct {
	header diskTableHeader
	index  []indexEntry
	data   []byte
}

// value 返回第 i 个键对应的值。
func (t *diskTable) value(i int) (Value, error) {
	start := uint32(0)
	if i > 0 {
		start = t.index[i-1].offset
	}
	end := t.index[i].offset
	if end < start || int(end) > len(t.data) {
		return Value{}, fmt.Errorf("entry %d out of data block: %w", i, ErrCorruptedDiskTable)
	}
	return decodeValue(t.data[start:end], t.header.flags)
}

// keyBytes 是写入过滤器时键的字节表示。
func keyBytes(key uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return b[:]
}

// diskTableFileName 返回磁盘表的文件名，同一层内时间戳和后缀唯一确定一个文件。
func diskTableFileName(timestamp uint64, suffix uint32) string {
	return fmt.Sprintf("%d-%d%s", timestamp, suffix, diskTableSuffix)
}

// parseDiskTableFileName 解析文件名中的时间戳和后缀。
func parseDiskTableFileName(name string) (uint64, uint32, bool) {
	var timestamp uint64
	var suffix uint32
	if _, err := fmt.Sscanf(name, "%d-%d"+diskTableSuffix, &timestamp, &suffix); err != nil {
		return 0, 0, false
	}
	return timestamp, suffix, diskTableFileName(timestamp, suffix) == name
}

// diskTableBuilder 按键升序累积键值对，并负责控制单个磁盘表的大小。
type diskTableBuilder struct {
	maxSize int
	flags   uint32
	filter  *bloom.BloomFilter
	index   []indexEntry
	data    *bytebufferpool.ByteBuffer
	minKey  uint64
	maxKey  uint64
}

// newDiskTableBuilder 返回一个新的 diskTableBuilder，使用完毕后需要调用 release。
func newDiskTableBuilder(maxSize int, flags uint32) *diskTableBuilder {
	return &diskTableBuilder{
		maxSize: maxSize,
		flags:   flags,
		filter:  bloom.New(filterBits, filterHashes),
		data:    bytebufferpool.Get(),
	}
}

// add 追加一个键值对，键必须严格递增。
func (b *diskTableBuilder) add(key uint64, value Value) {
	if len(b.index) == 0 {
		b.minKey = key
	}
	b.maxKey = key
	b.data.B = appendValue(b.data.B, value, b.flags)
	b.index = append(b.index, indexEntry{key: key, offset: uint32(b.data.Len())})
	b.filter.Add(keyBytes(key))
}

// size 返回当前内容写成文件后的大小。
func (b *diskTableBuilder) size() int {
	return headerBlockSize + indexEntrySize*len(b.index) + b.data.Len()
}

func (b *diskTableBuilder) empty() bool {
	return len(b.index) == 0
}

// encodedLen 返回值编码后长度的上界。
func (b *diskTableBuilder) encodedLen(value Value) int {
	if value.IsTombstone() {
		return valueTagSize
	}
	if b.flags&flagSnappy != 0 {
		return valueTagSize + snappy.MaxEncodedLen(value.size())
	}
	return valueTagSize + value.size()
}

// checkSize 判断加入 value 后是否会超过单个磁盘表的上限；final 为真时表示
// 输入已经结束。返回 true 时调用方应当先写出当前内容，再开始新的磁盘表。
// 空的 builder 总是返回 false，因此单个超大的值也能写入。
func (b *diskTableBuilder) checkSize(value Value, final bool) bool {
	if b.empty() {
		return false
	}
	if final {
		return true
	}
	return b.size()+indexEntrySize+b.encodedLen(value) > b.maxSize
}

// reset 清空内容以便开始下一个磁盘表。
func (b *diskTableBuilder) reset() {
	b.filter.ClearAll()
	b.index = nil
	b.data.Reset()
}

// release 把缓冲区归还给缓冲池。
func (b *diskTableBuilder) release() {
	bytebufferpool.Put(b.data)
	b.data = nil
}

// writeTo 把当前内容写入 dir 下的新文件，返回对应的表头缓存。
func (b *diskTableBuilder) writeTo(dir string, timestamp uint64, suffix uint32) (*diskTableHead, error) {
	header := diskTableHeader{
		timestamp: timestamp,
		count:     uint32(len(b.index)),
		flags:     b.flags,
		minKey:    b.minKey,
		maxKey:    b.maxKey,
	}
	filePath := path.Join(dir, diskTableFileName(timestamp, suffix))
	if err := writeDiskTable(filePath, header, b.filter, b.index, b.data.B); err != nil {
		return nil, err
	}

	index := make([]indexEntry, len(b.index))
	copy(index, b.index)
	return &diskTableHead{
		path:   filePath,
		suffix: suffix,
		header: header,
		filter: b.filter.Copy(),
		index:  index,
	}, nil
}

// writeDiskTable 依次写出头部块、索引和数据。
func writeDiskTable(filePath string, header diskTableHeader, filter *bloom.BloomFilter, index []indexEntry, data []byte) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	head := make([]byte, headerBlockSize)
	binary.LittleEndian.PutUint64(head[0:8], header.timestamp)
	binary.LittleEndian.PutUint32(head[8:12], header.count)
	binary.LittleEndian.PutUint32(head[12:16], header.flags)
	binary.LittleEndian.PutUint64(head[16:24], header.minKey)
	binary.LittleEndian.PutUint64(head[24:32], header.maxKey)
	words := filter.BitSet().Bytes()
	for i := 0; i < len(words) && (i+1)*8 <= filterSize; i++ {
		binary.LittleEndian.PutUint64(head[headerFieldsSize+i*8:], words[i])
	}
	buf.B = append(buf.B, head...)

	var entry [indexEntrySize]byte
	for _, e := range index {
		binary.LittleEndian.PutUint64(entry[0:8], e.key)
		binary.LittleEndian.PutUint32(entry[8:12], e.offset)
		buf.B = append(buf.B, entry[:]...)
	}

	f, err := os.OpenFile(filePath, newDiskTableFlag, 0600)
	if err != nil {
		return fmt.Errorf("failed to open disk table %s: %w", filePath, err)
	}

	if _, err := f.Write(buf.B); err != nil {
		f.Close()
		return fmt.Errorf("failed to write disk table head %s: %w", filePath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write disk table data %s: %w", filePath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync disk table %s: %w", filePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close disk table %s: %w", filePath, err)
	}

	return nil
}

// createDiskTable 把 memTable 的全部内容写成 dir 下的一个磁盘表。
func createDiskTable(mt *memTable, dir string, timestamp uint64, flags uint32) (*diskTableHead, error) {
	b := newDiskTableBuilder(0, flags)
	defer b.release()

	for it := mt.iterator(); it.HasNext(); {
		key, value := it.Next()
		b.add(key, value)
	}

	head, err := b.writeTo(dir, timestamp, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk table %d: %w", timestamp, err)
	}
	return head, nil
}

// readHeader 读取并解析头部块和索引。
func readHeader(r io.Reader, fileSize int64) (diskTableHeader, *bloom.BloomFilter, []indexEntry, error) {
	var header diskTableHeader
	if fileSize < headerBlockSize {
		return header, nil, nil, fmt.Errorf("file too small (%d bytes): %w", fileSize, ErrCorruptedDiskTable)
	}

	head := make([]byte, headerBlockSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return header, nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	header.timestamp = binary.LittleEndian.Uint64(head[0:8])
	header.count = binary.LittleEndian.Uint32(head[8:12])
	header.flags = binary.LittleEndian.Uint32(head[12:16])
	header.minKey = binary.LittleEndian.Uint64(head[16:24])
	header.maxKey = binary.LittleEndian.Uint64(head[24:32])

	words := make([]uint64, filterSize/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(head[headerFieldsSize+i*8:])
	}
	filter := bloom.From(words, filterHashes)

	indexSize := int64(header.count) * indexEntrySize
	if headerBlockSize+indexSize > fileSize {
		return header, nil, nil, fmt.Errorf("index of %d entries exceeds file: %w", header.count, ErrCorruptedDiskTable)
	}

	raw := make([]byte, indexSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return header, nil, nil, fmt.Errorf("failed to read index: %w", err)
	}
	index := make([]indexEntry, header.count)
	for i := range index {
		index[i].key = binary.LittleEndian.Uint64(raw[i*indexEntrySize:])
		index[i].offset = binary.LittleEndian.Uint32(raw[i*indexEntrySize+8:])
		// 每个值至少有一个标记字节，偏移量必须严格递增
		if i > 0 && (index[i].key <= index[i-1].key || index[i].offset <= index[i-1].offset) {
			return header, nil, nil, fmt.Errorf("index entry %d out of order: %w", i, ErrCorruptedDiskTable)
		}
	}
	if len(index) > 0 {
		if index[0].offset == 0 || headerBlockSize+indexSize+int64(index[len(index)-1].offset) > fileSize {
			return header, nil, nil, fmt.Errorf("index offsets exceed file: %w", ErrCorruptedDiskTable)
		}
	}

	return header, filter, index, nil
}

// loadDiskTable 读取整个磁盘表，包括数据区。
func loadDiskTable(filePath string) (*diskTable, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk table %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat disk table %s: %w", filePath, err)
	}

	header, _, index, err := readHeader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to load disk table %s: %w", filePath, err)
	}

	dataLen := uint32(0)
	if len(index) > 0 {
		dataLen = index[len(index)-1].offset
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("failed to read data block of %s: %w", filePath, err)
	}

	return &diskTable{header: header, index: index, data: data}, nil
}

// fetchValue 打开文件，定位到 offset，读取恰好 length 个字节并解码。
func fetchValue(filePath string, offset int64, length uint32, flags uint32) (Value, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Value{}, fmt.Errorf("failed to open disk table %s: %w", filePath, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Value{}, fmt.Errorf("failed to seek to %d in %s: %w", offset, filePath, err)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return Value{}, fmt.Errorf("failed to read %d bytes at %d from %s: %w", length, offset, filePath, err)
	}

	return decodeValue(buf, flags)
}

package lsmtree

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/valyala/bytebufferpool"
)

// encode 对键和值进行编码，并将其写入指定的写入器。
// 返回写入的字节数以及可能发生的错误。
// 该函数必须与 decode 兼容：decode(encode(v)) == v。
func encode(key uint64, value Value, w io.Writer) (int, error) {
	// encoding format:
	// [encoded total length u32][key u64][tag][value]

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var head [12]byte
	binary.LittleEndian.PutUint32(head[0:4], uint32(8+valueTagSize+value.size()))
	binary.LittleEndian.PutUint64(head[4:12], key)
	buf.B = append(buf.B, head[:]...)
	buf.B = appendValue(buf.B, value, 0)

	return w.Write(buf.B)
}

// decode 从读取器中解码一个键值对。
// 记录完整结束时返回 io.EOF，记录被截断时返回 io.ErrUnexpectedEOF。
func decode(r io.Reader) (uint64, Value, error) {
	var encodedEntryLen [4]byte
	if _, err := io.ReadFull(r, encodedEntryLen[:]); err != nil {
		return 0, Value{}, err
	}

	entryLen := binary.LittleEndian.Uint32(encodedEntryLen[:])
	if entryLen < 8+valueTagSize || entryLen > 8+valueTagSize+MaxValueSize {
		return 0, Value{}, fmt.Errorf("entry length %d: %w", entryLen, ErrCorruptedWAL)
	}

	encodedEntry := make([]byte, entryLen)
	if _, err := io.ReadFull(r, encodedEntry); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, Value{}, err
	}

	key := binary.LittleEndian.Uint64(encodedEntry[0:8])
	value, err := decodeValue(encodedEntry[8:], 0)
	if err != nil {
		return 0, Value{}, err
	}

	return key, value, nil
}

// appendValue 把值编码后追加到 dst：一个标记字节加上内容，
// 开启 snappy 时内容被压缩，墓碑没有内容。
func appendValue(dst []byte, value Value, flags uint32) []byte {
	if value.IsTombstone() {
		return append(dst, tagTombstone)
	}
	dst = append(dst, tagData)
	if flags&flagSnappy != 0 {
		return append(dst, snappy.Encode(nil, value.data)...)
	}
	return append(dst, value.data...)
}

// decodeValue 是 appendValue 的逆操作。
func decodeValue(encoded []byte, flags uint32) (Value, error) {
	if len(encoded) == 0 {
		return Value{}, fmt.Errorf("empty value: %w", ErrCorruptedDiskTable)
	}

	switch encoded[0] {
	case tagTombstone:
		return Tombstone(), nil
	case tagData:
	default:
		return Value{}, fmt.Errorf("unknown value tag %d: %w", encoded[0], ErrCorruptedDiskTable)
	}

	payload := encoded[1:]
	if flags&flagSnappy != 0 {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return Value{}, fmt.Errorf("failed to decompress value: %w", err)
		}
		return DataValue(decoded), nil
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	return DataValue(data), nil
}

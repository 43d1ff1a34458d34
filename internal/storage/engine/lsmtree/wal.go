package lsmtree

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path"

	"github.com/panjf2000/gnet/v2/pkg/logging"
)

// openWAL 以读写模式打开（必要时创建）WAL 文件。
func openWAL(dbDir string) (*os.File, error) {
	walPath := path.Join(dbDir, walFileName)
	wal, err := os.OpenFile(walPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", walPath, err)
	}
	return wal, nil
}

// clearWAL 关闭当前文件，并以截断模式打开新文件。
func clearWAL(dbDir string, wal *os.File) (*os.File, error) {
	walPath := path.Join(dbDir, walFileName)

	if err := wal.Close(); err != nil {
		return nil, fmt.Errorf("failed to close the WAL file %s: %w", walPath, err)
	}

	wal, err := os.OpenFile(walPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open the file %s: %w", walPath, err)
	}

	return wal, nil
}

// appendToWAL 将条目追加到 WAL 文件中，sync 为真时每次写入都落盘。
func appendToWAL(wal *os.File, key uint64, value Value, sync bool) error {
	// 文件以读写模式打开，先定位到末尾
	if _, err := wal.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to the end: %w", err)
	}

	if _, err := encode(key, value, wal); err != nil {
		return fmt.Errorf("failed to encode and write to the file: %w", err)
	}

	if !sync {
		return nil
	}
	if err := wal.Sync(); err != nil {
		return fmt.Errorf("failed to sync the file: %w", err)
	}

	return nil
}

// loadMemTable 从 WAL 文件中重建 memTable。
// 进程在写入中途崩溃时，文件末尾可能残留半条记录：
// 它会被截断到最后一条完整记录处，并记录一条警告。
func loadMemTable(wal *os.File, rnd *rand.Rand, logger logging.Logger) (*memTable, error) {
	if _, err := wal.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to the beginning: %w", err)
	}

	mt := newMemTable(rnd)
	var offset int64
	for {
		key, value, err := decode(wal)
		if err == io.EOF {
			return mt, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			logger.Warnf("torn record at offset %d of %s, truncating", offset, wal.Name())
			if err := wal.Truncate(offset); err != nil {
				return nil, fmt.Errorf("failed to truncate %s: %w", wal.Name(), err)
			}
			return mt, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read: %w", err)
		}

		mt.put(key, value)
		offset += int64(4 + 8 + valueTagSize + value.size())
	}
}

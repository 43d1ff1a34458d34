package lsmtree

import (
	"fmt"
	"sort"

	"github.com/huahuoao/lsm-kv/internal/utils"
	"go.uber.org/multierr"
)

// compact 从第 0 层开始逐层检查，超过容量的层把一部分磁盘表合并到下一层。
// 合并可能让下一层超过容量，所以会一直检查到最高层。
func (t *LSMTree) compact() error {
	for level := 0; level < len(t.levels); level++ {
		for len(t.levels[level]) > levelCapacity(level) {
			if err := t.compactLevel(level); err != nil {
				return fmt.Errorf("failed to compact level %d: %w", level, err)
			}
		}
	}
	return nil
}

// compactInput 是一个参与合并的磁盘表及其所在层。
type compactInput struct {
	head  *diskTableHead
	level int
}

// pickBatch 选出第 level 层需要下沉的磁盘表：
// 第 0 层取最早的 level0CompactionBatch 个，其余层取超出容量的部分。
func (t *LSMTree) pickBatch(level int) []*diskTableHead {
	heads := t.levels[level]
	n := len(heads) - levelCapacity(level)
	if level == 0 {
		n = level0CompactionBatch
	}
	if n < 1 {
		n = 1
	}
	if n > len(heads) {
		n = len(heads)
	}
	return append([]*diskTableHead(nil), heads[:n]...)
}

// compactLevel 把第 level 层的一批磁盘表和下一层中与之重叠的磁盘表合并，
// 结果写入下一层。新文件全部写完后才删除旧文件，
// 中途失败时旧文件保持不变。
func (t *LSMTree) compactLevel(level int) error {
	next := level + 1
	batch := t.pickBatch(level)

	var (
		minKey, maxKey uint64
		ranged         bool
	)
	for _, head := range batch {
		if head.count() == 0 {
			continue
		}
		if !ranged || head.header.minKey < minKey {
			minKey = head.header.minKey
		}
		if !ranged || head.header.maxKey > maxKey {
			maxKey = head.header.maxKey
		}
		ranged = true
	}

	if err := t.ensureLevel(next); err != nil {
		return err
	}

	inputs := make([]compactInput, 0, len(batch))
	for _, head := range batch {
		inputs = append(inputs, compactInput{head: head, level: level})
	}
	if ranged {
		for _, head := range t.levels[next] {
			if head.overlaps(minKey, maxKey) {
				inputs = append(inputs, compactInput{head: head, level: next})
			}
		}
	}

	// 旧的先写入，新的覆盖旧的。深层整体比浅层旧，同一层内按时间戳
	sort.SliceStable(inputs, func(i, j int) bool {
		if inputs[i].level != inputs[j].level {
			return inputs[i].level > inputs[j].level
		}
		return inputs[i].head.timestamp() < inputs[j].head.timestamp()
	})

	merged := NewSkipList(maxSkipListHeight, skipListP, t.rnd)
	var maxTimestamp uint64
	for _, in := range inputs {
		table, err := loadDiskTable(in.head.path)
		if err != nil {
			return err
		}
		for i := range table.index {
			value, err := table.value(i)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", in.head.path, err)
			}
			merged.Insert(table.index[i].key, value)
		}
		if in.head.timestamp() > maxTimestamp {
			maxTimestamp = in.head.timestamp()
		}
	}

	// 合并到最高层时墓碑已经没有需要遮盖的旧版本
	dropTombstones := next >= t.totalLevel

	outputs, err := t.writeCompacted(merged, next, maxTimestamp, dropTombstones)
	if err != nil {
		return err
	}

	for _, head := range outputs {
		t.addDiskTable(head, next)
	}
	var rerr error
	for _, in := range inputs {
		rerr = multierr.Append(rerr, t.removeDiskTable(in.head, in.level))
	}
	sortLevelByKey(t.levels[next])

	t.logger.Infof("compacted %d disk tables from level %d into %d disk tables at level %d, %d keys",
		len(inputs), level, len(outputs), next, merged.Len())

	return rerr
}

// writeCompacted 把合并结果按大小上限切分写入第 level 层。
// 新文件使用输入中最大的时间戳，后缀大于该层已有的同时间戳文件。
// 写入失败时删除已经写出的文件。
func (t *LSMTree) writeCompacted(merged *SkipList, level int, timestamp uint64, dropTombstones bool) ([]*diskTableHead, error) {
	var suffix uint32
	for _, head := range t.levels[level] {
		if head.timestamp() == timestamp && head.suffix >= suffix {
			suffix = head.suffix + 1
		}
	}

	b := newDiskTableBuilder(t.maxDiskTableSize, t.flags)
	defer b.release()

	dir := levelDir(t.dbDir, level)
	var outputs []*diskTableHead
	write := func() error {
		head, err := b.writeTo(dir, timestamp, suffix)
		if err != nil {
			return err
		}
		outputs = append(outputs, head)
		suffix++
		b.reset()
		return nil
	}

	var err error
	for it := merged.Iterator(); it.HasNext(); {
		key, value := it.Next()
		if dropTombstones && value.IsTombstone() {
			continue
		}
		if b.checkSize(value, false) {
			if err = write(); err != nil {
				break
			}
		}
		b.add(key, value)
	}
	if err == nil && b.checkSize(Value{}, true) {
		err = write()
	}

	if err != nil {
		for _, head := range outputs {
			if _, rerr := utils.RemoveFile(head.path); rerr != nil {
				err = multierr.Append(err, rerr)
			}
		}
		return nil, err
	}

	return outputs, nil
}

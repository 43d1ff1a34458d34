package lsmtree

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/huahuoao/lsm-kv/internal/utils"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
)

// levelDir 返回第 level 层的目录。
func levelDir(dbDir string, level int) string {
	return path.Join(dbDir, levelDirPrefix+strconv.Itoa(level))
}

// sortLevel0 按写入顺序（时间戳）排列第 0 层。
func sortLevel0(heads []*diskTableHead) {
	sort.SliceStable(heads, func(i, j int) bool {
		if heads[i].timestamp() != heads[j].timestamp() {
			return heads[i].timestamp() < heads[j].timestamp()
		}
		return heads[i].suffix < heads[j].suffix
	})
}

// sortLevelByKey 按 (minKey, timestamp) 排列第 1 层及以上。
func sortLevelByKey(heads []*diskTableHead) {
	sort.SliceStable(heads, func(i, j int) bool {
		if heads[i].header.minKey != heads[j].header.minKey {
			return heads[i].header.minKey < heads[j].header.minKey
		}
		return heads[i].timestamp() < heads[j].timestamp()
	})
}

// loadLevels 依次探测 level-0、level-1 ... 目录，直到某一层不存在，
// 并用协程池并行加载每个磁盘表的头部。返回各层的表头、最高层号和最大时间戳。
func loadLevels(dbDir string, workers int) ([][]*diskTableHead, int, uint64, error) {
	type job struct {
		level int
		path  string
	}

	var jobs []job
	totalLevel := -1
	for level := 0; ; level++ {
		dir := levelDir(dbDir, level)
		if !utils.DirExists(dir) {
			break
		}
		totalLevel = level

		files, err := utils.ScanDir(dir)
		if err != nil {
			return nil, -1, 0, err
		}
		for _, name := range files {
			if path.Ext(name) != diskTableSuffix {
				continue
			}
			jobs = append(jobs, job{level: level, path: path.Join(dir, name)})
		}
	}

	levels := make([][]*diskTableHead, totalLevel+1)
	if len(jobs) == 0 {
		return levels, totalLevel, 0, nil
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, -1, 0, fmt.Errorf("failed to create recovery pool: %w", err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	heads := make([]*diskTableHead, len(jobs))
	for i, j := range jobs {
		i, j := i, j
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			head, err := loadDiskTableHead(j.path)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return
			}
			heads[i] = head
		})
		if err != nil {
			wg.Done()
			errs = multierr.Append(errs, fmt.Errorf("failed to submit %s: %w", j.path, err))
		}
	}
	wg.Wait()
	if errs != nil {
		return nil, -1, 0, errs
	}

	var timestamp uint64
	for i, j := range jobs {
		levels[j.level] = append(levels[j.level], heads[i])
		if heads[i].timestamp() > timestamp {
			timestamp = heads[i].timestamp()
		}
	}
	for level := range levels {
		if level == 0 {
			sortLevel0(levels[level])
		} else {
			sortLevelByKey(levels[level])
		}
	}

	return levels, totalLevel, timestamp, nil
}

// ensureLevel 保证第 level 层的缓存和目录都存在。
func (t *LSMTree) ensureLevel(level int) error {
	for len(t.levels) <= level {
		t.levels = append(t.levels, nil)
	}
	if err := utils.Mkdir(levelDir(t.dbDir, level)); err != nil {
		return err
	}
	if level > t.totalLevel {
		t.totalLevel = level
	}
	return nil
}

// addDiskTable 把表头加入第 level 层的缓存。
func (t *LSMTree) addDiskTable(head *diskTableHead, level int) {
	t.levels[level] = append(t.levels[level], head)
}

// removeDiskTable 从缓存中移除表头并删除对应文件。
// 文件已经不存在时只记录日志，不视为错误。
func (t *LSMTree) removeDiskTable(head *diskTableHead, level int) error {
	heads := t.levels[level]
	for i, h := range heads {
		if h == head {
			t.levels[level] = append(heads[:i:i], heads[i+1:]...)
			break
		}
	}

	existed, err := utils.RemoveFile(head.path)
	if err != nil {
		return err
	}
	if !existed {
		t.logger.Warnf("disk table %s does not exist, skipping deletion", head.path)
	}
	return nil
}

// removeLevelDir 删除第 level 层目录下剩余的文件，再删除目录本身。
func removeLevelDir(dbDir string, level int) error {
	dir := levelDir(dbDir, level)
	if !utils.DirExists(dir) {
		return nil
	}

	files, err := utils.ScanDir(dir)
	if err != nil {
		return err
	}
	for _, name := range files {
		if _, rerr := utils.RemoveFile(path.Join(dir, name)); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}
	return multierr.Append(err, utils.RemoveDir(dir))
}

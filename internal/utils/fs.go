package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

// DirExists 判断目录是否存在。
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Mkdir 创建目录，目录已存在时什么也不做。
func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// ScanDir 返回目录下所有普通文件的文件名，按名字排序。
func ScanDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RemoveFile 删除文件，返回文件原本是否存在。
func RemoveFile(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to remove file %s: %w", path, err)
	}
	return true, nil
}

// RemoveDir 删除空目录，目录不存在时什么也不做。
func RemoveDir(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove directory %s: %w", path, err)
	}
	return nil
}

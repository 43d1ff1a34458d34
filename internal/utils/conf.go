package utils

import (
	"os"
	"path/filepath"
)

const (
	databaseSourcePath = "lsm_huahuo"
)

// GetDatabaseSourcePath 返回默认的数据目录：用户主目录下的 lsm_huahuo。
func GetDatabaseSourcePath() string {
	home := os.Getenv("HOME") // 在类Unix系统中
	if home == "" {
		home = os.Getenv("USERPROFILE") // 在Windows系统中
	}
	return filepath.Join(home, databaseSourcePath)
}

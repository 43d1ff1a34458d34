package lsmtree

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// Config 是 JSON 格式的配置文件，字段为零值时使用默认值。
type Config struct {
	DataDir           string `json:"data_dir"`
	MemTableThreshold int    `json:"memtable_threshold"`
	MaxDiskTableSize  int    `json:"max_disk_table_size"`
	WAL               *bool  `json:"wal"`
	WALSync           bool   `json:"wal_sync"`
	Compression       string `json:"compression"`
	RecoveryWorkers   int    `json:"recovery_workers"`
	LogFile           string `json:"log_file"`
	LogLevel          string `json:"log_level"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	wal := true
	return Config{
		MemTableThreshold: defaultMemTableThreshold,
		MaxDiskTableSize:  defaultMaxDiskTableSize,
		WAL:               &wal,
		Compression:       CompressionNone,
		RecoveryWorkers:   defaultRecoveryWorkers,
		LogLevel:          "info",
	}
}

// LoadConfig 读取并解析配置文件，未出现的字段保持默认值。
func LoadConfig(filePath string) (Config, error) {
	conf := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return conf, fmt.Errorf("failed to read config %s: %w", filePath, err)
	}
	if err := sonic.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse config %s: %w", filePath, err)
	}

	return conf, nil
}

// Options 把配置转换为 Open 使用的选项，日志和随机数源不在其中。
func (c Config) Options() []func(*LSMTree) {
	var options []func(*LSMTree)
	if c.MemTableThreshold > 0 {
		options = append(options, MemTableThreshold(c.MemTableThreshold))
	}
	if c.MaxDiskTableSize > 0 {
		options = append(options, MaxDiskTableSize(c.MaxDiskTableSize))
	}
	if c.WAL != nil {
		options = append(options, WithWAL(*c.WAL))
	}
	if c.WALSync {
		options = append(options, WALSync(true))
	}
	if c.Compression != "" {
		options = append(options, WithCompression(c.Compression))
	}
	if c.RecoveryWorkers > 0 {
		options = append(options, RecoveryWorkers(c.RecoveryWorkers))
	}
	return options
}

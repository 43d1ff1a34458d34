package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/huahuoao/lsm-kv/internal/protocol"
	"github.com/huahuoao/lsm-kv/internal/storage"
	"github.com/huahuoao/lsm-kv/internal/storage/engine/lsmtree"
	"github.com/huahuoao/lsm-kv/internal/utils"
	"github.com/panjf2000/gnet/v2/pkg/logging"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		dir        = flag.String("dir", "", "data directory (default ~/lsm_huahuo)")
		configPath = flag.String("config", "", "JSON config file")
		logFile    = flag.String("log-file", "", "write logs to a rotating file instead of stderr")
		logLevel   = flag.String("log-level", "", "debug, info, warn or error")
		pretty     = flag.Bool("pretty", false, "indent JSON responses")
	)
	flag.Parse()

	if err := run(*dir, *configPath, *logFile, *logLevel, *pretty, flag.Args()); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(dir, configPath, logFile, logLevel string, pretty bool, args []string) (err error) {
	conf := lsmtree.DefaultConfig()
	if configPath != "" {
		if conf, err = lsmtree.LoadConfig(configPath); err != nil {
			return err
		}
	}
	if dir != "" {
		conf.DataDir = dir
	}
	if conf.DataDir == "" {
		conf.DataDir = utils.GetDatabaseSourcePath()
	}
	if logFile != "" {
		conf.LogFile = logFile
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}

	if conf.LogFile != "" {
		level, err := zapcore.ParseLevel(conf.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", conf.LogLevel, err)
		}
		logger, flush, err := logging.CreateLoggerAsLocalFile(conf.LogFile, level)
		if err != nil {
			return fmt.Errorf("failed to create log file %s: %w", conf.LogFile, err)
		}
		logging.SetDefaultLoggerAndFlusher(logger, flush)
		defer logging.Cleanup()
	}

	options := append(conf.Options(), lsmtree.WithLogger(logging.GetDefaultLogger()))
	store, err := storage.Open(conf.DataDir, options...)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", conf.DataDir, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// 有参数时执行一条命令，否则逐行执行标准输入
	if len(args) > 0 {
		return respond(protocol.HandleLine(store, strings.Join(args, " ")), pretty)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), lsmtree.MaxValueSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := respond(protocol.HandleLine(store, line), pretty); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func respond(res *protocol.Response, pretty bool) error {
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = sonic.MarshalIndent(res, "", "  ")
	} else {
		out, err = sonic.Marshal(res)
	}
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	_, err = fmt.Println(string(out))
	return err
}

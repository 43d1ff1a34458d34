package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/huahuoao/lsm-kv/internal/storage"
	"github.com/huahuoao/lsm-kv/internal/storage/engine/lsmtree"
)

const (
	SuccessCode = "0"
	ErrorCode   = "1"
)

// 支持的命令。
const (
	CmdPut   = "put"
	CmdGet   = "get"
	CmdDel   = "del"
	CmdScan  = "scan"
	CmdReset = "reset"
	CmdStats = "stats"
)

var (
	// ErrEmptyCommand 当输入为空行时返回。
	ErrEmptyCommand = errors.New("empty command")
	// ErrUnknownCommand 当命令不被支持时返回。
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadArguments 当参数数量或格式不对时返回。
	ErrBadArguments = errors.New("bad arguments")
)

// Request 是解析后的一条命令。
type Request struct {
	Command string `json:"command"`
	Key     uint64 `json:"key,omitempty"`
	EndKey  uint64 `json:"end_key,omitempty"`
	Value   string `json:"value,omitempty"`
}

// Response 是一条命令的执行结果。
type Response struct {
	Code   string         `json:"code"`
	Result string         `json:"result,omitempty"`
	Pairs  []storage.Pair `json:"pairs,omitempty"`
	Stats  *lsmtree.Stats `json:"stats,omitempty"`
}

func newResponse(code string, result string) *Response {
	return &Response{
		Code:   code,
		Result: result,
	}
}

// Parse 把一行文本解析为 Request，格式为：
//
//	put <key> <value>
//	get <key>
//	del <key>
//	scan <key1> <key2>
//	reset
//	stats
//
// put 的值是键之后的全部内容，可以包含空格。
func Parse(line string) (*Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyCommand
	}

	command, rest, _ := strings.Cut(line, " ")
	command = strings.ToLower(command)
	rest = strings.TrimLeft(rest, " ")

	switch command {
	case CmdPut:
		rawKey, value, ok := strings.Cut(rest, " ")
		if !ok {
			return nil, fmt.Errorf("%s needs a key and a value: %w", command, ErrBadArguments)
		}
		key, err := parseKey(rawKey)
		if err != nil {
			return nil, err
		}
		return &Request{Command: command, Key: key, Value: value}, nil

	case CmdGet, CmdDel:
		args := strings.Fields(rest)
		if len(args) != 1 {
			return nil, fmt.Errorf("%s needs exactly one key: %w", command, ErrBadArguments)
		}
		key, err := parseKey(args[0])
		if err != nil {
			return nil, err
		}
		return &Request{Command: command, Key: key}, nil

	case CmdScan:
		args := strings.Fields(rest)
		if len(args) != 2 {
			return nil, fmt.Errorf("%s needs two keys: %w", command, ErrBadArguments)
		}
		key1, err := parseKey(args[0])
		if err != nil {
			return nil, err
		}
		key2, err := parseKey(args[1])
		if err != nil {
			return nil, err
		}
		return &Request{Command: command, Key: key1, EndKey: key2}, nil

	case CmdReset, CmdStats:
		if strings.TrimSpace(rest) != "" {
			return nil, fmt.Errorf("%s takes no arguments: %w", command, ErrBadArguments)
		}
		return &Request{Command: command}, nil
	}

	return nil, fmt.Errorf("%q: %w", command, ErrUnknownCommand)
}

func parseKey(s string) (uint64, error) {
	key, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: %w", s, ErrBadArguments)
	}
	return key, nil
}

// Handle 在 store 上执行请求。
func Handle(store *storage.Store, request *Request) *Response {
	switch request.Command {
	case CmdPut:
		return HandleSet(store, request)
	case CmdGet:
		return HandleGet(store, request)
	case CmdDel:
		return HandleDel(store, request)
	case CmdScan:
		return HandleScan(store, request)
	case CmdReset:
		return HandleReset(store)
	case CmdStats:
		return HandleStats(store)
	}
	return newResponse(ErrorCode, fmt.Sprintf("%q: %v", request.Command, ErrUnknownCommand))
}

// HandleLine 解析并执行一行命令。
func HandleLine(store *storage.Store, line string) *Response {
	request, err := Parse(line)
	if err != nil {
		return newResponse(ErrorCode, err.Error())
	}
	return Handle(store, request)
}

func HandleGet(store *storage.Store, request *Request) *Response {
	value, exists, err := store.GetErr(request.Key)
	if err != nil {
		return newResponse(ErrorCode, err.Error())
	}
	if !exists {
		return newResponse(ErrorCode, "")
	}
	return newResponse(SuccessCode, value)
}

func HandleSet(store *storage.Store, request *Request) *Response {
	if err := store.Put(request.Key, request.Value); err != nil {
		return newResponse(ErrorCode, err.Error())
	}
	return newResponse(SuccessCode, "")
}

func HandleDel(store *storage.Store, request *Request) *Response {
	deleted, err := store.Del(request.Key)
	if err != nil {
		return newResponse(ErrorCode, err.Error())
	}
	if !deleted {
		return newResponse(ErrorCode, "")
	}
	return newResponse(SuccessCode, "")
}

func HandleScan(store *storage.Store, request *Request) *Response {
	pairs, err := store.Scan(request.Key, request.EndKey)
	if err != nil {
		return newResponse(ErrorCode, err.Error())
	}
	res := newResponse(SuccessCode, "")
	res.Pairs = pairs
	return res
}

func HandleReset(store *storage.Store) *Response {
	if err := store.Reset(); err != nil {
		return newResponse(ErrorCode, err.Error())
	}
	return newResponse(SuccessCode, "")
}

func HandleStats(store *storage.Store) *Response {
	stats := store.Stats()
	res := newResponse(SuccessCode, "")
	res.Stats = &stats
	return res
}

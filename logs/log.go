package logs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// 定义日志级别常量（数值越大，级别越高）
const (
	LevelTrace   = iota // 0（最低，最详细）
	LevelDebug          // 1
	LevelVerbose        // 2
	LevelInfo           // 3
	LevelWarning        // 4
	LevelError          // 5（最高，最严重）
)

var (
	mu       sync.RWMutex
	logLevel = LevelInfo
	logger   zerolog.Logger
	nodeTag  string
)

func init() {
	logger = newLogger(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339Nano, NoColor: true})
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetOutput 替换日志输出（测试里常用 io.Discard 或 bytes.Buffer）
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

// SetNodeTag 设置后每条日志带上 node 字段，便于多节点同屏调试
func SetNodeTag(tag string) {
	mu.Lock()
	nodeTag = tag
	mu.Unlock()
}

// SetLevel 按名字设置全局日志级别："trace" "debug" "verbose" "info" "warn" "error"
func SetLevel(level string) error {
	lv, err := ParseLevel(level)
	if err != nil {
		return err
	}
	mu.Lock()
	logLevel = lv
	mu.Unlock()
	return nil
}

// ParseLevel 把级别名字转成级别常量
func ParseLevel(level string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "verbose":
		return LevelVerbose, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}

func emit(lv int, ev func(zerolog.Logger) *zerolog.Event, tag, format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if logLevel > lv {
		return
	}
	e := ev(logger)
	if tag != "" {
		e = e.Str("lvl", tag)
	}
	if nodeTag != "" {
		e = e.Str("node", nodeTag)
	}
	e.Msgf(format, v...)
}

// 包级别的日志方法

func Trace(format string, v ...interface{}) {
	emit(LevelTrace, func(l zerolog.Logger) *zerolog.Event { return l.Trace() }, "", format, v...)
}

func Debug(format string, v ...interface{}) {
	emit(LevelDebug, func(l zerolog.Logger) *zerolog.Event { return l.Debug() }, "", format, v...)
}

// Verbose zerolog 没有这个级别，按 debug 输出并打上标记
func Verbose(format string, v ...interface{}) {
	emit(LevelVerbose, func(l zerolog.Logger) *zerolog.Event { return l.Debug() }, "verbose", format, v...)
}

func Info(format string, v ...interface{}) {
	emit(LevelInfo, func(l zerolog.Logger) *zerolog.Event { return l.Info() }, "", format, v...)
}

func Warn(format string, v ...interface{}) {
	emit(LevelWarning, func(l zerolog.Logger) *zerolog.Event { return l.Warn() }, "", format, v...)
}

func Error(format string, v ...interface{}) {
	emit(LevelError, func(l zerolog.Logger) *zerolog.Event { return l.Error() }, "", format, v...)
}

// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别，数值与 zapcore.Level 一一对应
type LogLevel int8

const (
	DEBUG   = LogLevel(zapcore.DebugLevel)
	INFO    = LogLevel(zapcore.InfoLevel)
	WARNING = LogLevel(zapcore.WarnLevel)
	ERROR   = LogLevel(zapcore.ErrorLevel)
	FATAL   = LogLevel(zapcore.FatalLevel)
)

// Logger 服务层统一使用 map 形式的字段，底层交给 zap 输出 JSON
type Logger struct {
	mu    sync.RWMutex
	zl    *zap.Logger
	level zap.AtomicLevel
	file  *os.File
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// 包装方法额外占用的调用栈层数
const wrapperDepth = 2

// GetLogger 进程级日志器，InitLogger 之前只输出到 stdout
func GetLogger() *Logger {
	defaultLoggerOnce.Do(func() {
		lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		defaultLogger = &Logger{level: lvl, zl: buildZap(lvl, zapcore.Lock(os.Stdout))}
	})
	return defaultLogger
}

// NewLogger 包装现成的 zap 日志器，测试里通常传 zap.NewNop()
func NewLogger(zl *zap.Logger) *Logger {
	return &Logger{
		zl:    zl.WithOptions(zap.AddCallerSkip(wrapperDepth)),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func buildZap(lvl zap.AtomicLevel, out zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return zap.New(
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), out, lvl),
		zap.AddCaller(),
		zap.AddCallerSkip(wrapperDepth),
	)
}

// InitLogger 追加写入 logFile，同时保留 stdout 输出。可重复调用以切换文件
func InitLogger(logFile string) error {
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	l := GetLogger()
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.file
	l.file = f
	l.zl = buildZap(l.level, zapcore.NewMultiWriteSyncer(zapcore.Lock(os.Stdout), zapcore.AddSync(f)))
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// ParseLogLevel 解析配置中的 debug/info/warn/error/fatal，无法识别时为 INFO
func ParseLogLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return INFO
	}
	switch lvl {
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		return ERROR
	}
	return LogLevel(lvl)
}

func (l *Logger) SetLogLevel(level LogLevel) {
	l.level.SetLevel(zapcore.Level(level))
}

// Zap 直接使用 zap 字段的包可以拿这个
func (l *Logger) Zap() *zap.Logger {
	return l.current().WithOptions(zap.AddCallerSkip(-wrapperDepth))
}

func (l *Logger) Sync() error {
	return l.current().Sync()
}

func (l *Logger) current() *zap.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

func (l *Logger) emit(level LogLevel, msg string, fields map[string]interface{}) {
	zl := l.current()
	ce := zl.Check(zapcore.Level(level), msg)
	if ce == nil {
		return
	}
	zfs := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			zfs = append(zfs, zap.NamedError(k, err))
		} else {
			zfs = append(zfs, zap.Any(k, v))
		}
	}
	ce.Write(zfs...)
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.emit(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]interface{})  { l.emit(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.emit(WARNING, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.emit(ERROR, msg, fields) }

// Fatal 写完日志后退出进程
func (l *Logger) Fatal(msg string, fields map[string]interface{}) { l.emit(FATAL, msg, fields) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.emit(DEBUG, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.emit(INFO, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit(WARNING, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit(ERROR, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.emit(FATAL, fmt.Sprintf(format, args...), nil)
}

package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu         sync.RWMutex
	baseLogger *zap.Logger
	atomicLVL  zap.AtomicLevel
)

// Options 日志输出配置；File 为空时只写控制台
type Options struct {
	Level      string
	Stderr     bool // 控制台输出写 stderr，stdout 留给命令结果
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func init() {
	atomicLVL = zap.NewAtomicLevelAt(parseLevel(getEnv("GRAPH_LOG_LEVEL", "info")))
	baseLogger = zap.New(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(os.Stdout), atomicLVL),
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}

func SetLevel(level string) { atomicLVL.SetLevel(parseLevel(level)) }

// Configure 重建全局 logger，File 非空时额外写入按大小滚动的日志文件
func Configure(opt Options) *zap.Logger {
	if opt.Level != "" {
		SetLevel(opt.Level)
	}
	enc := zapcore.NewJSONEncoder(encoderConfig())
	console := zapcore.Lock(os.Stdout)
	if opt.Stderr {
		console = zapcore.Lock(os.Stderr)
	}
	cores := []zapcore.Core{zapcore.NewCore(enc, console, atomicLVL)}
	if opt.File != "" {
		rotate := &lumberjack.Logger{
			Filename:   opt.File,
			MaxSize:    defaultInt(opt.MaxSizeMB, 100),
			MaxBackups: defaultInt(opt.MaxBackups, 5),
			MaxAge:     defaultInt(opt.MaxAgeDays, 30),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotate), atomicLVL))
	}
	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))

	mu.Lock()
	baseLogger = l
	mu.Unlock()
	return l
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

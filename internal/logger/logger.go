// Package logger 提供进程级日志入口，调用方式保持 Debugf/Infof/Warnf 风格，底层由 zap 承载。
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 控制日志输出。
type Options struct {
	Level       string // debug/info/warn/error
	Format      string // console 或 json
	Development bool
}

type holder struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

var current atomic.Pointer[holder]

func init() {
	Set(nil)
}

// Init 根据配置构造 zap logger 并替换全局实例。
func Init(opts Options) error {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}
	cfg.Level = lvl
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		cfg.Encoding = "json"
	default:
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set 替换全局 logger，测试中可传入 zaptest/observer 构造的实例。
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(&holder{base: l, sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()})
}

// L 返回底层 zap.Logger，需要结构化字段时使用。
func L() *zap.Logger { return current.Load().base }

// Named 返回带组件名的子 logger。
func Named(component string) *zap.Logger { return current.Load().base.Named(component) }

// Sync 刷新缓冲区，进程退出前调用。
func Sync() { _ = current.Load().base.Sync() }

func Debugf(format string, args ...any) { current.Load().sugar.Debugf(format, args...) }

func Infof(format string, args ...any) { current.Load().sugar.Infof(format, args...) }

func Warnf(format string, args ...any) { current.Load().sugar.Warnf(format, args...) }

func Errorf(format string, args ...any) { current.Load().sugar.Errorf(format, args...) }

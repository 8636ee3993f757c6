// Package log 是全局的 zap 日志封装，并支持带固定字段的子 logger。
package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 未调用 Init 时使用空 logger，测试和库代码可以直接记录日志。
var sugar = zap.NewNop().Sugar()

// Init 初始化全局 logger。format 为 console 时使用彩色开发格式，否则输出 JSON。
// outputPath 非空时额外写入 <outputPath>/relay.log。
func Init(level, format, outputPath string) {
	logger, err := buildConfig(level, format, outputPath).Build()
	if err != nil {
		panic(err)
	}
	sugar = logger.Sugar()
}

func buildConfig(level, format, outputPath string) zap.Config {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(level)); err != nil {
		atomic.SetLevel(zap.InfoLevel)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = atomic
	cfg.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		_ = os.MkdirAll(outputPath, os.ModePerm)
		cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(outputPath, "relay.log"))
	}
	return cfg
}

// Logger 是带固定上下文字段的 logger，例如一条连接的 session 和 party。
type Logger struct {
	s *zap.SugaredLogger
}

// With 基于当前全局 logger 派生一个子 logger。
func With(keysAndValues ...interface{}) *Logger {
	return &Logger{s: sugar.With(keysAndValues...)}
}

func (l *Logger) Debugf(template string, args ...interface{}) { l.s.Debugf(template, args...) }
func (l *Logger) Infof(template string, args ...interface{})  { l.s.Infof(template, args...) }
func (l *Logger) Warnf(template string, args ...interface{})  { l.s.Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...interface{}) { l.s.Errorf(template, args...) }

func Debugf(template string, args ...interface{}) {
	sugar.Debugf(template, args...)
}

func Info(msg string) {
	sugar.Info(msg)
}

func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Infow 记录结构化日志，keysAndValues 为交替的键和值。
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

// Error 记录 error 级别日志，err 作为 error 字段。
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Fatal 记录日志后退出进程。
func Fatal(msg string, err error) {
	sugar.Fatalw(msg, "error", err)
}

func Fatalf(template string, args ...interface{}) {
	sugar.Fatalf(template, args...)
}

// Sync 刷新缓冲的日志。
func Sync() {
	_ = sugar.Sync()
}

package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"os-downloads/app/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const dateLayout = "2006-01-02"

// Logger 包装 zap.Logger，附带按日切换文件的后台任务
type Logger struct {
	*zap.Logger
	sugar      *zap.SugaredLogger
	cancelFunc context.CancelFunc
	wg         *sync.WaitGroup
}

// New 使用给定配置创建日志记录器
func New(cfg config.LogConfig) *Logger {
	level := parseLevel(cfg.Level)
	encoderConfig := newEncoderConfig()

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = consoleEncoder(encoderConfig)
	}

	if cfg.Output != "file" {
		return wrap(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level), nil, nil)
	}

	logDir := cfg.Dir
	if logDir == "" {
		logDir = filepath.Join("data", "logs")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic("创建日志目录失败: " + err.Error())
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, time.Now().Format(dateLayout)+".log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(rotator), level)
	// 调试模式下同时输出到控制台
	if level == zapcore.DebugLevel {
		core = zapcore.NewTee(core, zapcore.NewCore(consoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level))
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	l := wrap(core, cancel, wg)

	wg.Add(1)
	go l.dailyRotateRoutine(ctx, rotator, logDir)

	return l
}

// Nop 返回丢弃所有输出的日志记录器，供测试使用
func Nop() *Logger {
	return wrap(zapcore.NewNopCore(), nil, nil)
}

func wrap(core zapcore.Core, cancel context.CancelFunc, wg *sync.WaitGroup) *Logger {
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{
		Logger:     zl,
		sugar:      zl.Sugar(),
		cancelFunc: cancel,
		wg:         wg,
	}
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func consoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// dailyRotateRoutine 每天零点切换到新的日志文件
func (l *Logger) dailyRotateRoutine(ctx context.Context, rotator *lumberjack.Logger, logDir string) {
	defer l.wg.Done()

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now) + time.Second):
			rotator.Filename = filepath.Join(logDir, next.Format(dateLayout)+".log")
			// 关闭当前文件，下次写入时打开新文件
			_ = rotator.Close()
		}
	}
}

// Named 返回带子名称的日志记录器，共享底层输出
func (l *Logger) Named(name string) *Logger {
	zl := l.Logger.Named(name)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// Close 停止后台任务并刷新缓冲区
func (l *Logger) Close() error {
	if l.cancelFunc != nil {
		l.cancelFunc()
		l.wg.Wait()
	}
	return l.Logger.Sync()
}

// WithField 向日志记录器添加字段
func (l *Logger) WithField(key string, value any) *zap.Logger {
	return l.Logger.With(zap.Any(key, value))
}

// WithError 向日志记录器添加错误字段
func (l *Logger) WithError(err error) *zap.Logger {
	return l.Logger.With(zap.Error(err))
}

func (l *Logger) Debugf(template string, args ...any) {
	l.sugar.Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...any) {
	l.sugar.Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...any) {
	l.sugar.Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...any) {
	l.sugar.Errorf(template, args...)
}

func (l *Logger) Fatalf(template string, args ...any) {
	l.sugar.Fatalf(template, args...)
}

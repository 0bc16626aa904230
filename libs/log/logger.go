package log

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CRLogger 是整个项目使用的日志记录器，采用 key/value 形式记录日志：
//	logger.Warnw("block length exhausted", "max", max, "requested", total)
type CRLogger = *zap.SugaredLogger

// ParseLevel 将配置文件里的日志等级转换成 zapcore.Level，无法识别的等级一律当作 info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewCRLogger 创建一个输出到标准错误的 console 格式日志记录器，
// 标准输出留给命令行打印交易的检查结果和区块的长度记录
func NewCRLogger(level string) CRLogger {
	var zc = zap.Config{
		Level:             zap.NewAtomicLevelAt(ParseLevel(level)),
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: true,
		Sampling:          nil,
		Encoding:          "console",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "time",
			NameKey:        "name",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	core, err := zc.Build()
	if err != nil {
		panic(err)
	}
	return core.Sugar()
}

// NewNopLogger 返回一个什么也不记录的日志记录器，测试里使用
func NewNopLogger() CRLogger {
	return zap.NewNop().Sugar()
}

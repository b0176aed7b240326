package logging

import (
	"io"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileMaxSizeMB is the size at which a log file is rotated.
const fileMaxSizeMB = 64

// NewFileCore returns a core writing JSON entries at every level to path, rotating the file as
// it grows. Close the returned closer once the logger is synced.
func NewFileCore(path string) (zapcore.Core, io.Closer) {
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fileMaxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}
	encoderCfg := NewLoggerConfig().EncoderConfig
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(out), zapcore.DebugLevel), out
}

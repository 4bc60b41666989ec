// Package logging builds the zap logger used across advisord.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger for the given level and format.
//
// Level is one of debug, info, warn, error. Format is json or console.
func New(level, format string) (*zap.Logger, error) {
	core, err := newStderrCore(level, format)
	if err != nil {
		return nil, err
	}
	return zap.New(core, zap.AddCaller()), nil
}

// newStderrCore builds the stderr core shared by New and NewWithOTEL.
func newStderrCore(level, format string) (zapcore.Core, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl), nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

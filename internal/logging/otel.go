package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewWithOTEL creates a zap logger that writes to stderr and, when a log
// provider is available, forwards records over the OpenTelemetry bridge.
// A nil provider yields the same logger as New.
func NewWithOTEL(level, format string, provider log.LoggerProvider) (*zap.Logger, error) {
	stderr, err := newStderrCore(level, format)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return zap.New(stderr, zap.AddCaller()), nil
	}

	otelCore := otelzap.NewCore("advisord",
		otelzap.WithLoggerProvider(provider),
	)
	return zap.New(zapcore.NewTee(stderr, otelCore), zap.AddCaller()), nil
}

package obs

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
)

// NewLogger builds the process logger. Development gets a console encoder,
// everything else emits JSON lines with ts/level/msg keys.
func NewLogger(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(strings.TrimSpace(env), "development") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Sampling = nil
	}
	cfg.OutputPaths = []string{"stdout"}

	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if strings.TrimSpace(level) != "" {
		parsed, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}
	cfg.Level = lvl
	return cfg.Build()
}

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		built, err := NewLogger("production", "info")
		if err != nil {
			built = zap.NewNop()
		}
		logger = built
	}
	return logger
}

// SetLogger swaps the shared logger and returns the previous one.
func SetLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := logger
	logger = l
	return prev
}

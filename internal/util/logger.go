package util

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	// helperLogger backs the package-level helpers so they report their
	// caller rather than this file.
	helperLogger *zap.Logger
	mu           sync.Mutex
)

// Init builds the process logger. Later calls return the first logger.
func Init(environment, level, format string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		return globalLogger
	}

	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		cfg.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLogLevel(level))

	if format == "json" {
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	} else {
		cfg.Encoding = "console"
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	setLogger(logger)
	zap.ReplaceGlobals(globalLogger)
	return globalLogger
}

func setLogger(logger *zap.Logger) {
	globalLogger = logger
	helperLogger = logger.WithOptions(zap.AddCallerSkip(1))
}

func helper() *zap.Logger {
	Get()
	mu.Lock()
	defer mu.Unlock()
	return helperLogger
}

// Get returns the process logger, falling back to a production JSON logger.
func Get() *zap.Logger {
	mu.Lock()
	logger := globalLogger
	mu.Unlock()
	if logger == nil {
		return Init("production", "info", "json")
	}
	return logger
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func Debug(msg string, fields ...zap.Field) {
	helper().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	helper().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	helper().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	helper().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	helper().Fatal(msg, fields...)
}

func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

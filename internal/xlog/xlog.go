// Package xlog wraps zap behind the verbosity toggle the rest of this
// repo expects: quiet by default, full debug output with -V/--verbose.
package xlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	logger = newLogger(false)
}

func newLogger(verbose bool) *zap.SugaredLogger {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.TimeKey = ""
		// Non-verbose mode is silent except for fatal-path Errorf calls:
		// progress output and transient worker/tracker failures never
		// print without -V.
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		// zap's own config builder failing means stderr itself is
		// unusable; fall back to a no-op logger rather than panic.
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// SetVerbose switches the package logger between quiet and full debug
// output, mirroring the teacher's SetVerbose(bool) toggle.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(v)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = current().Sync()
}

// Package logging provides categorized file-based logging. Each category
// writes to its own file under <dir>; when debug mode is off the loggers are
// no-ops. Pure packages (planner, builder, workflow) never log; providers
// and the sync engine log once at I/O error sites.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a log stream.
type Category string

const (
	CategoryBoot     Category = "boot"
	CategoryConfig   Category = "config"
	CategoryStore    Category = "store"
	CategorySyncer   Category = "syncer"
	CategoryFleet    Category = "fleet"
	CategoryPlans    Category = "plans"
	CategoryMigrate  Category = "migrate"
)

// Options configure the logging system.
type Options struct {
	Dir   string // log directory; empty disables file output
	Debug bool   // when false every logger is a no-op
	Level string // debug, info, warn, error (default info)
}

var (
	mu      sync.RWMutex
	opts    Options
	level   zapcore.Level
	loggers = make(map[Category]*zap.SugaredLogger)
	nop     = zap.NewNop().Sugar()
)

// Initialize sets up the logging directory. Safe to call more than once;
// later calls reconfigure new loggers only.
func Initialize(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	switch o.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	if !o.Debug || o.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger when debug mode is disabled.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if !opts.Debug || opts.Dir == "" {
		mu.RUnlock()
		return nop
	}
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return nop
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level)
	l := zap.New(core).Sugar().With("cat", string(category))
	loggers[category] = l
	return l
}

// CloseAll flushes every open logger. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Infof(format, args...)
}

// Store logs to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Infof(format, args...)
}

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debugf(format, args...)
}

// StoreError logs error to the store category.
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Errorf(format, args...)
}

// Syncer logs to the syncer category.
func Syncer(format string, args ...interface{}) {
	Get(CategorySyncer).Infof(format, args...)
}

// SyncerDebug logs debug to the syncer category.
func SyncerDebug(format string, args ...interface{}) {
	Get(CategorySyncer).Debugf(format, args...)
}

// SyncerWarn logs warning to the syncer category.
func SyncerWarn(format string, args ...interface{}) {
	Get(CategorySyncer).Warnf(format, args...)
}

// SyncerError logs error to the syncer category.
func SyncerError(format string, args ...interface{}) {
	Get(CategorySyncer).Errorf(format, args...)
}

// Config logs to the config category.
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Infof(format, args...)
}

// Migrate logs to the migrate category.
func Migrate(format string, args ...interface{}) {
	Get(CategoryMigrate).Infof(format, args...)
}

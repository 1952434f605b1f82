package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	enabled atomic.Bool

	mu   sync.RWMutex
	root = zap.NewNop()
)

func init() {
	debugEnv, exists := os.LookupEnv("PUSHER_GO_DEBUG")
	if exists {
		if val, err := strconv.ParseBool(debugEnv); err == nil && val {
			Enable()
		}
	}
}

type Config struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

type Option func(*Config)

func WithLevel(lvl string) Option { return func(c *Config) { c.Level = lvl } }
func WithFormat(f string) Option { return func(c *Config) { c.Format = f } }
func WithFile(path string) Option { return func(c *Config) { c.File = path } }
func WithRotation(size, backups, age int) Option {
	return func(c *Config) {
		c.MaxSize, c.MaxBackups, c.MaxAge = size, backups, age
	}
}

// Init replaces the shared logger. Debug tracing is switched on when the
// level is debug.
func Init(opts ...Option) error {
	cfg := &Config{
		Level:      "info",
		Format:     "console",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
	for _, apply := range opts {
		apply(cfg)
	}

	enc, err := buildEncoder(cfg.Format)
	if err != nil {
		return err
	}
	ws, err := buildWriter(cfg)
	if err != nil {
		return err
	}
	lvl, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	logger := zap.New(zapcore.NewCore(enc, ws, lvl), zap.AddStacktrace(zapcore.ErrorLevel))

	mu.Lock()
	root = logger
	mu.Unlock()

	enabled.Store(lvl.Enabled(zapcore.DebugLevel))
	return nil
}

func buildEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	case "console", "":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func buildWriter(cfg *Config) (zapcore.WriteSyncer, error) {
	if cfg.File == "" {
		return zapcore.AddSync(os.Stderr), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}), nil
}

// SetLogger installs l as the shared logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}

	mu.Lock()
	root = l
	mu.Unlock()
}

func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return root
}

func Named(component string) *zap.Logger {
	return Logger().With(zap.String("component", component))
}

func Sync() error {
	return Logger().Sync()
}

func Printf(format string, v ...interface{}) {
	if enabled.Load() {
		Logger().Sugar().Debugf(format, v...)
	}
}

func Enabled() bool {
	return enabled.Load()
}

// Enable turns on tracing. A development logger is installed if none was
// configured.
func Enable() {
	mu.Lock()
	if !root.Core().Enabled(zapcore.DebugLevel) {
		if l, err := zap.NewDevelopment(); err == nil {
			root = l
		}
	}
	mu.Unlock()

	enabled.Store(true)
}

func Disable() {
	enabled.Store(false)
}

// Package logging provides structured logging for fxalert.
//
// Console output goes to stderr so that stdout stays reserved for alert JSON
// lines. An optional rotating JSONL file can be enabled for long-running
// follow sessions.
//
// Log Format (file and json console):
//
//	{"level":"info","timestamp":"2024-01-15T10:30:00.000Z","service":"fxalert","msg":"processing_started","rates":1200}
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is attached to every entry.
const ServiceName = "fxalert"

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level"`
	// LogDir is the directory for log files
	LogDir string `yaml:"log_dir"`
	// LogFile is the log filename (not full path)
	LogFile string `yaml:"log_file"`
	// MaxSizeMB is the maximum size in MB before rotation
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of backup files to keep
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays is the maximum age in days to retain logs
	MaxAgeDays int `yaml:"max_age_days"`
	// EnableConsole enables console output
	EnableConsole bool `yaml:"enable_console"`
	// EnableFile enables file output
	EnableFile bool `yaml:"enable_file"`
	// ConsoleFormat is the console format (json, plain)
	ConsoleFormat string `yaml:"console_format"`

	// ConsoleWriter overrides the console destination. Defaults to stderr.
	ConsoleWriter io.Writer `yaml:"-"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:         "info",
		LogDir:        "logs",
		LogFile:       "fxalert.jsonl",
		MaxSizeMB:     10,
		MaxBackups:    5,
		MaxAgeDays:    30,
		EnableConsole: true,
		EnableFile:    false,
		ConsoleFormat: "plain",
	}
}

// state is the installed logger and the rotating file it writes to, if any.
type state struct {
	logger *zap.Logger
	file   *lumberjack.Logger
}

var (
	mu      sync.Mutex
	current state
)

// Setup installs a logger built from cfg. Calling Setup again replaces the
// previous logger and closes its file.
func Setup(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := zapcore.InfoLevel
	if l, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level = l
	}

	var (
		cores []zapcore.Core
		file  *lumberjack.Logger
	)
	if cfg.EnableFile {
		core, fw, err := fileCore(cfg, level)
		if err != nil {
			return err
		}
		cores = append(cores, core)
		file = fw
	}
	if cfg.EnableConsole {
		cores = append(cores, consoleCore(cfg, level))
	}

	hostname, _ := os.Hostname()
	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	).With(
		zap.String("service", ServiceName),
		zap.String("hostname", hostname),
		zap.Int("pid", os.Getpid()),
	)

	mu.Lock()
	prev := current
	current = state{logger: logger, file: file}
	mu.Unlock()

	if prev.file != nil {
		_ = prev.file.Close()
	}
	return nil
}

// fileCore writes JSON lines to a size-rotated file under cfg.LogDir.
func fileCore(cfg *Config, level zapcore.Level) (zapcore.Core, *lumberjack.Logger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, err
	}
	fw := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, cfg.LogFile),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoding()), zapcore.AddSync(fw), level), fw, nil
}

// consoleCore writes to cfg.ConsoleWriter, or stderr, as JSON or plain text.
func consoleCore(cfg *Config, level zapcore.Level) zapcore.Core {
	var out io.Writer = os.Stderr
	if cfg.ConsoleWriter != nil {
		out = cfg.ConsoleWriter
	}

	enc := zapcore.NewConsoleEncoder(plainEncoding())
	if cfg.ConsoleFormat == "json" {
		enc = zapcore.NewJSONEncoder(jsonEncoding())
	}
	return zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
}

func jsonEncoding() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	ec.FunctionKey = zapcore.OmitKey
	return ec
}

func plainEncoding() zapcore.EncoderConfig {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

// L returns the installed logger, setting up the default one on first use.
func L() *zap.Logger {
	mu.Lock()
	l := current.logger
	mu.Unlock()
	if l != nil {
		return l
	}

	_ = Setup(DefaultConfig())
	mu.Lock()
	defer mu.Unlock()
	return current.logger
}

// S returns the sugared form of L.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// With returns L with extra fields attached.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushes buffered entries.
func Sync() error {
	mu.Lock()
	l := current.logger
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}

// Close flushes the logger, releases the rotating file and resets the
// global state. The next call to L sets up a default logger again.
func Close() error {
	mu.Lock()
	prev := current
	current = state{}
	mu.Unlock()

	if prev.logger != nil {
		// Sync on stderr returns EINVAL on some platforms
		_ = prev.logger.Sync()
	}
	if prev.file != nil {
		return prev.file.Close()
	}
	return nil
}

// Path returns a field for file paths.
func Path(path string) zap.Field { return zap.String("path", path) }

// Count returns a field for counts.
func Count(n int) zap.Field { return zap.Int("count", n) }

// Duration returns a field for elapsed time.
func Duration(d time.Duration) zap.Field { return zap.Duration("duration", d) }

// ErrorCode returns a field for fxalert error codes.
func ErrorCode(code string) zap.Field { return zap.String("error_code", code) }

// BatchSize returns a field for batch sizes.
func BatchSize(size int) zap.Field { return zap.Int("batch_size", size) }

// Source returns a field for input sources.
func Source(src string) zap.Field { return zap.String("source", src) }

// CurrencyPair returns a field for currency pairs.
func CurrencyPair(pair string) zap.Field { return zap.String("currency_pair", pair) }

// AlertKind returns a field for alert kinds (spotChange, rising, falling).
func AlertKind(kind string) zap.Field { return zap.String("alert", kind) }

// Alerter returns a field naming an alerter.
func Alerter(name string) zap.Field { return zap.String("alerter", name) }

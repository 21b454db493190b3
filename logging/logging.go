// Package logging provides structured logging on top of log/slog.
//
// # Basic Usage
//
//	if err := logging.InitWithDefaults(); err != nil {
//		panic(err)
//	}
//	defer logging.Shutdown()
//
//	logging.Info("processor started", "workers", 4)
//
// # Trap Context
//
// Fields describing the trap being handled travel in the context and are
// added to every record logged with it:
//
//	ctx = logging.WithDocumentID(ctx, 42)
//	ctx = logging.WithOLTName(ctx, "FB-SK-OLT-03")
//	logging.InfoContext(ctx, "alarm published")
//	// Output: ... msg="alarm published" document_id=42 olt_name=FB-SK-OLT-03
//
// # Component-Aware Logging
//
//	log := logging.NewComponentLogger("trapprocessor", "pipeline")
//	log.Warn("document dropped", "reason", "oversize")
//	// Output: ... component=trapprocessor component_type=pipeline reason=oversize
//
// # Dynamic Level Changes
//
//	logging.SetLevel("debug")
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats.
const (
	// FormatLogfmt writes key=value records.
	FormatLogfmt = "logfmt"
	// FormatJSON writes one JSON object per record.
	FormatJSON = "json"
)

// Config holds the logger configuration settings.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format is logfmt or json.
	Format string `json:"format" yaml:"format"`

	// Output is stdout, stderr or a file path. Parent directories of a file
	// are created.
	Output string `json:"output" yaml:"output"`

	// AddSource includes the caller file and line.
	AddSource bool `json:"add_source" yaml:"add_source"`
}

// DefaultConfig returns info level logfmt records on stderr. Stdout is left
// to published trap messages.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatLogfmt,
		Output: "stderr",
	}
}

var (
	globalMu       sync.RWMutex
	globalLogger   *slog.Logger
	globalCloser   io.Closer
	globalLevelVar *slog.LevelVar
)

// New creates a logger that does not touch the global logger. The closer is
// non-nil only when the output is a file.
func New(config Config) (*slog.Logger, io.Closer, error) {
	logger, closer, _, err := build(config)
	return logger, closer, err
}

func build(config Config) (*slog.Logger, io.Closer, *slog.LevelVar, error) {
	if config.Level != "" && !ValidateLevel(config.Level) {
		return nil, nil, nil, fmt.Errorf("invalid log level: %q, must be one of: %s, %s, %s, %s",
			config.Level, LevelDebug, LevelInfo, LevelWarn, LevelError)
	}
	if config.Format != "" && !ValidateFormat(config.Format) {
		return nil, nil, nil, fmt.Errorf("invalid log format: %q, must be one of: %s, %s",
			config.Format, FormatLogfmt, FormatJSON)
	}

	writer, closer, err := openOutput(config.Output)
	if err != nil {
		return nil, nil, nil, err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(config.Level))
	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, FormatJSON) {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(contextHandler{Handler: handler}), closer, levelVar, nil
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stderr", "":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	file, err := openLogFile(output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", output, err)
	}
	return file, file, nil
}

// Init replaces the global logger. A file opened by the previous global
// logger is closed.
func Init(config Config) error {
	logger, closer, levelVar, err := build(config)
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := globalCloser
	globalLogger = logger
	globalCloser = closer
	globalLevelVar = levelVar
	globalMu.Unlock()

	slog.SetDefault(logger)
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// InitWithDefaults calls Init(DefaultConfig()).
func InitWithDefaults() error {
	return Init(DefaultConfig())
}

// Shutdown closes the global logger file, if any. It is safe to call more
// than once.
func Shutdown() error {
	globalMu.Lock()
	closer := globalCloser
	globalCloser = nil
	globalMu.Unlock()

	if closer != nil {
		return closer.Close()
	}
	return nil
}

// SetLevel changes the level of the global logger at runtime.
func SetLevel(level string) error {
	if !ValidateLevel(level) {
		return fmt.Errorf("invalid log level: %q, must be one of: %s, %s, %s, %s",
			level, LevelDebug, LevelInfo, LevelWarn, LevelError)
	}

	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLevelVar != nil {
		globalLevelVar.Set(parseLevel(level))
	}
	return nil
}

// parseLevel falls back to info for unknown names and accepts "warning".
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateLevel reports whether level is a valid log level string.
func ValidateLevel(level string) bool {
	switch strings.ToLower(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	default:
		return false
	}
}

// ValidateFormat reports whether format is a valid log format string.
func ValidateFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatLogfmt, FormatJSON:
		return true
	default:
		return false
	}
}

// Get returns the global logger, initializing it with defaults if necessary.
func Get() *slog.Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	if err := InitWithDefaults(); err != nil {
		return slog.Default()
	}
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Debug logs a debug message using the global logger.
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

// Info logs an informational message using the global logger.
func Info(msg string, args ...any) { Get().Info(msg, args...) }

// Warn logs a warning message using the global logger.
func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

// Error logs an error message using the global logger.
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// DebugContext logs a debug message with the trap fields carried by ctx.
func DebugContext(ctx context.Context, msg string, args ...any) {
	Get().DebugContext(ctx, msg, args...)
}

// InfoContext logs an informational message with the trap fields carried by ctx.
func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, args...)
}

// WarnContext logs a warning message with the trap fields carried by ctx.
func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error message with the trap fields carried by ctx.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, args...)
}

// Logger is the logging contract handed to components, for injection and
// testing.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// The Context variants add the trap fields carried by ctx.
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a Logger that adds args to every record.
	With(args ...any) Logger
}

// slogLogger adapts an *slog.Logger to Logger. The level methods are
// promoted from the embedded logger.
type slogLogger struct {
	*slog.Logger
}

func (s slogLogger) With(args ...any) Logger {
	return slogLogger{s.Logger.With(args...)}
}

// GetLogger returns a Logger backed by the current global logger. Level
// changes apply to it; a later Init does not.
func GetLogger() Logger {
	return slogLogger{Get()}
}

// NewLogger creates a Logger from config without touching the global logger.
func NewLogger(config Config) (Logger, io.Closer, error) {
	logger, closer, err := New(config)
	if err != nil {
		return nil, closer, err
	}
	return slogLogger{logger}, closer, nil
}

// FromSlog wraps an existing *slog.Logger. Trap fields from the context are
// only added when the logger was built by this package.
func FromSlog(logger *slog.Logger) Logger {
	return slogLogger{logger}
}

// Discard returns a Logger that drops every record.
func Discard() Logger {
	return slogLogger{slog.New(slog.DiscardHandler)}
}

// ComponentLogger tags every record with the component name and type.
type ComponentLogger struct {
	Logger
	component     string
	componentType string
}

// NewComponentLogger creates a logger from the global one that adds
// component=<component> component_type=<componentType> to every record.
func NewComponentLogger(component, componentType string) *ComponentLogger {
	return &ComponentLogger{
		Logger:        slogLogger{Get().With("component", component, "component_type", componentType)},
		component:     component,
		componentType: componentType,
	}
}

// With returns a new component logger with additional attributes.
func (cl *ComponentLogger) With(args ...any) Logger {
	return &ComponentLogger{
		Logger:        cl.Logger.With(args...),
		component:     cl.component,
		componentType: cl.componentType,
	}
}

// GetComponent returns the component name.
func (cl *ComponentLogger) GetComponent() string {
	return cl.component
}

// GetComponentType returns the component type.
func (cl *ComponentLogger) GetComponentType() string {
	return cl.componentType
}

// openLogFile opens a log file for appending after validating the path and
// creating parent directories.
func openLogFile(filePath string) (*os.File, error) {
	if filePath == "" {
		return nil, errors.New("log file path cannot be empty")
	}

	cleanPath := filepath.Clean(filePath)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid log file path: contains directory traversal: %s", cleanPath)
	}

	if filepath.IsAbs(cleanPath) {
		restricted := []string{"/etc/", "/proc/", "/sys/", "/dev/", "/run/secrets"}
		for _, p := range restricted {
			if strings.HasPrefix(cleanPath+"/", p) || cleanPath == strings.TrimSuffix(p, "/") {
				return nil, fmt.Errorf("log file path not allowed: %s", cleanPath)
			}
		}
	}

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	if info, err := os.Lstat(cleanPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("refusing to open symlink for log file: %s", cleanPath)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("log path must be a regular file: %s", cleanPath)
		}
	}

	file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cleanPath, err)
	}
	return file, nil
}

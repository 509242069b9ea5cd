package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var levelColors = map[Level]string{
	DEBUG: "\033[36m", // Cyan
	INFO:  "\033[32m", // Green
	WARN:  "\033[33m", // Yellow
	ERROR: "\033[31m", // Red
	FATAL: "\033[35m", // Magenta
}

const colorReset = "\033[0m"

// Leveled is the logging surface every component depends on.
// Debugf carries verbose diagnostics; none of the levels gate correctness.
type Leveled interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Logger is the main logger instance.
type Logger struct {
	mu          sync.Mutex
	level       Level
	output      io.Writer
	colorEnable bool
	prefix      string
	file        *os.File
	filePath    string
}

var (
	// defaultMu guards the defaultLogger pointer; each Logger guards its own
	// fields with mu.
	defaultMu     sync.RWMutex
	defaultLogger *Logger
	once          sync.Once
)

// New creates a standalone logger writing uncolored lines to w.
func New(levelStr string, w io.Writer) *Logger {
	return &Logger{
		level:  parseLevel(levelStr),
		output: w,
	}
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Default returns the process-wide logger, initializing it at INFO if needed.
func Default() *Logger {
	if l := current(); l != nil {
		return l
	}
	Init("info")
	return current()
}

// Init initializes the default logger with the specified level.
func Init(levelStr string) {
	once.Do(func() {
		l := &Logger{
			level:       parseLevel(levelStr),
			output:      os.Stdout,
			colorEnable: true,
			prefix:      "",
		}
		defaultMu.Lock()
		defaultLogger = l
		defaultMu.Unlock()
	})
}

// InitWithFile initializes the default logger to write to a timestamped file
// in logDir. The file never receives color codes. A previously opened log
// file is closed.
func InitWithFile(levelStr string, logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	name := time.Now().Format("2006-01-02_15-04-05_MST") + ".log"
	path := filepath.Join(logDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	once.Do(func() {}) // later Init calls must not replace the file logger
	l := &Logger{
		level:       parseLevel(levelStr),
		output:      f,
		colorEnable: false,
		file:        f,
		filePath:    path,
	}

	defaultMu.Lock()
	prev := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()

	if prev != nil {
		prev.closeFile()
	}
	return nil
}

// GetLogFilePath returns the path of the active log file, or "" when logging
// only to the console.
func GetLogFilePath() string {
	l := current()
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filePath
}

// Close closes the log file if one is open.
func Close() {
	if l := current(); l != nil {
		l.closeFile()
	}
}

func (l *Logger) closeFile() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
		l.output = os.Stdout
	}
}

// SetLevel sets the logging level for the default logger.
func SetLevel(levelStr string) {
	l := current()
	if l == nil {
		Init(levelStr)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = parseLevel(levelStr)
}

// SetOutput sets the output destination for the default logger.
func SetOutput(w io.Writer) {
	l := Default()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// SetColorEnable enables or disables color output.
func SetColorEnable(enable bool) {
	l := Default()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorEnable = enable
}

// parseLevel converts a string to a Level.
func parseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG", "VERBOSE":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// log writes a log message if the level is sufficient.
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	message := fmt.Sprintf(format, args...)
	levelName := levelNames[level]

	var output string
	if l.colorEnable {
		color := levelColors[level]
		output = fmt.Sprintf("%s[%s]%s %s", color, levelName, colorReset, message)
	} else {
		output = fmt.Sprintf("[%s] %s", levelName, message)
	}

	log.New(l.output, l.prefix, log.LstdFlags).Println(output)

	// Exit on FATAL
	if level == FATAL {
		os.Exit(1)
	}
}

// Debugf logs a verbose message.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(DEBUG, format, args...) }

// Infof logs an informational message.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(INFO, format, args...) }

// Warnf logs a warning.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(WARN, format, args...) }

// Errorf logs an error.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	Default().log(DEBUG, format, args...)
}

// Debugf is an alias for Debug.
func Debugf(format string, args ...interface{}) {
	Debug(format, args...)
}

// Info logs an info message.
func Info(format string, args ...interface{}) {
	Default().log(INFO, format, args...)
}

// Infof is an alias for Info.
func Infof(format string, args ...interface{}) {
	Info(format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	Default().log(WARN, format, args...)
}

// Warnf is an alias for Warn.
func Warnf(format string, args ...interface{}) {
	Warn(format, args...)
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	Default().log(ERROR, format, args...)
}

// Errorf is an alias for Error.
func Errorf(format string, args ...interface{}) {
	Error(format, args...)
}

// Fatal logs a fatal message and exits the program.
func Fatal(format string, args ...interface{}) {
	Default().log(FATAL, format, args...)
}

// Fatalf is an alias for Fatal.
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}

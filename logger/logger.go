package logger

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

// Log4jFormatter Custom log4j-like formatter
type Log4jFormatter struct{}

func (f *Log4jFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	// Get caller information
	var fileName string
	var funcName string
	var lineNum int

	if entry.HasCaller() {
		fileName = path.Base(entry.Caller.File)
		funcName = entry.Caller.Function
		lineNum = entry.Caller.Line

		// Extract just the function name (remove package path)
		if idx := strings.LastIndex(funcName, "."); idx >= 0 {
			funcName = funcName[idx+1:]
		}
	}

	// Format: YYYY-MM-DD HH:mm:ss.SSS [LEVEL] method(File:Line) - message
	logLine := fmt.Sprintf("%s [%s] %s(%s:%d) - %s",
		entry.Time.Format("2006-01-02 15:04:05.000"),
		strings.ToUpper(entry.Level.String()),
		funcName,
		fileName,
		lineNum,
		entry.Message,
	)

	// Add fields if present
	if len(entry.Data) > 0 {
		logLine += " {"
		var fieldParts []string
		for k, v := range entry.Data {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", k, v))
		}
		logLine += strings.Join(fieldParts, ", ")
		logLine += "}"
	}

	return []byte(logLine + "\n"), nil
}

// Logger is an alias for the global logger instance
var Logger = logrus.New()

// Options controls where and how much the global logger writes.
type Options struct {
	FilePath   string // rotating log file path; empty disables file output
	Level      string // logrus level name, e.g. "debug", "info"
	ToConsole  bool   // also write to stderr; must stay false while the TUI owns the terminal
	MaxSizeMB  int    // per-file size before rotation
	MaxBackups int
	MaxAgeDays int
}

// Configure sets up file rotation and the output level for the global logger.
func Configure(opts Options) error {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	var writers []io.Writer

	if opts.FilePath != "" {
		dir := path.Dir(opts.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 2
		}
		maxAge := opts.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 30
		}

		fileWriter := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   true,
		}
		writers = append(writers, fileWriter)
	}

	if opts.ToConsole {
		writers = append(writers, os.Stderr)
	}

	if len(writers) == 0 {
		// The dashboard owns stdout/stderr, so with no file configured
		// the logs have nowhere safe to go.
		Logger.SetOutput(io.Discard)
	} else {
		Logger.SetOutput(io.MultiWriter(writers...))
	}

	return nil
}

func init() {
	// Enable caller reporting for file/line info
	Logger.SetReportCaller(true)

	// Use custom log4j-like formatter
	Logger.SetFormatter(&Log4jFormatter{})

	// Stay quiet until Configure picks a destination; an attached TUI
	// would be corrupted by stray writes to the terminal.
	Logger.SetOutput(io.Discard)
	Logger.SetLevel(logrus.InfoLevel)
}

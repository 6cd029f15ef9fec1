package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// LogLevel defines the severity of the log
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// LogFormat defines the output format of the log
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logger is the interface for internal messages emitted by the toolkit.
// The Debug level carries pool "echo" output: per-checkout and per-checkin
// messages that are only useful when tracing connection lifecycles.
type Logger interface {
	SetLevel(level LogLevel)
	SetFormat(format LogFormat)
	SetOutput(w io.Writer)
	WithFields(fields map[string]any) Logger
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// baseLogger contains common logging functionality
type baseLogger struct {
	level  LogLevel
	format LogFormat
	writer io.Writer
	fields map[string]any
}

func (l *baseLogger) SetLevel(level LogLevel) {
	l.level = level
}

func (l *baseLogger) SetFormat(format LogFormat) {
	l.format = format
}

func (l *baseLogger) SetOutput(w io.Writer) {
	l.writer = w
}

func (l *baseLogger) clone() *baseLogger {
	newFields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	return &baseLogger{
		level:  l.level,
		format: l.format,
		writer: l.writer,
		fields: newFields,
	}
}

// stdLogger is the default implementation of Logger
type stdLogger struct {
	baseLogger
}

// NewStdLogger creates a new standard logger
func NewStdLogger() Logger {
	return &stdLogger{
		baseLogger: baseLogger{
			level:  LogLevelInfo,
			format: LogFormatText,
			writer: os.Stdout,
			fields: make(map[string]any),
		},
	}
}

func (l *stdLogger) WithFields(fields map[string]any) Logger {
	newLogger := &stdLogger{
		baseLogger: *l.clone(),
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

func (l *stdLogger) Debug(format string, args ...any) {
	if l.level >= LogLevelDebug {
		l.log("DEBUG", format, args...)
	}
}

func (l *stdLogger) Info(format string, args ...any) {
	if l.level >= LogLevelInfo {
		l.log("INFO", format, args...)
	}
}

func (l *stdLogger) Warn(format string, args ...any) {
	if l.level >= LogLevelWarn {
		l.log("WARN", format, args...)
	}
}

func (l *stdLogger) Error(format string, args ...any) {
	if l.level >= LogLevelError {
		l.log("ERROR", format, args...)
	}
}

func (l *stdLogger) log(level string, format string, args ...any) {
	now := time.Now()
	if l.format == LogFormatJSON {
		data := make(map[string]any)
		for k, v := range l.fields {
			data[k] = v
		}
		data["time"] = now.Format(time.RFC3339)
		data["level"] = level
		data["msg"] = fmt.Sprintf(format, args...)
		json.NewEncoder(l.writer).Encode(data)
	} else {
		msg := fmt.Sprintf(format, args...)
		fieldStr := ""
		if len(l.fields) > 0 {
			fieldStr = fmt.Sprintf(" fields: %v", l.fields)
		}
		fmt.Fprintf(l.writer, "[SQLKIT] %s %s: %s%s\n", now.Format("2006-01-02 15:04:05"), level, msg, fieldStr)
	}
}

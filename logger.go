package rtu485

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelNone // disables logging
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLogLevel converts a level name such as "debug" to its LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "NONE":
		return LevelNone, nil
	}
	return LevelNone, fmt.Errorf("rtu485: invalid log level %q", s)
}

// SimpleLogger is a leveled io.Writer. Components log by writing formatted
// lines into it; the level of each line is sniffed from its "DEBUG:" style
// prefix, defaulting to info. Lines below the configured level are dropped.
type SimpleLogger struct {
	mu         sync.Mutex
	level      LogLevel
	output     io.Writer
	timeFormat string
	prefix     string
}

// NewSimpleLogger writes timestamped lines tagged with prefix to output.
// A nil output defaults to os.Stdout.
func NewSimpleLogger(output io.Writer, level LogLevel, prefix string) *SimpleLogger {
	if output == nil {
		output = os.Stdout
	}
	return &SimpleLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
		prefix:     prefix,
	}
}

// SetLevel changes the minimum level that gets written.
func (l *SimpleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current minimum level.
func (l *SimpleLogger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevelFromString changes the minimum level by name, e.g. "debug".
func (l *SimpleLogger) SetLevelFromString(levelStr string) error {
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	return nil
}

// Write implements io.Writer. It always reports the full length consumed,
// even for lines the level filter drops.
func (l *SimpleLogger) Write(p []byte) (int, error) {
	message := strings.TrimSpace(string(p))
	level, message := splitLevel(message)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level == LevelNone || level < l.level {
		return len(p), nil
	}
	timestamp := time.Now().Format(l.timeFormat)
	line := fmt.Sprintf("%s [%s] <%s> %s\n", timestamp, level, l.prefix, message)
	if _, err := io.WriteString(l.output, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

// splitLevel infers the level of a message from its prefix and strips the
// prefix off. Messages without one are info.
func splitLevel(message string) (LogLevel, string) {
	upper := strings.ToUpper(message)
	for _, candidate := range []struct {
		prefix string
		level  LogLevel
	}{
		{"[DEBUG]", LevelDebug}, {"DEBUG:", LevelDebug},
		{"[INFO]", LevelInfo}, {"INFO:", LevelInfo},
		{"[WARNING]", LevelWarning}, {"WARNING:", LevelWarning}, {"WARN:", LevelWarning},
		{"[ERROR]", LevelError}, {"ERROR:", LevelError},
	} {
		if strings.HasPrefix(upper, candidate.prefix) {
			return candidate.level, strings.TrimSpace(message[len(candidate.prefix):])
		}
	}
	return LevelInfo, message
}

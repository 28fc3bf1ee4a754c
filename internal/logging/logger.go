// Package logging provides the leveled, component-scoped logger used
// across the engine, batch processor, and CLI.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var levelColors = map[LogLevel]string{
	DEBUG: "\033[36m",
	INFO:  "\033[32m",
	WARN:  "\033[33m",
	ERROR: "\033[31m",
	FATAL: "\033[35m",
}

const colorReset = "\033[0m"

// Logger is a leveled logger that can be scoped to a component path
// ("engine.batch", "cli.run", ...).
type Logger struct {
	level      LogLevel
	colored    bool
	component  string
	output     *log.Logger
	errorCount int64
	warnCount  int64
}

// Config configures a new Logger.
type Config struct {
	Level     LogLevel
	Component string
	Output    *os.File
	// Colored, if nil, is auto-detected from whether Output is a terminal.
	Colored *bool
}

// New creates a logger from Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	colored := cfg.Colored
	var useColor bool
	if colored != nil {
		useColor = *colored
	} else {
		useColor = term.IsTerminal(int(out.Fd()))
	}
	return &Logger{
		level:     cfg.Level,
		colored:   useColor,
		component: cfg.Component,
		output:    log.New(out, "", 0),
	}
}

// NewDefault creates a logger at INFO level writing to stderr, colored
// only if stderr is a terminal.
func NewDefault(component string) *Logger {
	return New(Config{Level: INFO, Component: component, Output: os.Stderr})
}

// NewFile creates a logger that appends to filename, uncolored,
// creating the file's directory first. The engine and the built-in
// task handlers do not call it; they write no per-step
// logs/<step_name>.log files.
func NewFile(filename, component string, level LogLevel) (*Logger, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	no := false
	return New(Config{Level: level, Component: component, Output: f, Colored: &no}), nil
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.warnCount++
	l.log(WARN, msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.errorCount++
	l.log(ERROR, msg, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(FATAL, msg, args...)
	os.Exit(1)
}

// LogError logs err at ERROR level with the given message if err != nil.
func (l *Logger) LogError(err error, msg string, args ...interface{}) {
	if err == nil {
		return
	}
	l.Error(msg+": %v", append(append([]interface{}{}, args...), err)...)
}

func (l *Logger) SetLevel(level LogLevel) { l.level = level }

func (l *Logger) HasErrors() bool   { return l.errorCount > 0 }
func (l *Logger) HasWarnings() bool { return l.warnCount > 0 }

// Child returns a new logger scoped under component, sharing level,
// color and output with the parent.
func (l *Logger) Child(component string) *Logger {
	c := component
	if l.component != "" {
		c = l.component + "." + component
	}
	return &Logger{level: l.level, colored: l.colored, component: c, output: l.output}
}

func (l *Logger) log(level LogLevel, msg string, args ...interface{}) {
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	levelStr := levelNames[level]
	if l.colored {
		levelStr = levelColors[level] + levelStr + colorReset
	}
	formatted := fmt.Sprintf(msg, args...)
	if l.component != "" {
		l.output.Println(fmt.Sprintf("%s [%s] [%s] %s", ts, levelStr, l.component, formatted))
	} else {
		l.output.Println(fmt.Sprintf("%s [%s] %s", ts, levelStr, formatted))
	}
}

// ParseLevel parses a level name ("debug", "INFO", ...).
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

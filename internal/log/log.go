// Package log implements the file logger used by the client and the reconnector
// It logs to a rotating file and, when PROTONVPN_DEBUG=1, also to the console
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	apexlog "github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/multi"
	"github.com/apex/log/handlers/text"
	"github.com/go-errors/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

// Level is the verbosity of the logger
type Level int8

const (
	// LevelNotSet indicates no level was set, nothing is logged
	LevelNotSet Level = iota
	// LevelDebug is for messages that are only relevant while debugging
	LevelDebug
	// LevelInfo is for additional information
	LevelInfo
	// LevelWarning is for problems the core recovers from
	LevelWarning
	// LevelError is for failures of an operation
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelNotSet:
		return "NOTSET"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) apex() apexlog.Level {
	switch l {
	case LevelDebug:
		return apexlog.DebugLevel
	case LevelInfo:
		return apexlog.InfoLevel
	case LevelWarning:
		return apexlog.WarnLevel
	default:
		return apexlog.ErrorLevel
	}
}

const (
	// logName is the name of the log file inside the log directory
	logName = "protonvpn.log"
	// maxSizeMB is the size at which the log file is rotated
	maxSizeMB = 3
	// maxBackups is the amount of rotated files that are kept
	maxBackups = 3
)

// FileLogger is a logger that writes to a rotating file
type FileLogger struct {
	mu    sync.Mutex
	level Level
	file  io.WriteCloser
	entry *apexlog.Logger
}

// Logger is the global logger
var Logger = &FileLogger{entry: &apexlog.Logger{Handler: discard.Default, Level: apexlog.InfoLevel}}

// Init initializes the logger to write to the log file in directory with the given level
// The console handler is added when PROTONVPN_DEBUG=1
func (l *FileLogger) Init(level Level, directory string) error {
	return l.InitWithWriter(level, directory, nil)
}

// InitWithWriter is Init with an extra writer to copy the log lines to
func (l *FileLogger) InitWithWriter(level Level, directory string, extra io.Writer) error {
	if err := util.EnsureDirectory(directory); err != nil {
		return errors.WrapPrefix(err, "failed creating log", 0)
	}
	rot := &lumberjack.Logger{
		Filename:   filepath.Join(directory, logName),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}

	handlers := []apexlog.Handler{text.New(rot)}
	if util.IsDebug() {
		handlers = append(handlers, cli.New(os.Stderr))
	}
	if extra != nil {
		handlers = append(handlers, text.New(extra))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
	}
	l.file = rot
	l.level = level
	l.entry = &apexlog.Logger{Handler: multi.New(handlers...), Level: level.apex()}
	return nil
}

// Level returns the current level
func (l *FileLogger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Close closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.entry = &apexlog.Logger{Handler: discard.Default, Level: apexlog.InfoLevel}
	return err
}

func (l *FileLogger) logger() *apexlog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry
}

// Inherit logs an error at error level
// With debug logging the stack trace of go-errors errors is included
func (l *FileLogger) Inherit(err error, msg string) {
	if err == nil {
		return
	}
	var goerr *errors.Error
	if l.Level() == LevelDebug && errors.As(err, &goerr) {
		l.Errorf("%s: %v\nwith stacktrace: %s", msg, err, goerr.ErrorStack())
		return
	}
	l.Errorf("%s: %v", msg, err)
}

// Debugf logs a formatted debug message
func (l *FileLogger) Debugf(msg string, params ...interface{}) {
	l.logger().Debugf(msg, params...)
}

// Infof logs a formatted info message
func (l *FileLogger) Infof(msg string, params ...interface{}) {
	l.logger().Infof(msg, params...)
}

// Warningf logs a formatted warning message
func (l *FileLogger) Warningf(msg string, params ...interface{}) {
	l.logger().Warnf(msg, params...)
}

// Errorf logs a formatted error message
func (l *FileLogger) Errorf(msg string, params ...interface{}) {
	l.logger().Errorf(msg, params...)
}

// Logf implements the Logf method used by library logger hooks
func (l *FileLogger) Logf(msg string, params ...interface{}) {
	l.Debugf(msg, params...)
}

// Log implements the Log method used by library logger hooks
func (l *FileLogger) Log(msg string) {
	l.Debugf("%s", msg)
}

// Component returns a prefixed logger for a subsystem, e.g. "[Killswitch]"
func (l *FileLogger) Component(name string) *Prefixed {
	return &Prefixed{prefix: fmt.Sprintf("[%s] ", name), parent: l}
}

// Prefixed prefixes every message with a component name
type Prefixed struct {
	prefix string
	parent *FileLogger
}

// Debugf logs a formatted debug message
func (p *Prefixed) Debugf(msg string, params ...interface{}) {
	p.parent.Debugf(p.prefix+msg, params...)
}

// Infof logs a formatted info message
func (p *Prefixed) Infof(msg string, params ...interface{}) {
	p.parent.Infof(p.prefix+msg, params...)
}

// Warningf logs a formatted warning message
func (p *Prefixed) Warningf(msg string, params ...interface{}) {
	p.parent.Warningf(p.prefix+msg, params...)
}

// Errorf logs a formatted error message
func (p *Prefixed) Errorf(msg string, params ...interface{}) {
	p.parent.Errorf(p.prefix+msg, params...)
}

package core

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

// LogLevel mirrors the levels understood by the logging backend.
type LogLevel = log.Level

const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

var (
	exitMu      sync.Mutex
	exitHandler = os.Exit
)

func getLogger() *logger {
	if singleton == nil {
		once.Do(
			func() {
				l := log.NewWithOptions(os.Stderr, log.Options{
					ReportCaller:    true,
					ReportTimestamp: true,
					TimeFormat:      time.RFC3339,
					Prefix:          "VRI 🎞️ ",
					CallerOffset:    1,
				})
				l.SetLevel(log.DebugLevel)
				singleton = &logger{l}
			})
	}
	return singleton
}

// SetLogLevel changes the minimum level that reaches the output.
func SetLogLevel(level LogLevel) {
	getLogger().SetLevel(level)
}

// ParseLogLevel converts a level name ("debug", "info", ...) into a LogLevel.
func ParseLogLevel(name string) (LogLevel, error) {
	return log.ParseLevel(name)
}

// SetExitHandler replaces the function LogFatal uses to terminate the
// process and returns the previous one. Tests install a panicking handler.
func SetExitHandler(fn func(code int)) func(code int) {
	exitMu.Lock()
	defer exitMu.Unlock()
	prev := exitHandler
	exitHandler = fn
	return prev
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

// LogFatal logs at fatal level and terminates through the exit handler.
func LogFatal(msg string, args ...interface{}) {
	getLogger().Logf(log.FatalLevel, msg, args...)
	exitMu.Lock()
	exit := exitHandler
	exitMu.Unlock()
	exit(1)
}

// Package logger is a thin zap wrapper with a process-wide service tag.
// The trade log remains the user-facing event stream; this is operational
// logging only.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

var (
	log *zap.Logger

	serviceName = "futures"
)

// SetServiceName tags all subsequent log lines and returns the old name.
func SetServiceName(name string) string {
	old := serviceName
	serviceName = name
	return old
}

// Init builds the process logger. debug selects the development config.
func Init(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log = l
	return nil
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

func Info(format string, args ...any) {
	if log == nil {
		return
	}
	log.With(zap.String("service", serviceName)).Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	if log == nil {
		return
	}
	log.With(zap.String("service", serviceName)).Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...any) {
	if log == nil {
		panic(fmt.Sprintf(format, args...))
	}
	log.With(zap.String("service", serviceName)).Fatal(fmt.Sprintf(format, args...))
}

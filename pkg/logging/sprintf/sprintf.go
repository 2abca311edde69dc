// Package sprintf is the console fallback logger used when the zap backend cannot be built.
package sprintf

import (
	"fmt"
	"log"
	"os"
)

type StdSprintfLogger struct {
	logger *log.Logger
	debug  bool
}

func NewStdSprintfLogger() *StdSprintfLogger {
	return &StdSprintfLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		debug:  true,
	}
}

// SetDebug toggles emission of debug messages
func (l *StdSprintfLogger) SetDebug(enabled bool) {
	l.debug = enabled
}

func (l *StdSprintfLogger) LogLevelf(level int, format string, args ...interface{}) {
	l.logger.Printf(fmt.Sprintf("[%d] ", level)+format, args...)
}

func (l *StdSprintfLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		l.logger.Printf("DEBUG "+format, args...)
	}
}

func (l *StdSprintfLogger) Infof(format string, args ...interface{}) {
	l.logger.Printf("INFO "+format, args...)
}

func (l *StdSprintfLogger) Warnf(format string, args ...interface{}) {
	l.logger.Printf("WARN "+format, args...)
}

func (l *StdSprintfLogger) Errorf(format string, args ...interface{}) {
	l.logger.Printf("ERROR "+format, args...)
}

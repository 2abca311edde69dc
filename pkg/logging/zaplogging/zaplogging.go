// Package zaplogging is the zap backed implementation of logging.Logger.
//
// Messages go to a console core on stderr and, optionally, to a file core whose writer is a
// lumberjack logger rotated on a fixed interval ("7d", "12h", "30m").
package zaplogging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultLogLevel     = "info"
	DefaultLogDir       = "logs"
	DefaultLogFile      = "app.log"
	DefaultRotationTime = "7d"
	DefaultBackupCount  = 5
)

// Config is the [logging] section of the supervisor configuration
type Config struct {
	LogLevel     string `yaml:"log_level,omitempty"`
	UseConsole   *bool  `yaml:"use_console,omitempty"`
	EnableFile   *bool  `yaml:"enable_file,omitempty"`
	LogDir       string `yaml:"log_dir,omitempty"`
	LogFile      string `yaml:"log_file,omitempty"`
	RotationTime string `yaml:"rotation_time,omitempty"`
	BackupCount  int    `yaml:"backup_count,omitempty"`
}

var rotationPattern = regexp.MustCompile(`^(\d+)([dhm])$`)

// ParseRotationTime parses "<N>d", "<N>h" or "<N>m". Invalid or zero values
// yield the 7 day default and false.
func ParseRotationTime(value string) (time.Duration, bool) {
	match := rotationPattern.FindStringSubmatch(value)
	if match == nil {
		return 7 * 24 * time.Hour, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return 7 * 24 * time.Hour, false
	}
	switch match[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, true
	case "h":
		return time.Duration(n) * time.Hour, true
	default:
		return time.Duration(n) * time.Minute, true
	}
}

func zapLevel(name string) (zapcore.Level, bool) {
	level, ok := logging.ParseLevel(name)
	switch level {
	case logging.DebugLevel:
		return zapcore.DebugLevel, ok
	case logging.WarnLevel:
		return zapcore.WarnLevel, ok
	case logging.ErrorLevel:
		return zapcore.ErrorLevel, ok
	default:
		return zapcore.InfoLevel, ok
	}
}

// Logger implements logging.FieldLogger on top of a zap SugaredLogger
type Logger struct {
	sugar  *zap.SugaredLogger
	closer *rotationCloser
}

type rotationCloser struct {
	file *lumberjack.Logger
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (rc *rotationCloser) close() error {
	if rc == nil {
		return nil
	}
	var err error
	rc.once.Do(func() {
		close(rc.stop)
		rc.wg.Wait()
		err = rc.file.Close()
	})
	return err
}

func boolOr(value *bool, def bool) bool {
	if value == nil {
		return def
	}
	return *value
}

// New builds the logger described by config. Configuration problems that have a sane
// fallback (bad level, bad rotation interval) are reported through the returned logger.
// An unusable log file is an error only when console output is disabled, since no output
// would remain.
func New(config Config) (*Logger, error) {
	var warnings []string

	level, ok := zapLevel(config.LogLevel)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("Invalid log level %q, using info", config.LogLevel))
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core
	var closer *rotationCloser

	useConsole := boolOr(config.UseConsole, true)

	if boolOr(config.EnableFile, true) {
		fileCore, rc, err := newFileCore(config, encoder, atomicLevel, &warnings)
		switch {
		case err != nil && !useConsole:
			return nil, errors.NewIOError("failed to set up file logging", err).
				WithContext("log_dir", config.LogDir)
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("Failed to set up file logging: %v, using console output only", err))
		default:
			cores = append(cores, fileCore)
			closer = rc
		}
	}

	if useConsole || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomicLevel))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	logger := &Logger{
		sugar:  base.Sugar(),
		closer: closer,
	}

	for _, w := range warnings {
		logger.Warnf("%s", w)
	}
	return logger, nil
}

func newFileCore(config Config, encoder zapcore.Encoder, level zap.AtomicLevel, warnings *[]string) (zapcore.Core, *rotationCloser, error) {
	logDir := config.LogDir
	if logDir == "" {
		logDir = DefaultLogDir
	}
	logFile := config.LogFile
	if logFile == "" {
		logFile = DefaultLogFile
	}
	backupCount := config.BackupCount
	if backupCount <= 0 {
		backupCount = DefaultBackupCount
	}
	rotationTime := config.RotationTime
	if rotationTime == "" {
		rotationTime = DefaultRotationTime
	}
	interval, ok := ParseRotationTime(rotationTime)
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("Invalid rotation_time %q, using %s", rotationTime, DefaultRotationTime))
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFile),
		MaxBackups: backupCount,
		LocalTime:  true,
	}
	// Open eagerly so permission problems surface now
	if _, err := file.Write(nil); err != nil {
		return nil, nil, err
	}

	rc := &rotationCloser{
		file: file,
		stop: make(chan struct{}),
	}
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = file.Rotate()
			case <-rc.stop:
				return
			}
		}
	}()

	return zapcore.NewCore(encoder, zapcore.AddSync(file), level), rc, nil
}

func (l *Logger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case logging.DebugLevel:
		l.sugar.Debugf(format, args...)
	case logging.InfoLevel:
		l.sugar.Infof(format, args...)
	case logging.WarnLevel:
		l.sugar.Warnf(format, args...)
	default:
		l.sugar.Errorf(format, args...)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying the given structured fields
func (l *Logger) With(keysAndValues ...interface{}) logging.Logger {
	return &Logger{
		sugar:  l.sugar.With(keysAndValues...),
		closer: l.closer,
	}
}

// Close flushes buffered entries and releases the log file
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	return l.closer.close()
}

// Package logging builds the logr.Logger used throughout tcpdoctor: zap in
// production JSON format through zapr, optionally written to a rotating file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger
type Options struct {
	// Path of the rotating log file, empty disables the file
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console also writes to stderr. The dashboard leaves it off since it
	// owns the terminal.
	Console bool
}

// ParseLevel maps "debug", "info", "warn", "error" or a logr verbosity
// ("v2") onto a zap level
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if v, ok := strings.CutPrefix(s, "v"); ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 0 {
			return zapcore.Level(-n), nil
		}
	}
	return zapcore.ParseLevel(s)
}

// New builds a logger. The returned closer flushes and closes the log file.
func New(opts Options) (logr.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), nopCloser{}, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	enabler := zap.NewAtomicLevelAt(level)

	var (
		cores []zapcore.Core
		file  *lumberjack.Logger
	)
	if opts.Path != "" {
		file = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), enabler))
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), enabler))
	}
	if len(cores) == 0 {
		return logr.Discard(), nopCloser{}, nil
	}

	zapLogger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return zapr.NewLogger(zapLogger), &closer{logger: zapLogger, file: file}, nil
}

type closer struct {
	logger *zap.Logger
	file   *lumberjack.Logger
}

func (c *closer) Close() error {
	_ = c.logger.Sync()
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

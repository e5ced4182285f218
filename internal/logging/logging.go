// Package logging wraps log/slog with the severity and source taxonomy
// carried over from the original implementation's logger: one extra level
// ("success") alongside slog's usual four, and a source tag identifying
// which role (master, cluster, client) emitted the record.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// LevelSuccess sits between Info and Warn: used for "the thing worked"
// milestones (connected, registered, key loaded) that aren't noteworthy
// enough to warn about but are worth calling out above routine info logs.
const LevelSuccess = slog.Level(2)

// Source identifies which executable role produced a log record.
type Source string

const (
	SourceMaster  Source = "master"
	SourceCluster Source = "cluster"
	SourceClient  Source = "client"
	SourceSystem  Source = "system"
)

// Logger is a thin wrapper over *slog.Logger that fixes a Source and adds
// a Success method for the extra severity tier.
type Logger struct {
	base *slog.Logger
}

// New builds a Logger writing text-formatted records to os.Stdout at the
// given minimum level, tagged with src. levelName follows the same
// debug/info/warn/error vocabulary used for the --log-level flag.
func New(src Source, levelName string) *Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(levelName),
	})
	return &Logger{base: slog.New(handler).With("source", string(src))}
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// Success logs at LevelSuccess, the extra tier between Info and Warn.
func (l *Logger) Success(msg string, args ...any) {
	l.base.Log(context.Background(), LevelSuccess, msg, args...)
}

// With returns a Logger that includes the given key/value pairs on every
// subsequent record, mirroring slog.Logger.With.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

package voxel

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// LogConfig describes where and how to rotate the process log file.
// Drops straight into a TOML [logging] section.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"` // megabytes
	MaxAge  int `toml:"max_log_age"`  // days
}

// stdLogger writes through the standard log package, optionally via a
// lumberjack rotating file. This is the default logger installed at
// package init and used whenever SetLogger hasn't been called.
type stdLogger struct {
	*lumberjack.Logger
}

// Apply installs a stdLogger backed by the configured log file, or logs
// to stderr (the standard log package's default output) if no file is
// configured.
func (c *LogConfig) Apply() {
	if c == nil || c.Logfile == "" {
		Infof("no log file configured; logging to stderr")
		return
	}
	fmt.Printf("sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	SetLogger(stdLogger{l})
}

func (l stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (l stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (l stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (l stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (l stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (l stdLogger) Shutdown() {
	if l.Logger != nil {
		l.Logger.Close()
	}
}

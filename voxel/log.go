package voxel

import "time"

// ModeFlag is the severity threshold required for a log call to reach
// the underlying logger.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var (
	// Verbose is set when the process was started with -verbose.
	Verbose bool

	// NumCPU is the number of logical CPUs this process should use for
	// background work such as the preprocess fill job's parallel chunk
	// encoding.
	NumCPU = 1

	mode ModeFlag
)

// Logger is implemented by whatever backs the package-level log
// functions; swappable so tests can capture output.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})
	Shutdown()
}

var logger Logger = stdLogger{}

// SetLogMode sets the severity required for a log message to be printed.
// SilentMode turns off all logging.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// SetLogger overrides the package-level logger, e.g. to route output
// through a rotating file.
func SetLogger(l Logger) {
	if l != nil {
		logger = l
	}
}

func Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if mode <= CriticalMode {
		logger.Criticalf(format, args...)
	}
}

// TimeLog appends elapsed time since its creation to every message it
// logs. Typical use:
//
//	tlog := voxel.NewTimeLog()
//	...
//	tlog.Infof("preprocess done")  // appends elapsed time.
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{logger, time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		t.logger.Debugf(format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		t.logger.Infof(format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		t.logger.Warningf(format+": %s", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		t.logger.Errorf(format+": %s", append(args, time.Since(t.start))...)
	}
}

package avcore

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the minimal leveled logging surface the package needs. The
// standard library's *log.Logger does not satisfy it (it has no Debugf,
// Warnf or Errorf); callers that don't want the charmbracelet dependency
// pulled into their own logs can plug in any type with these four methods.
type Logger interface {
	Printf(format string, v ...any)
	Debugf(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// charmLogger adapts github.com/charmbracelet/log to the Logger interface.
type charmLogger struct {
	l *charmlog.Logger
}

func (c charmLogger) Printf(format string, v ...any) { c.l.Infof(format, v...) }
func (c charmLogger) Debugf(format string, v ...any) { c.l.Debugf(format, v...) }
func (c charmLogger) Warnf(format string, v ...any)  { c.l.Warnf(format, v...) }
func (c charmLogger) Errorf(format string, v ...any) { c.l.Errorf(format, v...) }

func newDefaultLogger() Logger {
	return charmLogger{l: charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Prefix:          "avcore",
		ReportTimestamp: true,
	})}
}

var pkgLogger Logger = newDefaultLogger()

// NewCLILogger builds the logger cmd/avplay installs as the package default:
// same charmbracelet/log backing as newDefaultLogger, exposed publicly so
// the CLI boundary doesn't need to reach into an unexported constructor.
func NewCLILogger() Logger {
	return charmLogger{l: charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Prefix:          "avplay",
		ReportTimestamp: true,
	})}
}

// SetLogger replaces the package-wide default logger, which NewSession
// uses when its log argument is nil.
func SetLogger(logger Logger) {
	pkgLogger = logger
}

package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

const defaultLevel = logrus.ErrorLevel

var (
	// Base is the logger behind Logger, for libraries that need an io.Writer.
	Base   *logrus.Logger
	Logger logrus.FieldLogger

	// Trace receives per-job dispatch traces for jobs that ask for them. It is
	// kept apart from Logger so that opting a job into tracing does not depend
	// on the process log level.
	Trace logrus.FieldLogger
)

func init() {
	Base = newLogger(os.Getenv("LOG_LEVEL"))
	Logger = Base
	Trace = newTraceLogger()
}

func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.Out = os.Stdout

	lvl, err := resolveLogLevel(level)
	l.Level = lvl

	if err != nil {
		l.Errorf("an error occurred resolving the log level: %s", err)
	}

	return l
}

func newTraceLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.Out = os.Stdout
	l.Level = logrus.InfoLevel

	return l.WithField("channel", "trace")
}

func resolveLogLevel(envLvl string) (logrus.Level, error) {
	if envLvl == "" {
		return defaultLevel, nil
	}

	lvl, err := logrus.ParseLevel(envLvl)
	if err != nil {
		return defaultLevel, err
	}

	return lvl, nil
}

package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the shared logger. Commands set its level from the --loglevel flag.
var Log = logrus.New()

func SetLevel(level string) {
	// trace and panic levels are not used
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(logrus.DebugLevel)
	case "info":
		Log.SetLevel(logrus.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(logrus.WarnLevel)
	case "error":
		Log.SetLevel(logrus.ErrorLevel)
	case "fatal":
		Log.SetLevel(logrus.FatalLevel)
	default:
		Log.SetLevel(logrus.InfoLevel)
		Log.Warnf("unknown log level %q, using info", level)
	}
}

// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init applies level, format and output to the standard logger and returns it.
// An invalid level falls back to info; an unopenable file falls back to stdout.
func Init(level, format, output string) *logrus.Logger {
	l := logrus.StandardLogger()
	Configure(l, level, format, output)
	return l
}

// Configure applies the settings to l.
func Configure(l *logrus.Logger, level, format, output string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.Warnf("invalid log level %q, using info: %v", level, err)
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer
	switch strings.ToLower(output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Warnf("cannot open log file %q, using stdout: %v", output, err)
			out = os.Stdout
		} else {
			out = f
		}
	}
	l.SetOutput(out)
}

package telemetry

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogrus builds the process logger. LOG_LEVEL selects the level (info by
// default) and LOG_FORMAT=json switches to the JSON formatter.
func NewLogrus(out io.Writer, lookup func(string) (string, bool)) *logrus.Logger {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if out == nil {
		out = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(out)

	level := logrus.InfoLevel
	if raw, ok := lookup("LOG_LEVEL"); ok {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)

	format, _ := lookup("LOG_FORMAT")
	if strings.ToLower(format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

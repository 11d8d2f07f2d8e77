// Package monitor sets up logging and prometheus metrics for the hosted
// binaries.
package monitor

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gowindfarm/pkg/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// NewLogger creates a logger from cfg. Unknown levels fall back to info.
// A nil out keeps logrus' default of stderr, which leaves stdout free for
// the data stream.
func NewLogger(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	if out != nil {
		log.SetOutput(out)
	}

	return log
}

package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/knowledge-engine/catalogsearch/internal/config"
)

// New builds the process logger and returns an entry tagged with service.
// When cfg.File is set, output is also written to a rotating file
// (5 MB, 5 backups); close the returned io.Closer on shutdown.
func New(cfg config.LogConfig, service string) (*logrus.Entry, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    5, // megabytes
			MaxBackups: 5,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotating))
		closer = rotating
	}

	return logger.WithField("service", service), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

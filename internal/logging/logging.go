package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/smukkama/water-ingest/pkg/config"
)

// Setup configures the standard logrus logger from cfg.
func Setup(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	return nil
}

// For returns a logger tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

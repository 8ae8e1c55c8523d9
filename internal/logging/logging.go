// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Configure sets the level, format ("text" or "json") and destination of the
// standard logger.
func Configure(level, format string, out io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.WithStack(err)
	}

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}

	log.SetLevel(lvl)
	log.SetOutput(out)
	return nil
}

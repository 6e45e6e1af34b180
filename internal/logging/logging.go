// Package logging configures the process-wide logger.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Options controls logger construction.
type Options struct {
	// Verbose enables debug-level output.
	Verbose bool
	// File, when non-empty, appends log output to the named file instead of
	// stderr.
	File string
}

// New builds a configured *logrus.Logger. The returned closer is non-nil when
// a log file was opened.
func New(opts Options) (*log.Logger, io.Closer, error) {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if opts.Verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	if opts.File == "" {
		return logger, nil, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", opts.File)
	}
	logger.SetOutput(f)
	return logger, f, nil
}

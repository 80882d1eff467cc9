// Package logging builds the process logger.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"trackprobe/internal/config"
)

// New returns a logger writing to stdout and, when settings name a file,
// to a size-rotated log file as well. The returned closer is nil when no
// file is used.
func New(settings config.LogSettings, prefix string) (*log.Logger, io.Closer) {
	w, closer := buildWriter(settings)
	return log.New(w, prefix, log.LstdFlags|log.Lmsgprefix), closer
}

func buildWriter(settings config.LogSettings) (io.Writer, io.Closer) {
	if settings.File == "" {
		return os.Stdout, nil
	}

	lj := &lumberjack.Logger{
		Filename:   settings.File,
		MaxSize:    settings.MaxSizeMB,
		MaxBackups: settings.MaxBackups,
		MaxAge:     settings.MaxAgeDays,
	}
	return io.MultiWriter(os.Stdout, lj), lj
}

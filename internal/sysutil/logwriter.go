package sysutil

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter builds the output writer for the global logger.
//
// With an empty path, logs go to stderr (pretty console format when pretty
// is set). With a path, logs additionally go to a size-rotated file; the
// file always receives plain JSON lines regardless of pretty.
func LogWriter(path string, pretty bool) io.Writer {
	var console io.Writer = os.Stderr
	if pretty {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if path == "" {
		return console
	}
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return io.MultiWriter(console, rotated)
}

package common

import (
	"io"
	"os"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

type closeableHandler struct {
	handler log15.Handler
	closer  func() error
}

var _ io.Closer = &closeableHandler{}
var _ log15.Handler = &closeableHandler{}

func (h *closeableHandler) Close() error {
	return h.closer()
}

func (h *closeableHandler) Log(r *log15.Record) error {
	return h.handler.Log(r)
}

func nopCloser() error { return nil }

// NewLogger creates a log15.Logger that follows config. When config.File
// points to a real file, the file is reopened on SIGHUP so that it plays
// well with logrotate.
func NewLogger(config LoggingConfig) (log15.Logger, error) {
	log := log15.New()

	format := log15.LogfmtFormat()
	if config.JSON {
		format = log15.JsonFormat()
	}

	var handler log15.Handler
	closer := nopCloser
	switch config.File {
	case "/dev/null":
		handler = log15.DiscardHandler()
	case "", "stderr":
		handler = log15.StreamHandler(os.Stderr, format)
	default:
		loggingFile, err := NewRotatingFile(config.File, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open log file %q", config.File)
		}
		handler = log15.LazyHandler(log15.StreamHandler(loggingFile, format))
		closer = loggingFile.Close
	}

	level := config.Level
	if level == "" {
		level = "info"
	}
	maxLvl, err := log15.LvlFromString(level)
	if err != nil {
		closer()
		return nil, errors.Wrapf(err, "invalid logging level %q", level)
	}
	log.SetHandler(&closeableHandler{
		handler: ErrorCallerStackHandler(maxLvl, handler),
		closer:  closer,
	})
	return log, nil
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() log15.Logger {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())
	return log
}

// CloseLogger releases the resources held by a logger created with
// NewLogger.
func CloseLogger(log log15.Logger) error {
	if closer, ok := log.GetHandler().(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ErrorCallerStackHandler creates a handler that drops all logs that are less
// important than maxLvl, and also adds a stack trace to all events that are
// errors / critical.
func ErrorCallerStackHandler(maxLvl log15.Lvl, handler log15.Handler) log15.Handler {
	callerStackHandler := log15.CallerStackHandler("%+v", handler)
	return log15.FuncHandler(func(r *log15.Record) error {
		if r.Lvl > maxLvl {
			return nil
		}
		if r.Lvl <= log15.LvlError {
			return callerStackHandler.Log(r)
		}
		return handler.Log(r)
	})
}

package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// RotatingLogWriter is a wrapper around the log backend that all subsystem
// loggers write through. Every log line goes to stdout and, once the rotator
// has been initialized, to a rotating file set on disk as well.
type RotatingLogWriter struct {
	backend *btclog.Backend

	pipe *io.PipeWriter

	rotator *rotator.Rotator
}

// multiWriter dispatches writes to stdout and, if set, the rotator pipe.
type multiWriter struct {
	pipe *io.PipeWriter
}

func (w *multiWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)
	if w.pipe != nil {
		w.pipe.Write(b)
	}
	return len(b), nil
}

// NewRotatingLogWriter creates a new log writer with only the stdout sink
// active. InitLogRotator must be called before any output hits disk.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{
		backend: btclog.NewBackend(&multiWriter{}),
	}
}

// InitLogRotator initializes the log file rotator to write logs to logFile
// and create roll files in the same directory. All messages written after
// this call also end up in the rotated file set.
func (w *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize,
	maxLogFiles int) error {

	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	w.rotator = r

	pr, pw := io.Pipe()
	w.pipe = pw
	w.backend = btclog.NewBackend(&multiWriter{pipe: pw})

	go func() {
		if err := w.rotator.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr,
				"failed to run file rotator: %v\n", err)
		}
	}()

	return nil
}

// GenSubLogger creates a new subsystem logger from the backend. The returned
// logger starts at the info level.
func (w *RotatingLogWriter) GenSubLogger(subsystem string) btclog.Logger {
	logger := w.backend.Logger(subsystem)
	logger.SetLevel(btclog.LevelInfo)
	return logger
}

// Close closes the underlying log rotator if it has been created.
func (w *RotatingLogWriter) Close() error {
	if w.pipe != nil {
		w.pipe.Close()
	}
	if w.rotator != nil {
		w.rotator.Close()
	}
	return nil
}

// NewSubLogger constructs a new subsystem logger from the provided generator
// function. If no generator is given, logging for the subsystem is disabled.
// Packages call this from their init functions so that importing a package
// never produces output until the host application wires up a backend.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}

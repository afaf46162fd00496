package common

import (
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// A RotatingFile is an io.WriteCloser that appends to a log file and reopens
// it whenever the process receives SIGHUP. All operations are thread-safe.
type RotatingFile struct {
	path    string
	mode    os.FileMode
	signals chan os.Signal

	lock sync.Mutex
	file *os.File
}

var _ io.WriteCloser = &RotatingFile{}

// NewRotatingFile opens path for writing in append-only mode and starts
// listening for SIGHUP.
func NewRotatingFile(path string, mode os.FileMode) (*RotatingFile, error) {
	r := &RotatingFile{
		path:    path,
		mode:    mode,
		signals: make(chan os.Signal, 1),
	}
	file, err := r.open()
	if err != nil {
		return nil, err
	}
	r.file = file

	signal.Notify(r.signals, syscall.SIGHUP)
	go func() {
		for range r.signals {
			r.Rotate()
		}
	}()

	return r, nil
}

func (r *RotatingFile) open() (*os.File, error) {
	return os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, r.mode)
}

// Write appends b to the current file.
func (r *RotatingFile) Write(b []byte) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.file.Write(b)
}

// Close closes the current file and stops listening for SIGHUP.
func (r *RotatingFile) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	signal.Stop(r.signals)
	close(r.signals)
	return r.file.Close()
}

// Rotate opens the path again and closes the previous file. Writes that
// happen after Rotate returns go to whatever file lives at the path now.
func (r *RotatingFile) Rotate() error {
	newFile, err := r.open()
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	oldFile := r.file
	r.file = newFile
	return oldFile.Close()
}

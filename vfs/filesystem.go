// Package vfs implements a flat, in-memory file system for the programs
// being graded. Files are named byte buffers; every open handle has its own
// cursor into the shared buffer.
//
// A FileSystem is owned by exactly one grading invocation and is not safe
// for concurrent use: sessions that share it run strictly one after the
// other.
package vfs

import (
	stderrors "errors"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a file opened for reading does not exist.
	ErrNotFound = stderrors.New("no such file")

	// ErrMode is returned for unknown open modes, and for writes to a file
	// that was not opened for writing.
	ErrMode = stderrors.New("invalid mode")

	// ErrClosed is returned by every operation on a closed file.
	ErrClosed = stderrors.New("I/O operation on closed file")

	// ErrValue is returned for invalid arguments, such as an unknown whence.
	ErrValue = stderrors.New("invalid argument")
)

// Mode is the mode in which a file is opened.
type Mode int

const (
	// ModeRead opens an existing file for reading.
	ModeRead Mode = iota
	// ModeWrite creates or empties a file and opens it for writing.
	ModeWrite
	// ModeAppend creates a file if needed and opens it for writing at its end.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeAppend:
		return "a"
	}
	return "?"
}

// ParseMode normalizes a textual open mode. Case is ignored, as are the
// binary and text suffixes ("rb", "Wt"). Anything that does not reduce to
// exactly one of "r", "w" or "a" is rejected with ErrMode.
func ParseMode(s string) (Mode, error) {
	normalized := strings.TrimRight(strings.ToLower(s), "bt")
	switch normalized {
	case "r":
		return ModeRead, nil
	case "w":
		return ModeWrite, nil
	case "a":
		return ModeAppend, nil
	}
	return ModeRead, errors.Wrapf(ErrMode, "mode %q", s)
}

type buffer struct {
	data []byte
}

// A FileSystem is a table from file names to byte buffers.
type FileSystem struct {
	files map[string]*buffer
}

// New returns an empty FileSystem.
func New() *FileSystem {
	return &FileSystem{
		files: make(map[string]*buffer),
	}
}

// Open opens the named file. Opening for writing always (re)creates the file
// with empty contents, opening for appending creates it if it is absent and
// places the cursor at its end.
func (fs *FileSystem) Open(name string, mode Mode) (*File, error) {
	buf, ok := fs.files[name]
	switch mode {
	case ModeRead:
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "%q", name)
		}
	case ModeWrite:
		if ok {
			buf.data = nil
		} else {
			buf = &buffer{}
			fs.files[name] = buf
		}
	case ModeAppend:
		if !ok {
			buf = &buffer{}
			fs.files[name] = buf
		}
	default:
		return nil, errors.Wrapf(ErrMode, "mode %d", int(mode))
	}

	f := &File{
		name: name,
		mode: mode,
		buf:  buf,
	}
	if mode == ModeAppend {
		f.cursor = len(buf.data)
	}
	return f, nil
}

// OpenString is like Open, but takes the mode as text (see ParseMode).
func (fs *FileSystem) OpenString(name, mode string) (*File, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return fs.Open(name, m)
}

// WithFile opens the named file, passes it to fn and closes it on every exit
// path, including a panic inside fn. The error returned by fn takes
// precedence over the error returned by Close.
func (fs *FileSystem) WithFile(name string, mode Mode, fn func(f *File) error) (err error) {
	f, err := fs.Open(name, mode)
	if err != nil {
		return err
	}
	defer func() {
		cerr := f.Close()
		if err == nil && cerr != nil && !stderrors.Is(cerr, ErrClosed) {
			err = cerr
		}
	}()
	return fn(f)
}

// Exists returns whether there is a file with the given name.
func (fs *FileSystem) Exists(name string) bool {
	_, ok := fs.files[name]
	return ok
}

// Contents returns a copy of the named file's contents.
func (fs *FileSystem) Contents(name string) ([]byte, error) {
	buf, ok := fs.files[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return append([]byte(nil), buf.data...), nil
}

// Names returns the names of all the files, sorted.
func (fs *FileSystem) Names() []string {
	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package vfs

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Handle is the capability a program receives when it opens a file.
type Handle interface {
	Read(n int) (string, error)
	ReadLine() (string, error)
	ReadLines() (*Lines, error)
	Seek(offset int64, whence int) (int64, error)
	Tell() (int64, error)
	Write(s string) (int, error)
	Writelines(lines []string) error
	Truncate(size int64) error
	Close() error
}

// A File is an open handle into a FileSystem buffer. The buffer is shared
// with any other handle open on the same name; the cursor is not.
type File struct {
	name   string
	mode   Mode
	buf    *buffer
	cursor int
	closed bool
}

var _ Handle = &File{}

// Name returns the name the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Mode returns the mode the file was opened with.
func (f *File) Mode() Mode {
	return f.mode
}

// Closed returns whether Close has been called.
func (f *File) Closed() bool {
	return f.closed
}

// check fails if the file is closed, and brings the cursor back into the
// buffer in case another handle shrank it.
func (f *File) check() error {
	if f.closed {
		return errors.Wrapf(ErrClosed, "%q", f.name)
	}
	if f.cursor > len(f.buf.data) {
		f.cursor = len(f.buf.data)
	}
	return nil
}

func (f *File) checkWritable(op string) error {
	if err := f.check(); err != nil {
		return err
	}
	if f.mode != ModeWrite && f.mode != ModeAppend {
		return errors.Wrapf(ErrMode, "%s: %q not open for writing", op, f.name)
	}
	return nil
}

// Read returns up to n bytes starting at the cursor and advances the cursor
// past them. A negative n reads the rest of the buffer. At the end of the
// buffer the empty string is returned.
func (f *File) Read(n int) (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	end := len(f.buf.data)
	if n >= 0 && n < end-f.cursor {
		end = f.cursor + n
	}
	s := string(f.buf.data[f.cursor:end])
	f.cursor = end
	return s, nil
}

// ReadLine returns everything up to and including the next newline, or the
// rest of the buffer if there is no newline left. The empty string signals
// the end of the buffer.
func (f *File) ReadLine() (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	rest := f.buf.data[f.cursor:]
	end := len(rest)
	if idx := bytes.IndexByte(rest, '\n'); idx != -1 {
		end = idx + 1
	}
	s := string(rest[:end])
	f.cursor += end
	return s, nil
}

// ReadLines returns a lazy sequence of the remaining lines. The sequence
// shares this handle's cursor, so it cannot be restarted.
func (f *File) ReadLines() (*Lines, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return &Lines{file: f}, nil
}

// Seek moves the cursor. The new position is clamped to the buffer.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(f.cursor)
	case io.SeekEnd:
		base = int64(len(f.buf.data))
	default:
		return 0, errors.Wrapf(ErrValue, "invalid whence (%d, should be 0, 1 or 2)", whence)
	}
	// Compared against the bounds before adding so that huge offsets cannot
	// wrap around.
	size := int64(len(f.buf.data))
	var pos int64
	switch {
	case offset < -base:
		pos = 0
	case offset > size-base:
		pos = size
	default:
		pos = base + offset
	}
	f.cursor = int(pos)
	return pos, nil
}

// Tell returns the position of the cursor.
func (f *File) Tell() (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return int64(f.cursor), nil
}

// Write replaces everything from the cursor onwards with s and leaves the
// cursor at the new end of the buffer.
func (f *File) Write(s string) (int, error) {
	if err := f.checkWritable("write"); err != nil {
		return 0, err
	}
	data := make([]byte, f.cursor, f.cursor+len(s))
	copy(data, f.buf.data[:f.cursor])
	f.buf.data = append(data, s...)
	f.cursor = len(f.buf.data)
	return len(s), nil
}

// Writelines writes every string in lines, in order. No separators are added.
func (f *File) Writelines(lines []string) error {
	for _, line := range lines {
		if _, err := f.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// Truncate shrinks the buffer to size bytes. A negative size means the
// current cursor. The buffer never grows.
func (f *File) Truncate(size int64) error {
	if err := f.checkWritable("truncate"); err != nil {
		return err
	}
	if size < 0 {
		size = int64(f.cursor)
	}
	if size < int64(len(f.buf.data)) {
		f.buf.data = f.buf.data[:size]
	}
	if f.cursor > len(f.buf.data) {
		f.cursor = len(f.buf.data)
	}
	return nil
}

// Close marks the file as closed.
func (f *File) Close() error {
	if f.closed {
		return errors.Wrapf(ErrClosed, "%q", f.name)
	}
	f.closed = true
	return nil
}

// Lines iterates over the lines of a File, in the manner of bufio.Scanner.
type Lines struct {
	file *File
	line string
	err  error
	done bool
}

// Scan advances to the next line. It returns false once the file is
// exhausted or an error occurs.
func (l *Lines) Scan() bool {
	if l.done {
		return false
	}
	l.line, l.err = l.file.ReadLine()
	if l.err != nil || l.line == "" {
		l.done = true
		l.line = ""
		return false
	}
	return true
}

// Text returns the line read by the last successful call to Scan.
func (l *Lines) Text() string {
	return l.line
}

// Err returns the error that stopped the iteration, if any.
func (l *Lines) Err() error {
	return l.err
}

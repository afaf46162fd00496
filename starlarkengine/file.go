package starlarkengine

import (
	"fmt"
	"sort"

	"github.com/omegaup/replgrader/vfs"
	"github.com/pkg/errors"
	"go.starlark.net/starlark"
)

// file is the value returned by open(): a vfs.Handle seen from the
// program.
type file struct {
	f      *vfs.File
	engine *Engine
}

var (
	_ starlark.HasAttrs = (*file)(nil)
	_ starlark.Iterable = (*file)(nil)
)

type fileMethod func(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var fileMethods = map[string]fileMethod{
	"read":       fileRead,
	"readline":   fileReadLine,
	"readlines":  fileReadLines,
	"seek":       fileSeek,
	"tell":       fileTell,
	"write":      fileWrite,
	"writelines": fileWritelines,
	"truncate":   fileTruncate,
	"close":      fileClose,
}

var fileAttrNames = func() []string {
	names := []string{"closed", "mode", "name"}
	for name := range fileMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}()

func (v *file) String() string {
	return fmt.Sprintf("<file %s mode %s>", quote(v.f.Name()), quote(v.f.Mode().String()))
}
func (v *file) Type() string          { return "file" }
func (v *file) Freeze()               {}
func (v *file) Truth() starlark.Bool  { return starlark.True }
func (v *file) Hash() (uint32, error) { return 0, errors.New("unhashable type: file") }

func (v *file) Attr(name string) (starlark.Value, error) {
	switch name {
	case "closed":
		return starlark.Bool(v.f.Closed()), nil
	case "name":
		return starlark.String(v.f.Name()), nil
	case "mode":
		return starlark.String(v.f.Mode().String()), nil
	}
	method, ok := fileMethods[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(
		_ *starlark.Thread,
		b *starlark.Builtin,
		args starlark.Tuple,
		kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		return method(b.Receiver().(*file).f, args, kwargs)
	}).BindReceiver(v), nil
}

func (v *file) AttrNames() []string {
	return fileAttrNames
}

// Iterate yields the remaining lines. Iterators cannot fail, so iterating
// over a closed file aborts the running code with the ClosedError instead.
func (v *file) Iterate() starlark.Iterator {
	lines, err := v.f.ReadLines()
	if err != nil {
		v.engine.abort(err)
		return &lineIterator{}
	}
	return &lineIterator{lines: lines}
}

type lineIterator struct {
	lines *vfs.Lines
}

func (it *lineIterator) Next(p *starlark.Value) bool {
	if it.lines == nil || !it.lines.Scan() {
		return false
	}
	*p = starlark.String(it.lines.Text())
	return true
}

func (it *lineIterator) Done() {}

func fileRead(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	size := -1
	if err := starlark.UnpackPositionalArgs("read", args, kwargs, 0, &size); err != nil {
		return nil, err
	}
	s, err := f.Read(size)
	if err != nil {
		return nil, err
	}
	return starlark.String(s), nil
}

func fileReadLine(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("readline", args, kwargs, 0); err != nil {
		return nil, err
	}
	s, err := f.ReadLine()
	if err != nil {
		return nil, err
	}
	return starlark.String(s), nil
}

func fileReadLines(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("readlines", args, kwargs, 0); err != nil {
		return nil, err
	}
	lines, err := f.ReadLines()
	if err != nil {
		return nil, err
	}
	var elems []starlark.Value
	for lines.Scan() {
		elems = append(elems, starlark.String(lines.Text()))
	}
	if err := lines.Err(); err != nil {
		return nil, err
	}
	return starlark.NewList(elems), nil
}

func fileSeek(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var offset, whence int
	if err := starlark.UnpackPositionalArgs("seek", args, kwargs, 1, &offset, &whence); err != nil {
		return nil, err
	}
	pos, err := f.Seek(int64(offset), whence)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt64(pos), nil
}

func fileTell(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("tell", args, kwargs, 0); err != nil {
		return nil, err
	}
	pos, err := f.Tell()
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt64(pos), nil
}

func fileWrite(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs("write", args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	n, err := f.Write(s)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(n), nil
}

func fileWritelines(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs("writelines", args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	var lines []string
	iter := iterable.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		s, ok := starlark.AsString(elem)
		if !ok {
			return nil, errors.Wrapf(vfs.ErrValue, "writelines: got %s, want string", elem.Type())
		}
		lines = append(lines, s)
	}
	if err := f.Writelines(lines); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func fileTruncate(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var size starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs("truncate", args, kwargs, 0, &size); err != nil {
		return nil, err
	}
	n := int64(-1)
	if size != starlark.None {
		i, err := starlark.AsInt32(size)
		if err != nil || i < 0 {
			return nil, errors.Wrapf(vfs.ErrValue, "truncate: invalid size %s", size)
		}
		n = int64(i)
	}
	if err := f.Truncate(n); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func fileClose(f *vfs.File, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("close", args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

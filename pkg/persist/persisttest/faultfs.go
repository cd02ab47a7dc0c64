// Package persisttest provides a file system that fails on demand, for
// exercising crash-safety of artifact writes.
package persisttest

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrInjected is returned by every injected failure.
var ErrInjected = errors.New("injected fault")

// Op names a write boundary at which FaultFs can fail.
type Op string

// Write boundaries.
const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpSync   Op = "sync"
	OpClose  Op = "close"
	OpRename Op = "rename"
)

// Ops lists every boundary, in the order a write crosses them.
var Ops = []Op{OpCreate, OpWrite, OpSync, OpClose, OpRename}

// FaultFs wraps an afero.Fs and fails the first matching operation on a
// temporary file once armed.
type FaultFs struct {
	afero.Fs

	mu    sync.Mutex
	armed Op
	fired bool
}

// NewFaultFs wraps base.
func NewFaultFs(base afero.Fs) *FaultFs {
	return &FaultFs{Fs: base}
}

// Arm makes the next op on a temporary file fail. An empty op disarms.
func (f *FaultFs) Arm(op Op) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.armed = op
	f.fired = false
}

// Fired reports whether the armed fault has triggered.
func (f *FaultFs) Fired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fired
}

func (f *FaultFs) trip(op Op, name string) error {
	if !strings.Contains(name, "tmp") {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.armed != op || f.fired {
		return nil
	}

	f.fired = true

	return &os.PathError{Op: string(op), Path: name, Err: ErrInjected}
}

// OpenFile implements afero.Fs.
func (f *FaultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 {
		if err := f.trip(OpCreate, name); err != nil {
			return nil, err
		}
	}

	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultFile{File: file, fs: f}, nil
}

// Rename implements afero.Fs.
func (f *FaultFs) Rename(oldname, newname string) error {
	if err := f.trip(OpRename, oldname); err != nil {
		return err
	}

	return f.Fs.Rename(oldname, newname)
}

type faultFile struct {
	afero.File

	fs *FaultFs
}

func (ff *faultFile) Write(p []byte) (int, error) {
	if err := ff.fs.trip(OpWrite, ff.Name()); err != nil {
		// A torn write: half the buffer lands before the failure.
		n, _ := ff.File.Write(p[:len(p)/2])

		return n, err
	}

	return ff.File.Write(p)
}

func (ff *faultFile) Sync() error {
	if err := ff.fs.trip(OpSync, ff.Name()); err != nil {
		return err
	}

	return ff.File.Sync()
}

func (ff *faultFile) Close() error {
	if err := ff.fs.trip(OpClose, ff.Name()); err != nil {
		_ = ff.File.Close()

		return err
	}

	return ff.File.Close()
}

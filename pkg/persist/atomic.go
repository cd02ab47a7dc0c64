package persist

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// tempPattern names in-progress files next to their target.
const tempPattern = ".maxe-tmp-*"

// countingWriter counts bytes passed through to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}

// WriteAtomic replaces path with the bytes produced by write. The content
// goes to a temporary file in the same directory, which is synced, closed
// and renamed over path. Readers see either the old file or the complete
// new one. On any failure the temporary file is removed and path is left
// untouched. It returns the number of bytes written.
func WriteAtomic(fs afero.Fs, path string, write func(w io.Writer) error) (int64, error) {
	dir := filepath.Dir(path)

	err := fs.MkdirAll(dir, 0o755)
	if err != nil {
		return 0, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fs, dir, tempPattern)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()
	renamed := false

	defer func() {
		if !renamed {
			_ = fs.Remove(tmpPath)
		}
	}()

	cw := &countingWriter{w: tmp}

	err = write(cw)
	if err != nil {
		return 0, errors.Join(fmt.Errorf("write temp file: %w", err), tmp.Close())
	}

	err = tmp.Sync()
	if err != nil {
		return 0, errors.Join(fmt.Errorf("sync temp file: %w", err), tmp.Close())
	}

	err = tmp.Close()
	if err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	err = fs.Rename(tmpPath, path)
	if err != nil {
		return 0, fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	renamed = true

	syncDir(fs, dir)

	return cw.n, nil
}

// syncDir flushes the directory entry so the rename survives a crash.
// Some platforms cannot sync directories; that is not an error.
func syncDir(fs afero.Fs, dir string) {
	d, err := fs.Open(dir)
	if err != nil {
		return
	}

	_ = d.Sync()
	_ = d.Close()
}

package search

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// OpenOutput opens path for the extremal staircase listing. A fresh run
// (offset 0) starts an empty file. A resumed run cuts the file back to
// offset, the byte count recorded in the checkpoint, so lines emitted after
// that checkpoint are not repeated.
func OpenOutput(fs afero.Fs, path string, offset int64) (afero.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := fs.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	if offset == 0 {
		return f, nil
	}

	info, err := f.Stat()
	if err != nil {
		return nil, closeOnErr(f, fmt.Errorf("stat output: %w", err))
	}

	if info.Size() < offset {
		return nil, closeOnErr(f, fmt.Errorf("%w: output %s has %d bytes, checkpoint expects %d",
			ErrBadState, path, info.Size(), offset))
	}

	err = f.Truncate(offset)
	if err != nil {
		return nil, closeOnErr(f, fmt.Errorf("truncate output: %w", err))
	}

	_, err = f.Seek(offset, io.SeekStart)
	if err != nil {
		return nil, closeOnErr(f, fmt.Errorf("seek output: %w", err))
	}

	return f, nil
}

func closeOnErr(f afero.File, err error) error {
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("%w (close: %w)", err, cerr)
	}

	return err
}

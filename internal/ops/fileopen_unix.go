//go:build !windows

package ops

import (
	stderrors "errors"
	"fmt"
	"os"
	"syscall"

	"github.com/hpungsan/scoper/internal/errors"
)

// openNoFollow opens path with O_NOFOLLOW, so a symlink swapped in after
// ValidatePath ran is refused rather than followed.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		return nil, openError(path, flag, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

func openError(path string, flag int, err error) error {
	switch {
	case stderrors.Is(err, syscall.ELOOP):
		return errors.NewInvalidRequest(fmt.Sprintf("refusing to follow symlink: %s", path))
	case flag&os.O_CREATE == 0 && stderrors.Is(err, syscall.ENOENT):
		return errors.NewFileNotFound(path)
	}
	return &os.PathError{Op: "open", Path: path, Err: err}
}

package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

// BatchError reports where a fail-fast batch operation stopped. Entries
// before Index were fully processed and are listed in Completed; entries
// after it were never attempted. Index is -1 when the batch failed on its
// destination before touching any source.
type BatchError struct {
	Op        string
	Path      string
	Index     int
	Completed []string
	Err       error
}

func (e *BatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: destination %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s (entry %d, %d completed): %v", e.Op, e.Path, e.Index, len(e.Completed), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Classify attaches the matching taxonomy sentinel to a filesystem error
// while keeping the original error in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		models.ErrPathEscape,
		models.ErrNotFound,
		models.ErrNotADirectory,
		models.ErrIsDirectory,
		models.ErrAlreadyExists,
		models.ErrBadRequest,
		models.ErrIO,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", models.ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %w", models.ErrAlreadyExists, err)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%w: %w", models.ErrNotADirectory, err)
	case errors.Is(err, syscall.EISDIR):
		return fmt.Errorf("%w: %w", models.ErrIsDirectory, err)
	}
	return fmt.Errorf("%w: %w", models.ErrIO, err)
}

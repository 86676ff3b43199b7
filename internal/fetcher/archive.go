package fetcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
)

// Archive is a scene file acquired for a single pipeline run.
type Archive struct {
	Path   string
	Bytes  int64
	Reused bool

	owned    bool
	released bool
}

// Release deletes the archive if this run downloaded it. It is safe to call
// more than once; a file that is already gone is not an error.
func (a *Archive) Release() error {
	if a == nil || !a.owned || a.released {
		return nil
	}
	a.released = true
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Filesystem(fmt.Errorf("remove archive %q: %w", a.Path, err))
	}
	return nil
}

// Owned reports whether Release deletes the file.
func (a *Archive) Owned() bool { return a != nil && a.owned }

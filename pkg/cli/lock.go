package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

// LockFile is the per-project lock held while dev runs, relative to the
// project root.
const LockFile = ".hotrun/dev.lock"

// lockProject takes the project's dev lock. It fails with H500 when
// another process holds it.
func lockProject(root string) (*flock.Flock, error) {
	path := filepath.Join(root, filepath.FromSlash(LockFile))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, errors.New("H500").
			WithModule(path).
			WithSuggestion("Stop the other hotrun dev process or remove the lock if it is stale")
	}
	return lock, nil
}

// snapshot.go orchestrates snapshot persistence: writing the store to the
// configured CRD1 file and restoring it at startup. The store provides the
// format (see store.go); this file provides the filesystem discipline
// around it.

package main

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
)

// saveSnapshot writes the store to a temporary file next to the target,
// fsyncs it, then renames it into place. The rename is atomic on POSIX
// filesystems, so a crash mid-save leaves the previous snapshot intact
// rather than a half-written one.
func (app *application) saveSnapshot() error {
	path := app.config.snapshotPath
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if err := app.store.SaveSnapshotToWriter(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

// loadSnapshot restores the store from the configured snapshot file. A
// missing file is a clean first start, not an error. A corrupt file is
// fatal to the caller; serving from a silently truncated dataset would be
// worse than refusing to start.
func (app *application) loadSnapshot() error {
	path := app.config.snapshotPath
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			app.logger.Info("no snapshot found, starting empty", "path", path)
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	if err := app.store.LoadSnapshotFromReader(bufio.NewReader(f)); err != nil {
		return err
	}

	app.logger.Info("snapshot loaded", "path", path, "keys", app.store.Len())
	return nil
}

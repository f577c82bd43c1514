package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/taskgraph/internal/errors"
)

// Codec loads and saves one store document on a filesystem.
// It does no locking; callers serialize writers with filelock.
type Codec struct {
	fs   afero.Fs
	path string
	now  func() time.Time
}

// NewCodec returns a codec for the document at path. A nil fs selects the
// OS filesystem.
func NewCodec(fs afero.Fs, path string) *Codec {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Codec{fs: fs, path: path, now: time.Now}
}

// Path returns the document path.
func (c *Codec) Path() string {
	return c.path
}

// Fs returns the filesystem the codec writes to.
func (c *Codec) Fs() afero.Fs {
	return c.fs
}

// Load reads the document. A missing file yields a fresh empty document.
func (c *Codec) Load() (*Document, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(c.now()), nil
		}
		return nil, errors.NewStoreError("load", c.path, err)
	}

	doc, err := Unmarshal(data)
	if err != nil {
		return nil, errors.NewStoreError("load", c.path, err)
	}
	return doc, nil
}

// Save writes the document atomically: a temp file in the same directory is
// written, synced and renamed over the target, so readers see either the old
// or the new document and never a partial one.
func (c *Codec) Save(doc *Document) error {
	data, err := Marshal(doc)
	if err != nil {
		return errors.NewStoreError("save", c.path, err)
	}
	if err := atomicWriteFile(c.fs, c.path, data, 0644); err != nil {
		return errors.NewStoreError("save", c.path, err)
	}
	return nil
}

// Version identifies a particular on-disk revision of the document.
type Version struct {
	Exists  bool
	Size    int64
	ModTime time.Time
}

// Stat returns the current on-disk version of the document.
func (c *Codec) Stat() (Version, error) {
	info, err := c.fs.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Version{}, nil
		}
		return Version{}, errors.NewStoreError("stat", c.path, err)
	}
	return Version{Exists: true, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// atomicWriteFile writes data to a temp file next to path and renames it
// into place. The temp file is removed on any failure.
func atomicWriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmpFile, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

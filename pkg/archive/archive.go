// Package archive implements the directory archive collaborator: a
// directory with a metadata key/value file and a prefix allocator, used to
// lay multiple persisted objects (frames, columns) into one location.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"xframe/pkg/errs"
)

// metadataName is the archive's key/value metadata file.
const metadataName = "archive.meta"

// Dir is an open archive directory.
type Dir struct {
	mu       sync.Mutex
	path     string
	writable bool
	meta     map[string]string
	nextID   int
}

type metadataFile struct {
	Metadata   map[string]string `json:"metadata"`
	NextPrefix int               `json:"next_prefix"`
}

// OpenForWrite opens (creating if needed) an archive for writing.
func OpenForWrite(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "OpenForWrite", "archive")
	}
	d := &Dir{path: path, writable: true, meta: make(map[string]string)}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenForRead opens an existing archive read-only.
func OpenForRead(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "OpenForRead", "archive")
	}
	if !info.IsDir() {
		return nil, errs.New(errs.IoFailure, "archive path %s is not a directory", path)
	}
	d := &Dir{path: path, meta: make(map[string]string)}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

// load reads the metadata file when present.
func (d *Dir) load() error {
	data, err := os.ReadFile(filepath.Join(d.path, metadataName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(err, errs.IoFailure, "load", "archive")
	}
	var mf metadataFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return errs.Wrap(err, errs.ParseError, "load", "archive")
	}
	if mf.Metadata != nil {
		d.meta = mf.Metadata
	}
	d.nextID = mf.NextPrefix
	return nil
}

// flush persists the metadata file.
func (d *Dir) flush() error {
	mf := metadataFile{Metadata: d.meta, NextPrefix: d.nextID}
	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.IoFailure, "flush", "archive")
	}
	if err := os.WriteFile(filepath.Join(d.path, metadataName), data, 0o640); err != nil {
		return errs.Wrap(err, errs.IoFailure, "flush", "archive")
	}
	return nil
}

// Path returns the archive's directory.
func (d *Dir) Path() string {
	return d.path
}

// SetMetadata stores a key/value pair and persists it immediately.
func (d *Dir) SetMetadata(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.writable {
		return errs.New(errs.Unsupported, "archive %s is read-only", d.path)
	}
	d.meta[key] = value
	return d.flush()
}

// GetMetadata returns the value stored under key, if any.
func (d *Dir) GetMetadata(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.meta[key]
	return v, ok
}

// GetNextPrefix allocates a fresh object prefix inside the archive: a
// subdirectory path no previous allocation returned.
func (d *Dir) GetNextPrefix() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.writable {
		return "", errs.New(errs.Unsupported, "archive %s is read-only", d.path)
	}
	prefix := filepath.Join(d.path, fmt.Sprintf("m_%06d", d.nextID))
	d.nextID++
	if err := d.flush(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(prefix, 0o750); err != nil {
		return "", errs.Wrap(err, errs.IoFailure, "GetNextPrefix", "archive")
	}
	return prefix, nil
}

package xframe

import (
	"encoding/json"
	"os"
	"path/filepath"

	"xframe/pkg/errs"
	"xframe/pkg/sarray"
	"xframe/pkg/tempfile"
)

// frameIndexName is the file inside a frame directory that lists its columns.
const frameIndexName = "frame.fidx"

// contentsTag marks a directory as holding a frame.
const contentsTag = "xframe"

// frameIndex is the persisted frame metadata.
type frameIndex struct {
	Contents string   `json:"contents"`
	Version  int      `json:"version"`
	Names    []string `json:"names"`
	Columns  []string `json:"columns"` // column index files, relative to the dir
}

// Save persists a full physical copy of the frame into dir: every column's
// segment files are copied and fresh indexes written, so the result is
// self-contained.
func (f *Frame) Save(dir string) error {
	return f.save(dir, false)
}

// SaveReference persists only metadata into dir: new column indexes that
// reference the frame's existing segment files by path. Cheap, but the
// result is only valid while the referenced files live.
func (f *Frame) SaveReference(dir string) error {
	return f.save(dir, true)
}

func (f *Frame) save(dir string, byReference bool) error {
	if !f.frozen {
		return errs.New(errs.Unsupported, "cannot save a frame under construction")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errs.Wrap(err, errs.IoFailure, "Save", "xframe")
	}

	idx := frameIndex{
		Contents: contentsTag,
		Version:  1,
		Names:    f.ColumnNames(),
	}
	for _, col := range f.columns {
		var saved *sarray.Column
		var err error
		if byReference {
			saved, err = col.SaveReferenceTo(dir)
		} else {
			saved, err = col.CopyTo(dir)
		}
		if err != nil {
			return err
		}
		idx.Columns = append(idx.Columns, filepath.Base(saved.IndexPath()))
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.IoFailure, "Save", "xframe")
	}
	if err := os.WriteFile(filepath.Join(dir, frameIndexName), data, 0o640); err != nil {
		return errs.Wrap(err, errs.IoFailure, "Save", "xframe")
	}
	return nil
}

// Load opens a frame previously written by Save or SaveReference.
func Load(dir string) (*Frame, error) {
	data, err := os.ReadFile(filepath.Join(dir, frameIndexName))
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "Load", "xframe")
	}

	var idx frameIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errs.Wrap(err, errs.ParseError, "Load", "xframe")
	}
	if idx.Contents != contentsTag {
		return nil, errs.New(errs.ParseError,
			"directory %s holds %q, not a frame", dir, idx.Contents)
	}
	if len(idx.Columns) != len(idx.Names) {
		return nil, errs.New(errs.ParseError,
			"frame index lists %d names for %d columns", len(idx.Names), len(idx.Columns))
	}

	columns := make([]*sarray.Column, len(idx.Columns))
	for i, name := range idx.Columns {
		col, err := sarray.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return New(idx.Names, columns)
}

// BindTempDir records the temp-manager directory that backs this frame's
// files. MarkDeleteOnClose arranges cleanup when the last reference drops.
func (f *Frame) BindTempDir(dir string) {
	f.tempDir = dir
}

// MarkDeleteOnClose marks the frame's backing directory for removal once
// released.
func (f *Frame) MarkDeleteOnClose() {
	if f.tempDir != "" {
		tempfile.DefaultManager().MarkDeleteOnClose(f.tempDir)
	}
}

// Retain adds a reference to the frame's backing directory.
func (f *Frame) Retain() {
	if f.tempDir != "" {
		tempfile.DefaultManager().Retain(f.tempDir)
	}
}

// Release drops a reference to the frame's backing directory, unlinking it
// if it was the last one and the frame is marked delete-on-close.
func (f *Frame) Release() {
	if f.tempDir != "" {
		tempfile.DefaultManager().Release(f.tempDir)
	}
}

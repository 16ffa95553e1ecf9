package sarray

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/types"
)

// indexSuffix is the extension of a column index file.
const indexSuffix = ".sidx"

// indexVersion is bumped when the on-disk layout changes.
const indexVersion = 1

// SegmentMeta describes one segment of a column: its file (relative to the
// index file's directory), row count, and block layout.
type SegmentMeta struct {
	File   string      `json:"file"`
	Rows   int64       `json:"rows"`
	Blocks []BlockMeta `json:"blocks"`
}

// columnIndex is the JSON document persisted alongside the segment files.
type columnIndex struct {
	Version  int           `json:"version"`
	Type     string        `json:"type"`
	Segments []SegmentMeta `json:"segments"`
}

// Column is an immutable segmented on-disk sequence of typed Values.
// Columns are cheap shared handles: a Column may appear in many frames and
// plan nodes at once, and all of its read paths are safe for concurrent use.
type Column struct {
	dir      string // directory holding the index file
	id       string // index file name without suffix
	elemType types.Type
	segments []SegmentMeta
	length   int64

	cacheOnce sync.Once
	cache     *lru.Cache[blockKey, []types.Value]
}

type blockKey struct {
	segment int
	block   int
}

// Open loads a column from its index file.
func Open(indexPath string) (*Column, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "Open", "sarray")
	}

	var idx columnIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errs.Wrap(err, errs.ParseError, "Open", "sarray")
	}
	if idx.Version != indexVersion {
		return nil, errs.New(errs.IoFailure, "column index %s has version %d, want %d",
			indexPath, idx.Version, indexVersion)
	}
	elemType, ok := types.ParseType(idx.Type)
	if !ok {
		return nil, errs.New(errs.ParseError, "column index %s has unknown type %q",
			indexPath, idx.Type)
	}

	col := &Column{
		dir:      filepath.Dir(indexPath),
		id:       trimIndexSuffix(filepath.Base(indexPath)),
		elemType: elemType,
		segments: idx.Segments,
	}
	for _, s := range idx.Segments {
		col.length += s.Rows
	}
	return col, nil
}

func trimIndexSuffix(name string) string {
	if len(name) > len(indexSuffix) && name[len(name)-len(indexSuffix):] == indexSuffix {
		return name[:len(name)-len(indexSuffix)]
	}
	return name
}

// writeIndex persists the column metadata next to its segment files.
func (c *Column) writeIndex() error {
	idx := columnIndex{
		Version:  indexVersion,
		Type:     c.elemType.String(),
		Segments: c.segments,
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.IoFailure, "writeIndex", "sarray")
	}
	if err := os.WriteFile(c.IndexPath(), data, 0o640); err != nil {
		return errs.Wrap(err, errs.IoFailure, "writeIndex", "sarray")
	}
	return nil
}

// IndexPath returns the path of the column's index file.
func (c *Column) IndexPath() string {
	return filepath.Join(c.dir, c.id+indexSuffix)
}

// ID returns the column's file identity (index name without suffix).
func (c *Column) ID() string {
	return c.id
}

// Len returns the total number of rows in the column.
func (c *Column) Len() int64 {
	return c.length
}

// Type returns the declared element type.
func (c *Column) Type() types.Type {
	return c.elemType
}

// NumSegments returns the stored segment count.
func (c *Column) NumSegments() int {
	return len(c.segments)
}

// SegmentSizes returns the per-segment row counts as stored.
func (c *Column) SegmentSizes() []int64 {
	sizes := make([]int64, len(c.segments))
	for i, s := range c.segments {
		sizes[i] = s.Rows
	}
	return sizes
}

// segmentPath resolves a segment's file relative to the index directory.
func (c *Column) segmentPath(i int) string {
	if filepath.IsAbs(c.segments[i].File) {
		return c.segments[i].File
	}
	return filepath.Join(c.dir, c.segments[i].File)
}

// blockCache returns the lazily created decoded-block LRU for this column.
func (c *Column) blockCache() *lru.Cache[blockKey, []types.Value] {
	c.cacheOnce.Do(func() {
		capacity := config.Get().CacheBlocksPerColumn
		if capacity < 2 {
			capacity = 2
		}
		// Size is bounded and small; construction cannot fail.
		c.cache, _ = lru.New[blockKey, []types.Value](capacity)
	})
	return c.cache
}

// SegmentFiles returns the resolved paths of every segment file. Used by
// frame save to copy or reference the underlying storage.
func (c *Column) SegmentFiles() []string {
	paths := make([]string, len(c.segments))
	for i := range c.segments {
		paths[i] = c.segmentPath(i)
	}
	return paths
}

// Concat builds a new column handle whose segments are a's followed by b's,
// referencing the existing segment files without copying them. Both columns
// must share an element type. The new index lives in dir.
func Concat(dir string, a, b *Column) (*Column, error) {
	if a.elemType != b.elemType {
		return nil, errs.New(errs.SchemaMismatch,
			"cannot concatenate column of type %s with %s", a.elemType, b.elemType)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "Concat", "sarray")
	}

	col := &Column{
		dir:      dir,
		id:       newColumnID(),
		elemType: a.elemType,
		length:   a.length + b.length,
	}

	for _, src := range []*Column{a, b} {
		for i := range src.segments {
			rel, err := filepath.Rel(dir, src.segmentPath(i))
			if err != nil {
				// Cross-volume reference; keep the absolute path.
				rel = src.segmentPath(i)
			}
			col.segments = append(col.segments, SegmentMeta{
				File:   rel,
				Rows:   src.segments[i].Rows,
				Blocks: src.segments[i].Blocks,
			})
		}
	}

	if err := col.writeIndex(); err != nil {
		return nil, err
	}
	return col, nil
}

// ReadAll loads the entire column into memory. Intended for tests and small
// columns only.
func (c *Column) ReadAll() ([]types.Value, error) {
	r, err := c.Reader(nil)
	if err != nil {
		return nil, err
	}
	out := make([]types.Value, 0, c.length)
	_, err = r.ReadRows(0, c.length, &out)
	return out, err
}

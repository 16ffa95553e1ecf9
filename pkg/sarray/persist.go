package sarray

import (
	"io"
	"os"
	"path/filepath"

	"xframe/pkg/errs"
)

// Prefix returns an in-memory view of the first n rows of the column. The
// view shares the underlying segment files: segments past n are dropped and
// the boundary segment keeps its block list with a reduced row count, which
// readers never look past. No index is written; persist through CopyTo or
// SaveReferenceTo if the view must outlive the process.
func (c *Column) Prefix(n int64) (*Column, error) {
	if n < 0 || n > c.length {
		return nil, errs.New(errs.OutOfRange,
			"prefix length %d out of range [0, %d]", n, c.length)
	}

	out := &Column{
		dir:      c.dir,
		id:       c.id,
		elemType: c.elemType,
		length:   n,
	}

	remaining := n
	for i := 0; i < len(c.segments) && remaining > 0; i++ {
		seg := c.segments[i]
		if !filepath.IsAbs(seg.File) {
			seg.File = c.segmentPath(i)
		}
		if seg.Rows > remaining {
			seg.Rows = remaining
		}
		out.segments = append(out.segments, seg)
		remaining -= seg.Rows
	}
	// A zero-length view still needs one (empty) segment for writers and
	// iterators to have a shape to follow.
	if len(out.segments) == 0 {
		out.segments = []SegmentMeta{{File: c.segmentPath(0), Rows: 0}}
		if len(c.segments) == 0 {
			out.segments = []SegmentMeta{{Rows: 0}}
		}
	}
	return out, nil
}

// CopyTo materializes a full physical copy of the column inside dir: every
// referenced segment file is copied and a fresh index is written.
func (c *Column) CopyTo(dir string) (*Column, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "CopyTo", "sarray")
	}

	out := &Column{
		dir:      dir,
		id:       newColumnID(),
		elemType: c.elemType,
		length:   c.length,
	}

	for i, seg := range c.segments {
		name := out.id + "." + padOrdinal(i)
		if err := copyFile(c.segmentPath(i), filepath.Join(dir, name)); err != nil {
			out.unlinkOwnSegments()
			return nil, errs.Wrap(err, errs.IoFailure, "CopyTo", "sarray")
		}
		out.segments = append(out.segments, SegmentMeta{
			File:   name,
			Rows:   seg.Rows,
			Blocks: seg.Blocks,
		})
	}

	if err := out.writeIndex(); err != nil {
		out.unlinkOwnSegments()
		return nil, err
	}
	return out, nil
}

// SaveReferenceTo writes only a new index inside dir; segment files stay
// where they are and are referenced by relative path.
func (c *Column) SaveReferenceTo(dir string) (*Column, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "SaveReferenceTo", "sarray")
	}

	out := &Column{
		dir:      dir,
		id:       newColumnID(),
		elemType: c.elemType,
		length:   c.length,
	}

	for i, seg := range c.segments {
		ref := c.segmentPath(i)
		if rel, err := filepath.Rel(dir, ref); err == nil {
			ref = rel
		}
		out.segments = append(out.segments, SegmentMeta{
			File:   ref,
			Rows:   seg.Rows,
			Blocks: seg.Blocks,
		})
	}

	if err := out.writeIndex(); err != nil {
		return nil, err
	}
	return out, nil
}

func padOrdinal(i int) string {
	const digits = "0123456789"
	out := []byte{'0', '0', '0', '0'}
	for p := 3; p >= 0 && i > 0; p-- {
		out[p] = digits[i%10]
		i /= 10
	}
	return string(out)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package sarray

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/logging"
)

// FastCompact scans the column for runs of small segments (fewer blocks than
// the configured threshold) and rewrites each run of two or more into one
// segment by concatenating the block bytes, never decoding them. It returns
// a new column handle and whether any run was merged; when nothing merged,
// the original column is returned unchanged.
//
// Content and row order are preserved exactly and the segment count never
// increases.
func FastCompact(col *Column) (*Column, bool, error) {
	threshold := config.Get().FastCompactBlocksInSmallSegment

	type run struct{ begin, end int }
	var runs []run
	begin := -1
	for i := 0; i <= len(col.segments); i++ {
		small := i < len(col.segments) && len(col.segments[i].Blocks) < threshold
		if small && begin < 0 {
			begin = i
		}
		if !small && begin >= 0 {
			if i-begin >= 2 {
				runs = append(runs, run{begin: begin, end: i})
			}
			begin = -1
		}
	}
	if len(runs) == 0 {
		return col, false, nil
	}

	out := &Column{
		dir:      col.dir,
		id:       newColumnID(),
		elemType: col.elemType,
		length:   col.length,
	}

	nextRun := 0
	for i := 0; i < len(col.segments); {
		if nextRun < len(runs) && runs[nextRun].begin == i {
			r := runs[nextRun]
			nextRun++
			merged, err := concatSegments(col, r.begin, r.end, out.id, len(out.segments))
			if err != nil {
				out.unlinkOwnSegments()
				return nil, false, err
			}
			out.segments = append(out.segments, merged)
			i = r.end
			continue
		}
		// Keep the segment by reference.
		rel, err := filepath.Rel(out.dir, col.segmentPath(i))
		if err != nil {
			rel = col.segmentPath(i)
		}
		out.segments = append(out.segments, SegmentMeta{
			File:   rel,
			Rows:   col.segments[i].Rows,
			Blocks: col.segments[i].Blocks,
		})
		i++
	}

	if err := out.writeIndex(); err != nil {
		out.unlinkOwnSegments()
		return nil, false, err
	}

	logging.WithColumn(col.id).Debug("fast compaction merged segments",
		"before", len(col.segments), "after", len(out.segments))
	return out, true, nil
}

// concatSegments copies the raw bytes of segments [begin, end) into one new
// segment file. Blocks are self-framed so the result is a valid segment.
func concatSegments(col *Column, begin, end int, newID string, ordinal int) (SegmentMeta, error) {
	name := fmt.Sprintf("%s.%04d", newID, ordinal)
	dst, err := os.OpenFile(filepath.Join(col.dir, name),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return SegmentMeta{}, errs.Wrap(err, errs.IoFailure, "FastCompact", "sarray")
	}
	defer dst.Close()

	meta := SegmentMeta{File: name}
	for i := begin; i < end; i++ {
		src, err := os.Open(col.segmentPath(i))
		if err != nil {
			return SegmentMeta{}, errs.Wrap(err, errs.IoFailure, "FastCompact", "sarray")
		}
		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			return SegmentMeta{}, errs.Wrap(err, errs.IoFailure, "FastCompact", "sarray")
		}
		src.Close()
		meta.Rows += col.segments[i].Rows
		meta.Blocks = append(meta.Blocks, col.segments[i].Blocks...)
	}
	return meta, nil
}

// unlinkOwnSegments removes segment files created under this column's own id.
// Referenced files belonging to other columns are left alone.
func (c *Column) unlinkOwnSegments() {
	for i := range c.segments {
		base := filepath.Base(c.segments[i].File)
		if len(base) >= len(c.id) && base[:len(c.id)] == c.id {
			_ = os.Remove(c.segmentPath(i))
		}
	}
}

// Rewrite re-encodes the whole column into n fresh segments of near-equal
// row counts. This is the slow compaction fallback.
func Rewrite(col *Column, n int) (*Column, error) {
	if n < 1 {
		return nil, errs.New(errs.OutOfRange, "segment count must be at least 1, got %d", n)
	}

	w, err := OpenForWrite(col.dir, col.elemType, n)
	if err != nil {
		return nil, err
	}

	reader, err := col.Reader(splitEvenly(col.length, n))
	if err != nil {
		w.Abort()
		return nil, err
	}
	defer reader.Close()

	for seg := 0; seg < n; seg++ {
		sink, err := w.OutputIterator(seg)
		if err != nil {
			w.Abort()
			return nil, err
		}
		it, err := reader.SegmentIter(seg)
		if err != nil {
			w.Abort()
			return nil, err
		}
		for {
			v, ok, err := it.Next()
			if err != nil {
				w.Abort()
				return nil, err
			}
			if !ok {
				break
			}
			if err := sink.Append(v); err != nil {
				w.Abort()
				return nil, err
			}
		}
	}
	return w.Close()
}

// splitEvenly divides length rows into n near-equal chunks (earlier chunks
// take the remainder).
func splitEvenly(length int64, n int) []int64 {
	sizes := make([]int64, n)
	base := length / int64(n)
	rem := length % int64(n)
	for i := range sizes {
		sizes[i] = base
		if int64(i) < rem {
			sizes[i]++
		}
	}
	return sizes
}

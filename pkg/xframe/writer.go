package xframe

import (
	"fmt"
	"os"

	"xframe/pkg/errs"
	"xframe/pkg/sarray"
	"xframe/pkg/types"
)

// FrameWriter builds a frame with a fixed segment fan-out. Every column is
// written through the same per-segment sinks, which is what guarantees the
// shared-segmentation invariant: a row lands in the same segment of every
// column.
type FrameWriter struct {
	names   []string
	writers []*sarray.Writer
	n       int
	closed  bool
}

// FrameSink appends whole rows to one segment of a frame under
// construction. Like column sinks, a frame sink belongs to one goroutine.
type FrameSink struct {
	sinks []*sarray.RowSink
}

// OpenForWrite creates a frame writer with n segments, one column per
// name/type pair. Empty names are auto-generated.
func OpenForWrite(dir string, names []string, colTypes []types.Type, n int) (*FrameWriter, error) {
	if len(colTypes) == 0 {
		return nil, errs.New(errs.OutOfRange, "frame needs at least one column")
	}
	if len(names) != len(colTypes) {
		return nil, errs.New(errs.SchemaMismatch,
			"%d names for %d column types", len(names), len(colTypes))
	}

	fw := &FrameWriter{n: n}
	for i, t := range colTypes {
		name := names[i]
		if name == "" {
			name = disambiguate(fw.names, fmt.Sprintf("X%d", i+1))
		}
		if containsName(fw.names, name) {
			fw.Abort()
			return nil, errs.New(errs.DuplicateColumn, "column %q already exists", name)
		}
		w, err := sarray.OpenForWrite(dir, t, n)
		if err != nil {
			fw.Abort()
			return nil, err
		}
		fw.names = append(fw.names, name)
		fw.writers = append(fw.writers, w)
	}
	return fw, nil
}

// NumSegments returns the writer's fan-out.
func (fw *FrameWriter) NumSegments() int {
	return fw.n
}

// ColumnNames returns the writer's column names in order.
func (fw *FrameWriter) ColumnNames() []string {
	return append([]string(nil), fw.names...)
}

// OutputIterator returns the row sink for one segment.
func (fw *FrameWriter) OutputIterator(segment int) (*FrameSink, error) {
	sinks := make([]*sarray.RowSink, len(fw.writers))
	for i, w := range fw.writers {
		s, err := w.OutputIterator(segment)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return &FrameSink{sinks: sinks}, nil
}

// AppendRow writes one row across all columns of the sink's segment.
func (s *FrameSink) AppendRow(row Row) error {
	if len(row) != len(s.sinks) {
		return errs.New(errs.SchemaMismatch,
			"row has %d values for %d columns", len(row), len(s.sinks))
	}
	for i, v := range row {
		if err := s.sinks[i].Append(v); err != nil {
			return err
		}
	}
	return nil
}

// Close seals every column and returns the frozen frame. On error the
// partially written files are unlinked.
func (fw *FrameWriter) Close() (*Frame, error) {
	if fw.closed {
		return nil, errs.New(errs.InvariantViolation, "frame writer closed twice")
	}
	fw.closed = true

	columns := make([]*sarray.Column, len(fw.writers))
	for i, w := range fw.writers {
		col, err := w.Close()
		if err != nil {
			for _, other := range fw.writers[i+1:] {
				other.Abort()
			}
			for _, sealed := range columns[:i] {
				for _, path := range sealed.SegmentFiles() {
					_ = os.Remove(path)
				}
				_ = os.Remove(sealed.IndexPath())
			}
			return nil, err
		}
		columns[i] = col
	}
	return New(fw.names, columns)
}

// Abort discards everything written so far.
func (fw *FrameWriter) Abort() {
	if fw.closed {
		return
	}
	fw.closed = true
	for _, w := range fw.writers {
		if w != nil {
			w.Abort()
		}
	}
}

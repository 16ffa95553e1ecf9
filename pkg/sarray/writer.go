package sarray

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"xframe/pkg/errs"
	"xframe/pkg/types"
)

// newColumnID allocates a unique file identity for a new column.
func newColumnID() string {
	return "col-" + uuid.NewString()
}

// Writer builds a new column with a fixed number of segments. The writer is
// uniquely owned until Close, which seals the segments, writes the index,
// and returns the immutable Column. Each segment has its own sink and file,
// so distinct segments may be appended to from distinct goroutines.
type Writer struct {
	col    *Column
	sinks  []*RowSink
	mu     sync.Mutex
	closed bool
}

// RowSink appends values to one segment of a column under construction.
// A sink is single-goroutine; concurrency comes from using different sinks
// for different segments.
type RowSink struct {
	writer  *Writer
	segment int
	file    *os.File
	buf     []types.Value
	meta    *SegmentMeta
}

// OpenForWrite creates an empty column with n segments inside dir.
func OpenForWrite(dir string, elemType types.Type, n int) (*Writer, error) {
	if n < 1 {
		return nil, errs.New(errs.OutOfRange, "segment count must be at least 1, got %d", n)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "OpenForWrite", "sarray")
	}

	col := &Column{
		dir:      dir,
		id:       newColumnID(),
		elemType: elemType,
		segments: make([]SegmentMeta, n),
	}

	w := &Writer{col: col, sinks: make([]*RowSink, n)}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s.%04d", col.id, i)
		file, err := os.OpenFile(filepath.Join(dir, name),
			os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			w.abort()
			return nil, errs.Wrap(err, errs.IoFailure, "OpenForWrite", "sarray")
		}
		col.segments[i] = SegmentMeta{File: name}
		w.sinks[i] = &RowSink{
			writer:  w,
			segment: i,
			file:    file,
			buf:     make([]types.Value, 0, blockTargetRows),
			meta:    &col.segments[i],
		}
	}
	return w, nil
}

// NumSegments returns the writer's fixed fan-out.
func (w *Writer) NumSegments() int {
	return len(w.sinks)
}

// Type returns the element type of the column under construction.
func (w *Writer) Type() types.Type {
	return w.col.elemType
}

// OutputIterator returns the sink for the given segment.
func (w *Writer) OutputIterator(segment int) (*RowSink, error) {
	if segment < 0 || segment >= len(w.sinks) {
		return nil, errs.New(errs.OutOfRange,
			"segment %d out of range [0, %d)", segment, len(w.sinks))
	}
	return w.sinks[segment], nil
}

// Append adds one value to the sink's segment.
func (s *RowSink) Append(v types.Value) error {
	s.buf = append(s.buf, v)
	if len(s.buf) >= blockTargetRows {
		return s.flush()
	}
	return nil
}

// AppendBatch adds a batch of values to the sink's segment.
func (s *RowSink) AppendBatch(vals []types.Value) error {
	for _, v := range vals {
		if err := s.Append(v); err != nil {
			return err
		}
	}
	return nil
}

// flush encodes the buffered values as one block and writes it out.
func (s *RowSink) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	encoded, err := encodeBlock(s.buf)
	if err != nil {
		return errs.Wrap(err, errs.IoFailure, "Append", "sarray")
	}
	if _, err := s.file.Write(encoded); err != nil {
		return errs.Wrap(err, errs.IoFailure, "Append", "sarray")
	}
	s.meta.Blocks = append(s.meta.Blocks, BlockMeta{
		Rows:  int64(len(s.buf)),
		Bytes: int64(len(encoded)),
	})
	s.meta.Rows += int64(len(s.buf))
	s.buf = s.buf[:0]
	return nil
}

// Close seals every segment, persists the index, and returns the finished
// immutable column. The writer cannot be used afterwards.
func (w *Writer) Close() (*Column, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errs.New(errs.InvariantViolation, "column writer closed twice")
	}
	w.closed = true

	for _, sink := range w.sinks {
		if err := sink.flush(); err != nil {
			w.unlinkFiles()
			return nil, err
		}
		if err := sink.file.Close(); err != nil {
			w.unlinkFiles()
			return nil, errs.Wrap(err, errs.IoFailure, "Close", "sarray")
		}
		sink.file = nil
	}

	for _, seg := range w.col.segments {
		w.col.length += seg.Rows
	}

	if err := w.col.writeIndex(); err != nil {
		w.unlinkFiles()
		return nil, err
	}
	return w.col, nil
}

// Abort discards the half-written column, unlinking its files. Safe to call
// after a failed append; a no-op after Close.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.abort()
}

func (w *Writer) abort() {
	for _, sink := range w.sinks {
		if sink != nil && sink.file != nil {
			_ = sink.file.Close()
			sink.file = nil
		}
	}
	w.unlinkFiles()
}

// unlinkFiles removes the partially written segment files.
func (w *Writer) unlinkFiles() {
	for i := range w.col.segments {
		if w.col.segments[i].File != "" {
			_ = os.Remove(w.col.segmentPath(i))
		}
	}
}

// WriteAll is a convenience that writes values into a fresh single-segment
// column. Tests and small internal paths use it.
func WriteAll(dir string, elemType types.Type, values []types.Value) (*Column, error) {
	w, err := OpenForWrite(dir, elemType, 1)
	if err != nil {
		return nil, err
	}
	sink, err := w.OutputIterator(0)
	if err != nil {
		return nil, err
	}
	if err := sink.AppendBatch(values); err != nil {
		w.Abort()
		return nil, err
	}
	return w.Close()
}

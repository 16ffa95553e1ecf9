package xframe

import (
	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/sarray"
	"xframe/pkg/types"
)

// RowIterator walks one frame segment sequentially, advancing every column
// in lockstep.
type RowIterator struct {
	iters []*sarray.SegmentIterator
}

// RowIter returns a sequential row iterator over one segment.
func (f *Frame) RowIter(segment int) (*RowIterator, error) {
	if len(f.columns) == 0 {
		return nil, errs.New(errs.OutOfRange, "frame has no columns")
	}
	iters := make([]*sarray.SegmentIterator, len(f.columns))
	for i, col := range f.columns {
		r, err := col.Reader(nil)
		if err != nil {
			return nil, err
		}
		it, err := r.SegmentIter(segment)
		if err != nil {
			return nil, err
		}
		iters[i] = it
	}
	return &RowIterator{iters: iters}, nil
}

// Next returns the next row. The second return is false when the segment is
// exhausted; by the shared-segmentation invariant, all columns exhaust at
// the same row.
func (it *RowIterator) Next() (Row, bool, error) {
	row := make(Row, len(it.iters))
	for i, ci := range it.iters {
		v, ok, err := ci.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if i != 0 {
				return nil, false, errs.New(errs.InvariantViolation,
					"column %d exhausted before column 0", i)
			}
			return nil, false, nil
		}
		row[i] = v
	}
	return row, true, nil
}

// ReadRows reads rows [start, end) of the frame, clamping end at the row
// count, and appends them to out. Returns the number of rows read.
func (f *Frame) ReadRows(start, end int64, out *[]Row) (int, error) {
	if len(f.columns) == 0 {
		return 0, nil
	}
	if end > f.NumRows() {
		end = f.NumRows()
	}
	if start >= end {
		return 0, nil
	}

	columns := make([][]types.Value, len(f.columns))
	for i, col := range f.columns {
		r, err := col.Reader(nil)
		if err != nil {
			return 0, err
		}
		columns[i] = make([]types.Value, 0, end-start)
		if _, err := r.ReadRows(start, end, &columns[i]); err != nil {
			r.Close()
			return 0, err
		}
		r.Close()
	}

	n := int(end - start)
	for r := 0; r < n; r++ {
		row := make(Row, len(columns))
		for c := range columns {
			row[c] = columns[c][r]
		}
		*out = append(*out, row)
	}
	return n, nil
}

// ParallelIterator splits one or more frames of equal row count into T
// disjoint row slices, one per worker. The columns of all frames are exposed
// under a single flat index via prefix-sum offsets.
type ParallelIterator struct {
	frames        []*Frame
	columnOffsets []int
	totalColumns  int
	numRows       int64
	numWorkers    int
}

// NewParallelIterator builds a parallel iterator over frames with T workers.
func NewParallelIterator(frames []*Frame, t int) (*ParallelIterator, error) {
	if len(frames) == 0 {
		return nil, errs.New(errs.OutOfRange, "need at least one frame")
	}
	if t < 1 {
		return nil, errs.New(errs.OutOfRange, "need at least one worker, got %d", t)
	}
	rows := frames[0].NumRows()
	for _, f := range frames[1:] {
		if f.NumRows() != rows {
			return nil, errs.New(errs.SchemaMismatch,
				"frame row counts differ: %d vs %d", rows, f.NumRows())
		}
	}

	p := &ParallelIterator{
		frames:     frames,
		numRows:    rows,
		numWorkers: t,
	}
	p.columnOffsets = make([]int, len(frames)+1)
	for i, f := range frames {
		p.columnOffsets[i+1] = p.columnOffsets[i] + f.NumColumns()
	}
	p.totalColumns = p.columnOffsets[len(frames)]
	return p, nil
}

// NumWorkers returns the worker count.
func (p *ParallelIterator) NumWorkers() int {
	return p.numWorkers
}

// NumColumns returns the flattened column count across all frames.
func (p *ParallelIterator) NumColumns() int {
	return p.totalColumns
}

// Slice returns worker w's iterator over its row range.
func (p *ParallelIterator) Slice(w int) (*SliceIterator, error) {
	if w < 0 || w >= p.numWorkers {
		return nil, errs.New(errs.OutOfRange,
			"worker %d out of range [0, %d)", w, p.numWorkers)
	}

	per := p.numRows / int64(p.numWorkers)
	rem := p.numRows % int64(p.numWorkers)
	start := per*int64(w) + min64(int64(w), rem)
	count := per
	if int64(w) < rem {
		count++
	}

	s := &SliceIterator{
		parent:   p,
		rowStart: start,
		rowEnd:   start + count,
		cursor:   start - 1,
		readers:  make([]*sarray.Reader, p.totalColumns),
		buffers:  make([][]types.Value, p.totalColumns),
		batch:    config.Get().ReadBatchSize,
	}
	if s.batch < 1 {
		s.batch = 1
	}

	flat := 0
	for _, f := range p.frames {
		for _, col := range f.columns {
			r, err := col.Reader(nil)
			if err != nil {
				s.Close()
				return nil, err
			}
			s.readers[flat] = r
			flat++
		}
	}
	return s, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// SliceIterator is one worker's view of a ParallelIterator: a disjoint row
// range with per-column row buffers refilled in read batches.
type SliceIterator struct {
	parent   *ParallelIterator
	rowStart int64
	rowEnd   int64
	cursor   int64 // current row, valid after a true Next
	readers  []*sarray.Reader
	buffers  [][]types.Value
	bufBase  int64 // first row held in the buffers
	batch    int
}

// Next advances to the next row of the slice. It returns false once the
// slice is exhausted.
func (s *SliceIterator) Next() (bool, error) {
	next := s.cursor + 1
	if next >= s.rowEnd {
		return false, nil
	}
	if len(s.buffers[0]) == 0 || next >= s.bufBase+int64(len(s.buffers[0])) {
		if err := s.refill(next); err != nil {
			return false, err
		}
	}
	s.cursor = next
	return true, nil
}

// refill loads the next batch of rows starting at row into every column
// buffer.
func (s *SliceIterator) refill(row int64) error {
	stop := row + int64(s.batch)
	if stop > s.rowEnd {
		stop = s.rowEnd
	}
	for i, r := range s.readers {
		s.buffers[i] = s.buffers[i][:0]
		if _, err := r.ReadRows(row, stop, &s.buffers[i]); err != nil {
			return err
		}
	}
	s.bufBase = row
	return nil
}

// Value returns the current row's value at the flat column index.
func (s *SliceIterator) Value(flat int) types.Value {
	return s.buffers[flat][s.cursor-s.bufBase]
}

// Row copies the current row across all flat columns.
func (s *SliceIterator) Row() Row {
	row := make(Row, len(s.buffers))
	for i := range s.buffers {
		row[i] = s.Value(i)
	}
	return row
}

// RowRange returns the slice's [start, end) row range.
func (s *SliceIterator) RowRange() (int64, int64) {
	return s.rowStart, s.rowEnd
}

// Close releases the slice's readers.
func (s *SliceIterator) Close() {
	for _, r := range s.readers {
		if r != nil {
			r.Close()
		}
	}
}

package xframe

import (
	"math"
	"math/rand"

	"xframe/pkg/errs"
	"xframe/pkg/sarray"
	"xframe/pkg/tempfile"
	"xframe/pkg/types"
)

// newTempWriter opens a frame writer backed by a fresh temp directory and
// returns both. The caller binds the directory to the resulting frame.
func newTempWriter(prefix string, names []string, colTypes []types.Type, n int) (*FrameWriter, string, error) {
	dir, err := tempfile.DefaultManager().NewTempDir(prefix)
	if err != nil {
		return nil, "", errs.Wrap(err, errs.IoFailure, "newTempWriter", "xframe")
	}
	fw, err := OpenForWrite(dir, names, colTypes, n)
	if err != nil {
		return nil, "", err
	}
	return fw, dir, nil
}

// transformSegments streams every segment of f through fn into a new frame
// with the given schema and the same segment count. fn receives the input
// row and an emit function for output rows.
func (f *Frame) transformSegments(prefix string, names []string, colTypes []types.Type,
	fn func(row Row, emit func(Row) error) error) (*Frame, error) {

	n := f.NumSegments()
	if n == 0 {
		n = 1
	}
	fw, dir, err := newTempWriter(prefix, names, colTypes, n)
	if err != nil {
		return nil, err
	}

	for seg := 0; seg < f.NumSegments(); seg++ {
		sink, err := fw.OutputIterator(seg)
		if err != nil {
			fw.Abort()
			return nil, err
		}
		it, err := f.RowIter(seg)
		if err != nil {
			fw.Abort()
			return nil, err
		}
		for {
			row, ok, err := it.Next()
			if err != nil {
				fw.Abort()
				return nil, err
			}
			if !ok {
				break
			}
			if err := fn(row, sink.AppendRow); err != nil {
				fw.Abort()
				return nil, err
			}
		}
	}

	out, err := fw.Close()
	if err != nil {
		return nil, err
	}
	out.BindTempDir(dir)
	return out, nil
}

// CopyRange returns rows start, start+step, ... below end. The full-prefix
// case (start 0, step 1) is lazy: the result shares the frame's segment
// files. Any other range is materialized row by row.
func (f *Frame) CopyRange(start, step, end int64) (*Frame, error) {
	if step < 1 {
		return nil, errs.New(errs.OutOfRange, "step must be positive, got %d", step)
	}
	if start < 0 || start > end || end > f.NumRows() {
		return nil, errs.New(errs.OutOfRange,
			"range [%d, %d) outside frame of %d rows", start, end, f.NumRows())
	}

	if start == 0 && step == 1 {
		columns := make([]*sarray.Column, len(f.columns))
		for i, col := range f.columns {
			p, err := col.Prefix(end)
			if err != nil {
				return nil, err
			}
			columns[i] = p
		}
		out, err := New(f.ColumnNames(), columns)
		if err != nil {
			return nil, err
		}
		out.tempDir = f.tempDir
		return out, nil
	}

	var rowIndex int64
	return f.transformSegments("range", f.ColumnNames(), f.ColumnTypes(),
		func(row Row, emit func(Row) error) error {
			keep := rowIndex >= start && rowIndex < end && (rowIndex-start)%step == 0
			rowIndex++
			if !keep {
				return nil
			}
			return emit(row)
		})
}

// Head returns the first n rows without copying column data.
func (f *Frame) Head(n int64) (*Frame, error) {
	if n > f.NumRows() {
		n = f.NumRows()
	}
	return f.CopyRange(0, 1, n)
}

// Tail returns the last n rows.
func (f *Frame) Tail(n int64) (*Frame, error) {
	if n > f.NumRows() {
		n = f.NumRows()
	}
	return f.CopyRange(f.NumRows()-n, 1, f.NumRows())
}

// Append vertically concatenates other below f. Schemas must match by name
// and type in order. Column data is shared by reference, not copied.
func (f *Frame) Append(other *Frame) (*Frame, error) {
	if f.NumColumns() != other.NumColumns() {
		return nil, errs.New(errs.SchemaMismatch,
			"cannot append frame with %d columns to one with %d",
			other.NumColumns(), f.NumColumns())
	}
	for i := range f.columns {
		if f.names[i] != other.names[i] {
			return nil, errs.New(errs.SchemaMismatch,
				"column %d name mismatch: %q vs %q", i, f.names[i], other.names[i])
		}
		if f.columns[i].Type() != other.columns[i].Type() {
			return nil, errs.New(errs.SchemaMismatch,
				"column %q type mismatch: %s vs %s",
				f.names[i], f.columns[i].Type(), other.columns[i].Type())
		}
	}

	dir, err := tempfile.DefaultManager().NewTempDir("append")
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "Append", "xframe")
	}

	columns := make([]*sarray.Column, len(f.columns))
	for i := range f.columns {
		col, err := sarray.Concat(dir, f.columns[i], other.columns[i])
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}

	out, err := New(f.ColumnNames(), columns)
	if err != nil {
		return nil, err
	}
	out.BindTempDir(dir)
	return out, nil
}

// Sample returns a row subset. With exact false every row is kept
// independently with probability p; with exact true, exactly
// round(p * NumRows) rows are kept via sequential selection sampling.
// Both modes are deterministic for a fixed seed.
func (f *Frame) Sample(p float64, seed int64, exact bool) (*Frame, error) {
	if p < 0 || p > 1 {
		return nil, errs.New(errs.OutOfRange, "sample probability %g outside [0, 1]", p)
	}

	rng := rand.New(rand.NewSource(seed))
	keep := sampler(rng, p, f.NumRows(), exact)
	return f.transformSegments("sample", f.ColumnNames(), f.ColumnTypes(),
		func(row Row, emit func(Row) error) error {
			if keep() {
				return emit(row)
			}
			return nil
		})
}

// RandomSplit partitions the frame into two frames; a row lands in the
// first with probability p. The exact flag works as in Sample.
func (f *Frame) RandomSplit(p float64, seed int64, exact bool) (*Frame, *Frame, error) {
	if p < 0 || p > 1 {
		return nil, nil, errs.New(errs.OutOfRange, "split probability %g outside [0, 1]", p)
	}

	rng := rand.New(rand.NewSource(seed))
	keep := sampler(rng, p, f.NumRows(), exact)
	picks := make([]bool, 0, f.NumRows())

	first, err := f.transformSegments("split", f.ColumnNames(), f.ColumnTypes(),
		func(row Row, emit func(Row) error) error {
			k := keep()
			picks = append(picks, k)
			if k {
				return emit(row)
			}
			return nil
		})
	if err != nil {
		return nil, nil, err
	}

	var rowIndex int64
	second, err := f.transformSegments("split", f.ColumnNames(), f.ColumnTypes(),
		func(row Row, emit func(Row) error) error {
			k := picks[rowIndex]
			rowIndex++
			if !k {
				return emit(row)
			}
			return nil
		})
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

// sampler returns a closure deciding row membership. Exact mode implements
// selection sampling (Knuth's Algorithm S): pick remaining/required with the
// right conditional probability so exactly k of n rows are chosen.
func sampler(rng *rand.Rand, p float64, n int64, exact bool) func() bool {
	if !exact {
		return func() bool { return rng.Float64() < p }
	}
	need := int64(math.Round(p * float64(n)))
	remaining := n
	return func() bool {
		if remaining <= 0 || need <= 0 {
			remaining--
			return false
		}
		take := rng.Float64()*float64(remaining) < float64(need)
		remaining--
		if take {
			need--
		}
		return take
	}
}

// isMissing applies the drop-missing test: NA, or with recursive set, any
// container holding a missing element.
func isMissing(v types.Value, recursive bool) bool {
	if v.IsNA() {
		return true
	}
	if !recursive {
		return false
	}
	switch v.Tag() {
	case types.ListType:
		for _, e := range v.List() {
			if isMissing(e, true) {
				return true
			}
		}
	case types.DictType:
		for _, e := range v.Dict() {
			if isMissing(e.Key, true) || isMissing(e.Val, true) {
				return true
			}
		}
	}
	return false
}

// DropMissing removes rows with missing values in the given columns (all
// columns when cols is empty). With all set, a row is dropped only when
// every tested column is missing; otherwise any missing value drops it.
// With split set, the dropped rows are returned as the second frame.
func (f *Frame) DropMissing(cols []string, all, split, recursive bool) (*Frame, *Frame, error) {
	indices := make([]int, 0, len(cols))
	if len(cols) == 0 {
		for i := range f.columns {
			indices = append(indices, i)
		}
	} else {
		for _, name := range cols {
			i, err := f.ColumnIndex(name)
			if err != nil {
				return nil, nil, err
			}
			indices = append(indices, i)
		}
	}

	missing := func(row Row) bool {
		count := 0
		for _, i := range indices {
			if isMissing(row[i], recursive) {
				count++
			}
		}
		if all {
			return count == len(indices) && len(indices) > 0
		}
		return count > 0
	}

	kept, err := f.transformSegments("dropna", f.ColumnNames(), f.ColumnTypes(),
		func(row Row, emit func(Row) error) error {
			if !missing(row) {
				return emit(row)
			}
			return nil
		})
	if err != nil {
		return nil, nil, err
	}
	if !split {
		return kept, nil, nil
	}

	dropped, err := f.transformSegments("dropna", f.ColumnNames(), f.ColumnTypes(),
		func(row Row, emit func(Row) error) error {
			if missing(row) {
				return emit(row)
			}
			return nil
		})
	if err != nil {
		return nil, nil, err
	}
	return kept, dropped, nil
}

package planner

import (
	"xframe/pkg/errs"
	"xframe/pkg/lambda"
	"xframe/pkg/plan"
	"xframe/pkg/sarray"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// executor is a resumable operator state machine. next returns up to max
// rows and an empty batch once exhausted. Executors run entirely on their
// worker's goroutine: all state a coroutine would keep across yields lives
// in explicit struct fields, so there is no scheduler and no migration.
type executor interface {
	next(max int) ([]xframe.Row, error)
	close()
}

// buildExec constructs the executor chain for one worker over the node's
// row range [start, end). For a filter node the range addresses the
// filter's input row space; for every other operator it addresses the
// output row space.
func buildExec(n *plan.Node, start, end int64) (executor, error) {
	if f := n.Cached(); f != nil {
		return newFrameExec(f, start, end)
	}

	switch n.Op {
	case plan.OpSource:
		return newFrameExec(n.Frame, start, end)

	case plan.OpRange:
		if end > n.RangeN {
			end = n.RangeN
		}
		return &rangeExec{cursor: start, end: end}, nil

	case plan.OpConstant:
		if end > n.ConstLen {
			end = n.ConstLen
		}
		if end < start {
			end = start
		}
		return &constExec{value: n.ConstValue, remaining: end - start}, nil

	case plan.OpProject:
		child, err := buildExec(n.Inputs[0], start, end)
		if err != nil {
			return nil, err
		}
		return &projectExec{child: child, cols: n.Project}, nil

	case plan.OpTransform:
		child, err := buildExec(n.Inputs[0], start, end)
		if err != nil {
			return nil, err
		}
		return &transformExec{child: child, fn: n.Fn}, nil

	case plan.OpLambda:
		child, err := buildExec(n.Inputs[0], start, end)
		if err != nil {
			return nil, err
		}
		eval, ok := lambda.Registered()
		if !ok {
			child.close()
			return nil, errs.New(errs.Unsupported,
				"plan uses a lambda transform but no lambda runtime is registered")
		}
		return &lambdaExec{child: child, eval: eval, names: n.ColNames}, nil

	case plan.OpSlice:
		return buildExec(n.Inputs[0], n.SliceStart+start, n.SliceStart+end)

	case plan.OpUnion:
		left, err := buildExec(n.Inputs[0], start, end)
		if err != nil {
			return nil, err
		}
		right, err := buildExec(n.Inputs[1], start, end)
		if err != nil {
			left.close()
			return nil, err
		}
		return &unionExec{left: aligned(left), right: aligned(right)}, nil

	case plan.OpAppend:
		la, ok := plan.InferLength(n.Inputs[0])
		if !ok {
			return nil, errs.New(errs.InvariantViolation,
				"append input length unknown at execution time")
		}
		// Split [start, end) of the concatenation at the boundary la.
		aStart, aEnd := clampRange(start, end, 0, la)
		bStart, bEnd := clampRange(start, end, la, int64(1)<<62)
		var left, right executor
		var err error
		if aEnd > aStart {
			left, err = buildExec(n.Inputs[0], aStart, aEnd)
			if err != nil {
				return nil, err
			}
		}
		if bEnd > bStart {
			right, err = buildExec(n.Inputs[1], bStart-la, bEnd-la)
			if err != nil {
				if left != nil {
					left.close()
				}
				return nil, err
			}
		}
		return &appendExec{first: left, second: right}, nil

	case plan.OpFilter:
		values, err := buildExec(n.Inputs[0], start, end)
		if err != nil {
			return nil, err
		}
		mask, err := buildExec(n.Inputs[1], start, end)
		if err != nil {
			values.close()
			return nil, err
		}
		return &filterExec{values: aligned(values), mask: aligned(mask)}, nil

	default:
		return nil, errs.New(errs.InvariantViolation, "unknown operator %v", n.Op)
	}
}

// clampRange intersects [start, end) with [lo, hi).
func clampRange(start, end, lo, hi int64) (int64, int64) {
	if start < lo {
		start = lo
	}
	if end > hi {
		end = hi
	}
	if start > end {
		start = end
	}
	return start, end
}

// frameExec streams rows [cursor, end) of a materialized frame, one reader
// per column.
type frameExec struct {
	readers []*sarray.Reader
	cursor  int64
	end     int64
	colBufs [][]types.Value
}

func newFrameExec(f *xframe.Frame, start, end int64) (executor, error) {
	if end > f.NumRows() {
		end = f.NumRows()
	}
	e := &frameExec{cursor: start, end: end}
	for i := 0; i < f.NumColumns(); i++ {
		col, err := f.SelectColumn(i)
		if err != nil {
			e.close()
			return nil, err
		}
		r, err := col.Reader(nil)
		if err != nil {
			e.close()
			return nil, err
		}
		e.readers = append(e.readers, r)
	}
	e.colBufs = make([][]types.Value, len(e.readers))
	return e, nil
}

func (e *frameExec) next(max int) ([]xframe.Row, error) {
	if e.cursor >= e.end {
		return nil, nil
	}
	stop := e.cursor + int64(max)
	if stop > e.end {
		stop = e.end
	}

	for i, r := range e.readers {
		e.colBufs[i] = e.colBufs[i][:0]
		if _, err := r.ReadRows(e.cursor, stop, &e.colBufs[i]); err != nil {
			return nil, err
		}
	}

	n := int(stop - e.cursor)
	out := make([]xframe.Row, n)
	for r := 0; r < n; r++ {
		row := make(xframe.Row, len(e.colBufs))
		for c := range e.colBufs {
			row[c] = e.colBufs[c][r]
		}
		out[r] = row
	}
	e.cursor = stop
	return out, nil
}

func (e *frameExec) close() {
	for _, r := range e.readers {
		if r != nil {
			r.Close()
		}
	}
}

// rangeExec emits the integers [cursor, end).
type rangeExec struct {
	cursor int64
	end    int64
}

func (e *rangeExec) next(max int) ([]xframe.Row, error) {
	if e.cursor >= e.end {
		return nil, nil
	}
	n := e.end - e.cursor
	if n > int64(max) {
		n = int64(max)
	}
	out := make([]xframe.Row, n)
	for i := range out {
		out[i] = xframe.Row{types.NewInt(e.cursor + int64(i))}
	}
	e.cursor += n
	return out, nil
}

func (e *rangeExec) close() {}

// constExec emits one value a fixed number of times.
type constExec struct {
	value     types.Value
	remaining int64
}

func (e *constExec) next(max int) ([]xframe.Row, error) {
	if e.remaining <= 0 {
		return nil, nil
	}
	n := e.remaining
	if n > int64(max) {
		n = int64(max)
	}
	out := make([]xframe.Row, n)
	for i := range out {
		out[i] = xframe.Row{e.value}
	}
	e.remaining -= n
	return out, nil
}

func (e *constExec) close() {}

// projectExec reindexes each child row.
type projectExec struct {
	child executor
	cols  []int
}

func (e *projectExec) next(max int) ([]xframe.Row, error) {
	batch, err := e.child.next(max)
	if err != nil || len(batch) == 0 {
		return nil, err
	}
	out := make([]xframe.Row, len(batch))
	for i, row := range batch {
		projected := make(xframe.Row, len(e.cols))
		for j, c := range e.cols {
			projected[j] = row[c]
		}
		out[i] = projected
	}
	return out, nil
}

func (e *projectExec) close() { e.child.close() }

// transformExec maps each child row through the user closure.
type transformExec struct {
	child executor
	fn    plan.TransformFn
}

func (e *transformExec) next(max int) ([]xframe.Row, error) {
	batch, err := e.child.next(max)
	if err != nil || len(batch) == 0 {
		return nil, err
	}
	out := make([]xframe.Row, len(batch))
	for i, row := range batch {
		v, err := e.fn(row)
		if err != nil {
			return nil, err
		}
		out[i] = xframe.Row{v}
	}
	return out, nil
}

func (e *transformExec) close() { e.child.close() }

// lambdaExec hands whole batches to the registered lambda runtime.
type lambdaExec struct {
	child executor
	eval  lambda.Evaluator
	names []string
}

func (e *lambdaExec) next(max int) ([]xframe.Row, error) {
	batch, err := e.child.next(max)
	if err != nil || len(batch) == 0 {
		return nil, err
	}
	values, err := e.eval.Eval(e.names, batch)
	if err != nil {
		return nil, errs.Wrap(err, errs.Unsupported, "lambda", "planner")
	}
	if len(values) != len(batch) {
		return nil, errs.New(errs.InvariantViolation,
			"lambda runtime returned %d values for %d rows", len(values), len(batch))
	}
	out := make([]xframe.Row, len(values))
	for i, v := range values {
		out[i] = xframe.Row{v}
	}
	return out, nil
}

func (e *lambdaExec) close() { e.child.close() }

// alignedExec buffers a child so row-aligned parents (union, filter) can
// demand exact counts even when the child returns ragged batches, as an
// append does around its internal boundary.
type alignedExec struct {
	child executor
	buf   []xframe.Row
	pos   int
}

func aligned(child executor) *alignedExec {
	return &alignedExec{child: child}
}

// take returns exactly k rows, or fewer only when the child is exhausted.
func (a *alignedExec) take(k int) ([]xframe.Row, error) {
	out := make([]xframe.Row, 0, k)
	for len(out) < k {
		if a.pos < len(a.buf) {
			n := len(a.buf) - a.pos
			if need := k - len(out); n > need {
				n = need
			}
			out = append(out, a.buf[a.pos:a.pos+n]...)
			a.pos += n
			continue
		}
		batch, err := a.child.next(k - len(out))
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		a.buf = batch
		a.pos = 0
	}
	return out, nil
}

func (a *alignedExec) close() { a.child.close() }

// unionExec zips two equal-length children horizontally. Children pull
// through aligning buffers, so matching counts are guaranteed as long as
// the inputs really are the same length.
type unionExec struct {
	left  *alignedExec
	right *alignedExec
}

func (e *unionExec) next(max int) ([]xframe.Row, error) {
	a, err := e.left.take(max)
	if err != nil {
		return nil, err
	}
	b, err := e.right.take(len(a))
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, errs.New(errs.SchemaMismatch,
			"union inputs produced different row counts")
	}
	if len(a) == 0 {
		return nil, nil
	}
	out := make([]xframe.Row, len(a))
	for i := range a {
		out[i] = append(append(xframe.Row{}, a[i]...), b[i]...)
	}
	return out, nil
}

func (e *unionExec) close() {
	e.left.close()
	e.right.close()
}

// appendExec drains its first child, then its second. Either may be nil
// when the worker's range lies entirely in one half.
type appendExec struct {
	first  executor
	second executor
}

func (e *appendExec) next(max int) ([]xframe.Row, error) {
	if e.first != nil {
		batch, err := e.first.next(max)
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}
		e.first = nil
	}
	if e.second != nil {
		return e.second.next(max)
	}
	return nil, nil
}

func (e *appendExec) close() {
	if e.first != nil {
		e.first.close()
	}
	if e.second != nil {
		e.second.close()
	}
}

// filterExec keeps value rows whose mask is nonzero. When a pull leaves the
// output batch short, it retains the unmatched capacity and pulls more
// input until the batch fills or the input is exhausted.
type filterExec struct {
	values *alignedExec
	mask   *alignedExec
	done   bool
}

// truthy implements the 0/1 mask contract: integer and float zero (and NA)
// are false, everything else is true.
func truthy(v types.Value) bool {
	if v.IsNA() {
		return false
	}
	if f, ok := v.AsFloat(); ok {
		return f != 0
	}
	return true
}

func (e *filterExec) next(max int) ([]xframe.Row, error) {
	if e.done {
		return nil, nil
	}
	out := make([]xframe.Row, 0, max)
	for len(out) < max {
		vals, err := e.values.take(max - len(out))
		if err != nil {
			return nil, err
		}
		masks, err := e.mask.take(len(vals))
		if err != nil {
			return nil, err
		}
		if len(vals) != len(masks) {
			return nil, errs.New(errs.SchemaMismatch,
				"filter value rows and mask rows do not line up")
		}
		if len(vals) == 0 {
			e.done = true
			break
		}
		for i, row := range vals {
			if truthy(masks[i][0]) {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

func (e *filterExec) close() {
	e.values.close()
	e.mask.close()
}

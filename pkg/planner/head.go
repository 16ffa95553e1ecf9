package planner

import (
	"sync"
	"sync/atomic"

	"xframe/pkg/plan"
	"xframe/pkg/tempfile"
	"xframe/pkg/xframe"
)

// Head materializes only the first n rows of a plan.
//
// When the plan's length is inferable the head is an exact slice: workers
// are assigned over [0, n) and never touch later rows. When the length is
// unknown (a logical filter), execution runs through the callback path and
// stops at the first batch boundary after n rows exist; per the
// cancellation contract the partial frame produced up to that point is the
// result, truncated to n rows.
func Head(node *plan.Node, n int64) (*xframe.Frame, error) {
	if n < 0 {
		n = 0
	}

	opt := plan.Optimize(node)

	if l, ok := plan.InferLength(opt); ok {
		if n > l {
			n = l
		}
		sliced, err := plan.NewSlice(opt, 0, n)
		if err != nil {
			return nil, err
		}
		return Materialize(sliced)
	}

	segments := chooseSegments(opt, 0)

	var mu sync.Mutex
	collected := make([][]xframe.Row, segments)
	var produced atomic.Int64

	cb := func(segment int, batch []xframe.Row) bool {
		mu.Lock()
		collected[segment] = append(collected[segment], batch...)
		mu.Unlock()
		return produced.Add(int64(len(batch))) >= n
	}

	if err := MaterializeWithCallback(opt, cb, segments); err != nil {
		return nil, err
	}

	// Global order is the concatenation of segment outputs by ascending
	// segment id; keep the first n rows of it.
	colTypes, err := plan.InferTypes(opt)
	if err != nil {
		return nil, err
	}

	dir, err := tempfile.DefaultManager().NewTempDir("head")
	if err != nil {
		return nil, err
	}
	fw, err := xframe.OpenForWrite(dir, make([]string, len(colTypes)), colTypes, 1)
	if err != nil {
		return nil, err
	}
	sink, err := fw.OutputIterator(0)
	if err != nil {
		fw.Abort()
		return nil, err
	}

	written := int64(0)
	for s := 0; s < segments && written < n; s++ {
		for _, row := range collected[s] {
			if written >= n {
				break
			}
			if err := sink.AppendRow(row); err != nil {
				fw.Abort()
				return nil, err
			}
			written++
		}
	}

	out, err := fw.Close()
	if err != nil {
		return nil, err
	}
	out.BindTempDir(dir)
	return out, nil
}

// Package join implements the frame join operator as a partitioned hash
// join: both sides shuffle by key hash so matching keys meet in the same
// bucket, and each bucket joins in memory in parallel.
package join

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"xframe/pkg/errs"
	"xframe/pkg/shuffle"
	"xframe/pkg/tempfile"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// Type selects which unmatched rows survive the join.
type Type int

const (
	Inner Type = iota
	Left
	Right
	Outer
)

// String returns the join type name.
func (t Type) String() string {
	switch t {
	case Inner:
		return "inner"
	case Left:
		return "left"
	case Right:
		return "right"
	case Outer:
		return "outer"
	default:
		return "unknown"
	}
}

// Key pairs a left column with the right column it must equal.
type Key struct {
	Left  string
	Right string
}

// Join joins two frames on the given key pairs. The output has every left
// column followed by the right side's non-key columns (renamed when they
// collide with a left name). Unmatched rows are NA-extended according to
// the join type. NA keys never match anything, including other NA keys.
func Join(left, right *xframe.Frame, jt Type, on []Key) (*xframe.Frame, error) {
	if len(on) == 0 {
		return nil, errs.New(errs.OutOfRange, "join needs at least one key pair")
	}

	leftKeyIdx := make([]int, len(on))
	rightKeyIdx := make([]int, len(on))
	rightKeySet := make(map[int]bool)
	for i, k := range on {
		li, err := left.ColumnIndex(k.Left)
		if err != nil {
			return nil, err
		}
		ri, err := right.ColumnIndex(k.Right)
		if err != nil {
			return nil, err
		}
		lcol, err := left.SelectColumn(li)
		if err != nil {
			return nil, err
		}
		rcol, err := right.SelectColumn(ri)
		if err != nil {
			return nil, err
		}
		if lcol.Type() != rcol.Type() {
			return nil, errs.New(errs.SchemaMismatch,
				"join key %q has type %s on the left but %s on the right",
				k.Left, lcol.Type(), rcol.Type())
		}
		leftKeyIdx[i] = li
		rightKeyIdx[i] = ri
		rightKeySet[ri] = true
	}

	// Output schema: left columns, then right non-key columns.
	outNames := left.ColumnNames()
	outTypes := left.ColumnTypes()
	var rightKeep []int
	for i, name := range right.ColumnNames() {
		if rightKeySet[i] {
			continue
		}
		rightKeep = append(rightKeep, i)
		for nameTaken(outNames, name) {
			name = name + ".1"
		}
		outNames = append(outNames, name)
		col, err := right.SelectColumn(i)
		if err != nil {
			return nil, err
		}
		outTypes = append(outTypes, col.Type())
	}

	buckets := runtime.NumCPU()
	if buckets < 1 {
		buckets = 1
	}

	leftParts, err := shuffle.Shuffle(left, buckets, func(row xframe.Row) uint64 {
		return types.HashKey(extract(row, leftKeyIdx))
	}, nil)
	if err != nil {
		return nil, err
	}
	rightParts, err := shuffle.Shuffle(right, buckets, func(row xframe.Row) uint64 {
		return types.HashKey(extract(row, rightKeyIdx))
	}, nil)
	if err != nil {
		return nil, err
	}
	release := func(frames []*xframe.Frame) {
		for _, f := range frames {
			f.MarkDeleteOnClose()
			f.Release()
		}
	}
	defer release(leftParts)
	defer release(rightParts)

	dir, err := tempfile.DefaultManager().NewTempDir("join")
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "Join", "join")
	}
	fw, err := xframe.OpenForWrite(dir, outNames, outTypes, buckets)
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for b := 0; b < buckets; b++ {
		bucket := b
		g.Go(func() error {
			return joinBucket(leftParts[bucket], rightParts[bucket], fw, bucket,
				jt, leftKeyIdx, rightKeyIdx, rightKeep, len(outTypes))
		})
	}
	if err := g.Wait(); err != nil {
		fw.Abort()
		return nil, err
	}

	out, err := fw.Close()
	if err != nil {
		return nil, err
	}
	out.BindTempDir(dir)
	return out, nil
}

// joinBucket joins one pair of hash buckets into output segment `bucket`.
func joinBucket(left, right *xframe.Frame, fw *xframe.FrameWriter, bucket int,
	jt Type, leftKeyIdx, rightKeyIdx, rightKeep []int, outWidth int) error {

	var rightRows []xframe.Row
	if _, err := right.ReadRows(0, right.NumRows(), &rightRows); err != nil {
		return err
	}

	table := make(map[uint64][]int, len(rightRows))
	for i, row := range rightRows {
		key := extract(row, rightKeyIdx)
		if anyNA(key) {
			continue
		}
		h := types.HashKey(key)
		table[h] = append(table[h], i)
	}
	matched := make([]bool, len(rightRows))

	sink, err := fw.OutputIterator(bucket)
	if err != nil {
		return err
	}

	leftWidth := left.NumColumns()
	emit := func(lrow, rrow xframe.Row) error {
		out := make(xframe.Row, 0, outWidth)
		if lrow != nil {
			out = append(out, lrow...)
		} else {
			for i := 0; i < leftWidth; i++ {
				out = append(out, types.NA())
			}
		}
		for _, ri := range rightKeep {
			if rrow != nil {
				out = append(out, rrow[ri])
			} else {
				out = append(out, types.NA())
			}
		}
		return sink.AppendRow(out)
	}

	for seg := 0; seg < left.NumSegments(); seg++ {
		it, err := left.RowIter(seg)
		if err != nil {
			return err
		}
		for {
			lrow, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}

			key := extract(lrow, leftKeyIdx)
			found := false
			if !anyNA(key) {
				h := types.HashKey(key)
				for _, ri := range table[h] {
					if types.KeysEqual(extract(rightRows[ri], rightKeyIdx), key) {
						found = true
						matched[ri] = true
						if err := emit(lrow, rightRows[ri]); err != nil {
							return err
						}
					}
				}
			}
			if !found && (jt == Left || jt == Outer) {
				if err := emit(lrow, nil); err != nil {
					return err
				}
			}
		}
	}

	if jt == Right || jt == Outer {
		for i, row := range rightRows {
			if matched[i] {
				continue
			}
			// Key columns come from the right side on an unmatched row.
			out := make(xframe.Row, 0, outWidth)
			leftSide := make(xframe.Row, leftWidth)
			for c := range leftSide {
				leftSide[c] = types.NA()
			}
			for k, li := range leftKeyIdx {
				leftSide[li] = row[rightKeyIdx[k]]
			}
			out = append(out, leftSide...)
			for _, ri := range rightKeep {
				out = append(out, row[ri])
			}
			if err := sink.AppendRow(out); err != nil {
				return err
			}
		}
	}
	return nil
}

func extract(row xframe.Row, idx []int) []types.Value {
	key := make([]types.Value, len(idx))
	for i, c := range idx {
		key[i] = row[c]
	}
	return key
}

func anyNA(key []types.Value) bool {
	for _, v := range key {
		if v.IsNA() {
			return true
		}
	}
	return false
}

func nameTaken(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Package engine is the user-facing coordination layer: an XFrame is a
// lazy, immutable frame handle backed by a plan node plus its column names.
// Cheap operators (select, apply, filter, append, slice) compose plan
// graphs; heavyweight operators (sort, groupby, join, shuffle) call into
// their dedicated components and return materialized handles.
package engine

import (
	"path/filepath"

	"xframe/pkg/aggregation"
	"xframe/pkg/archive"
	"xframe/pkg/errs"
	"xframe/pkg/extsort"
	"xframe/pkg/join"
	"xframe/pkg/plan"
	"xframe/pkg/planner"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// XFrame is an immutable handle on a (possibly unevaluated) frame.
type XFrame struct {
	node  *plan.Node
	names []string
}

// FromFrame wraps a materialized frame.
func FromFrame(f *xframe.Frame) *XFrame {
	return &XFrame{node: plan.Source(f), names: f.ColumnNames()}
}

// Load opens a frame previously saved to dir (directly or inside an
// archive written by Save).
func Load(dir string) (*XFrame, error) {
	if ar, err := archive.OpenForRead(dir); err == nil {
		if contents, ok := ar.GetMetadata("contents"); ok {
			if contents != "xframe" {
				return nil, errs.New(errs.IoFailure,
					"archive %s holds %q, not a frame", dir, contents)
			}
			if prefix, ok := ar.GetMetadata("frame_prefix"); ok {
				f, err := xframe.Load(filepath.Join(dir, prefix))
				if err != nil {
					return nil, err
				}
				return FromFrame(f), nil
			}
		}
	}
	f, err := xframe.Load(dir)
	if err != nil {
		return nil, err
	}
	return FromFrame(f), nil
}

// Save persists the frame into an archive directory: metadata marking the
// contents plus a fresh object prefix holding the full physical copy.
func (x *XFrame) Save(dir string) error {
	f, err := x.Materialize()
	if err != nil {
		return err
	}
	ar, err := archive.OpenForWrite(dir)
	if err != nil {
		return err
	}
	prefix, err := ar.GetNextPrefix()
	if err != nil {
		return err
	}
	if err := f.Save(prefix); err != nil {
		return err
	}
	if err := ar.SetMetadata("contents", "xframe"); err != nil {
		return err
	}
	return ar.SetMetadata("frame_prefix", filepath.Base(prefix))
}

// SaveReference persists only metadata referencing the frame's existing
// files.
func (x *XFrame) SaveReference(dir string) error {
	f, err := x.Materialize()
	if err != nil {
		return err
	}
	return f.SaveReference(dir)
}

// Materialize executes the plan (once; the result is cached on the node)
// and returns the concrete frame carrying this handle's column names.
func (x *XFrame) Materialize() (*xframe.Frame, error) {
	f, err := planner.Materialize(x.node)
	if err != nil {
		return nil, err
	}
	return f.WithNames(x.names)
}

// IsMaterialized reports whether reading this handle would run any plan.
func (x *XFrame) IsMaterialized() bool {
	return plan.IsMaterialized(x.node)
}

// ColumnNames returns the handle's column names.
func (x *XFrame) ColumnNames() []string {
	return append([]string(nil), x.names...)
}

// ColumnTypes infers the column types without materializing.
func (x *XFrame) ColumnTypes() ([]types.Type, error) {
	return plan.InferTypes(x.node)
}

// NumColumns returns the column count.
func (x *XFrame) NumColumns() int {
	return len(x.names)
}

// NumRows returns the row count, materializing only when the plan cannot
// infer it.
func (x *XFrame) NumRows() (int64, error) {
	if l, ok := plan.InferLength(x.node); ok {
		return l, nil
	}
	f, err := planner.Materialize(x.node)
	if err != nil {
		return 0, err
	}
	return f.NumRows(), nil
}

func (x *XFrame) columnIndex(name string) (int, error) {
	for i, n := range x.names {
		if n == name {
			return i, nil
		}
	}
	return 0, errs.New(errs.OutOfRange, "no column named %q", name)
}

// Select returns a lazy projection onto the named columns.
func (x *XFrame) Select(names ...string) (*XFrame, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		c, err := x.columnIndex(name)
		if err != nil {
			return nil, err
		}
		idx[i] = c
	}
	node, err := plan.NewProject(x.node, idx)
	if err != nil {
		return nil, err
	}
	return &XFrame{node: node, names: append([]string(nil), names...)}, nil
}

// Apply appends a lazily computed column derived from each row.
func (x *XFrame) Apply(name string, outType types.Type, fn func(row xframe.Row) (types.Value, error)) (*XFrame, error) {
	if name == "" {
		return nil, errs.New(errs.DuplicateColumn, "column name cannot be empty")
	}
	for _, n := range x.names {
		if n == name {
			return nil, errs.New(errs.DuplicateColumn, "column %q already exists", name)
		}
	}
	tr := plan.NewTransform(x.node, fn, outType)
	node, err := plan.NewUnion(x.node, tr)
	if err != nil {
		return nil, err
	}
	return &XFrame{node: node, names: append(x.ColumnNames(), name)}, nil
}

// FilterBy returns the lazily filtered rows for which fn is true.
func (x *XFrame) FilterBy(fn func(row xframe.Row) (bool, error)) (*XFrame, error) {
	mask := plan.NewTransform(x.node, func(row xframe.Row) (types.Value, error) {
		ok, err := fn(row)
		if err != nil {
			return types.Value{}, err
		}
		if ok {
			return types.NewInt(1), nil
		}
		return types.NewInt(0), nil
	}, types.IntType)
	node, err := plan.NewFilter(x.node, mask)
	if err != nil {
		return nil, err
	}
	return &XFrame{node: node, names: x.ColumnNames()}, nil
}

// Slice returns rows [start, end) lazily.
func (x *XFrame) Slice(start, end int64) (*XFrame, error) {
	node, err := plan.NewSlice(x.node, start, end)
	if err != nil {
		return nil, err
	}
	return &XFrame{node: node, names: x.ColumnNames()}, nil
}

// Append vertically concatenates two handles with matching schemas,
// lazily.
func (x *XFrame) Append(other *XFrame) (*XFrame, error) {
	if len(x.names) != len(other.names) {
		return nil, errs.New(errs.SchemaMismatch,
			"cannot append %d columns to %d", len(other.names), len(x.names))
	}
	for i := range x.names {
		if x.names[i] != other.names[i] {
			return nil, errs.New(errs.SchemaMismatch,
				"column %d name mismatch: %q vs %q", i, x.names[i], other.names[i])
		}
	}
	node, err := plan.NewAppend(x.node, other.node)
	if err != nil {
		return nil, err
	}
	return &XFrame{node: node, names: x.ColumnNames()}, nil
}

// Head materializes the first n rows, stopping execution early.
func (x *XFrame) Head(n int64) (*XFrame, error) {
	f, err := planner.Head(x.node, n)
	if err != nil {
		return nil, err
	}
	named, err := f.WithNames(x.names)
	if err != nil {
		return nil, err
	}
	return FromFrame(named), nil
}

// Tail materializes the last n rows.
func (x *XFrame) Tail(n int64) (*XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, err
	}
	tail, err := f.Tail(n)
	if err != nil {
		return nil, err
	}
	return FromFrame(tail), nil
}

// Sort returns a new handle ordered by the named key columns.
func (x *XFrame) Sort(keys []string, ascending []bool) (*XFrame, error) {
	keyIdx := make([]int, len(keys))
	for i, name := range keys {
		c, err := x.columnIndex(name)
		if err != nil {
			return nil, err
		}
		keyIdx[i] = c
	}
	f, err := extsort.Sort(x.node, keyIdx, ascending)
	if err != nil {
		return nil, err
	}
	named, err := f.WithNames(x.names)
	if err != nil {
		return nil, err
	}
	return FromFrame(named), nil
}

// GroupBy aggregates rows grouped by the key columns.
func (x *XFrame) GroupBy(keys []string, requests []aggregation.Request) (*XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, err
	}
	out, err := aggregation.GroupByAggregate(f, keys, requests)
	if err != nil {
		return nil, err
	}
	return FromFrame(out), nil
}

// Join joins with another handle on the given key pairs.
func (x *XFrame) Join(other *XFrame, jt join.Type, on []join.Key) (*XFrame, error) {
	lf, err := x.Materialize()
	if err != nil {
		return nil, err
	}
	rf, err := other.Materialize()
	if err != nil {
		return nil, err
	}
	out, err := join.Join(lf, rf, jt, on)
	if err != nil {
		return nil, err
	}
	return FromFrame(out), nil
}

// Sample keeps rows with probability p (exactly round(p*n) rows when exact
// is set), deterministically for a fixed seed.
func (x *XFrame) Sample(p float64, seed int64, exact bool) (*XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, err
	}
	out, err := f.Sample(p, seed, exact)
	if err != nil {
		return nil, err
	}
	return FromFrame(out), nil
}

// RandomSplit partitions rows into two handles.
func (x *XFrame) RandomSplit(p float64, seed int64, exact bool) (*XFrame, *XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, nil, err
	}
	a, b, err := f.RandomSplit(p, seed, exact)
	if err != nil {
		return nil, nil, err
	}
	return FromFrame(a), FromFrame(b), nil
}

// DropMissing removes rows with missing values; see xframe.DropMissing.
func (x *XFrame) DropMissing(cols []string, all, split, recursive bool) (*XFrame, *XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, nil, err
	}
	kept, dropped, err := f.DropMissing(cols, all, split, recursive)
	if err != nil {
		return nil, nil, err
	}
	out := FromFrame(kept)
	if dropped == nil {
		return out, nil, nil
	}
	return out, FromFrame(dropped), nil
}

// Stack explodes a container column; see xframe.Stack.
func (x *XFrame) Stack(col string, newNames []string, dropNA bool) (*XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, err
	}
	out, err := f.Stack(col, newNames, dropNA)
	if err != nil {
		return nil, err
	}
	return FromFrame(out), nil
}

// PackColumns gathers columns into one container column; see
// xframe.PackColumns.
func (x *XFrame) PackColumns(cols, keys []string, dtype types.Type, fillNA types.Value, newName string) (*XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, err
	}
	out, err := f.PackColumns(cols, keys, dtype, fillNA, newName)
	if err != nil {
		return nil, err
	}
	return FromFrame(out), nil
}

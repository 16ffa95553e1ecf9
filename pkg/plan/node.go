// Package plan models lazy computations as a DAG of operator nodes.
//
// A node describes an unevaluated transform over its inputs; nothing runs
// until the planner materializes it. Nodes are immutable after construction
// and share their inputs by pointer — the graph is a DAG, never a cycle.
// The one mutable slot is the cached materialization, a set-once cell the
// planner fills the first time the node is executed; a cached node behaves
// as a source from then on.
package plan

import (
	"sync/atomic"

	"xframe/pkg/errs"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// OpKind identifies a plan operator.
type OpKind int

const (
	// OpSource reads a materialized frame. Terminal leaf.
	OpSource OpKind = iota

	// OpRange produces integers [0, n). Terminal leaf.
	OpRange

	// OpConstant repeats one value n times. Terminal leaf.
	OpConstant

	// OpProject reindexes the input's columns.
	OpProject

	// OpUnion concatenates the columns of two equal-length inputs.
	OpUnion

	// OpAppend concatenates the rows of two schema-matching inputs.
	OpAppend

	// OpFilter keeps value rows whose mask row is nonzero. The output
	// length is unknown until materialization.
	OpFilter

	// OpTransform applies a row closure producing one output column.
	OpTransform

	// OpLambda applies user code through the registered lambda runtime,
	// producing one output column.
	OpLambda

	// OpSlice keeps rows [start, end) of its input.
	OpSlice
)

// String returns the operator name.
func (k OpKind) String() string {
	switch k {
	case OpSource:
		return "source"
	case OpRange:
		return "range"
	case OpConstant:
		return "constant"
	case OpProject:
		return "project"
	case OpUnion:
		return "union"
	case OpAppend:
		return "append"
	case OpFilter:
		return "logical_filter"
	case OpTransform:
		return "transform"
	case OpLambda:
		return "lambda_transform"
	case OpSlice:
		return "slice"
	default:
		return "unknown"
	}
}

// TransformFn maps one input row to one output value.
type TransformFn func(row xframe.Row) (types.Value, error)

// Node is one operator of a plan DAG. Fields other than the cache slot are
// immutable after the factory returns.
type Node struct {
	Op     OpKind
	Inputs []*Node

	// Operator arguments; which fields are meaningful depends on Op.
	Frame      *xframe.Frame // OpSource
	RangeN     int64         // OpRange
	ConstValue types.Value   // OpConstant
	ConstLen   int64         // OpConstant
	Project    []int         // OpProject
	Fn         TransformFn   // OpTransform
	OutType    types.Type    // OpTransform, OpLambda
	ColNames   []string      // OpLambda: names handed to the evaluator
	SliceStart int64         // OpSlice
	SliceEnd   int64         // OpSlice

	cached atomic.Pointer[xframe.Frame]
}

// Source wraps a materialized frame as a plan leaf.
func Source(f *xframe.Frame) *Node {
	return &Node{Op: OpSource, Frame: f}
}

// Range produces the integers [0, n).
func Range(n int64) (*Node, error) {
	if n < 0 {
		return nil, errs.New(errs.OutOfRange, "range length %d is negative", n)
	}
	return &Node{Op: OpRange, RangeN: n}, nil
}

// Constant repeats v for n rows.
func Constant(v types.Value, n int64) (*Node, error) {
	if n < 0 {
		return nil, errs.New(errs.OutOfRange, "constant length %d is negative", n)
	}
	return &Node{Op: OpConstant, ConstValue: v, ConstLen: n}, nil
}

// NewProject reindexes input columns; indices may repeat or reorder.
func NewProject(in *Node, cols []int) (*Node, error) {
	width, err := Width(in)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c < 0 || c >= width {
			return nil, errs.New(errs.OutOfRange,
				"project index %d out of range [0, %d)", c, width)
		}
	}
	return &Node{
		Op:      OpProject,
		Inputs:  []*Node{in},
		Project: append([]int(nil), cols...),
	}, nil
}

// NewUnion concatenates columns of two inputs at matching rows. When both
// lengths are inferable they must agree; otherwise the check is deferred to
// materialization.
func NewUnion(a, b *Node) (*Node, error) {
	if la, oka := InferLength(a); oka {
		if lb, okb := InferLength(b); okb && la != lb {
			return nil, errs.New(errs.SchemaMismatch,
				"union inputs have %d and %d rows", la, lb)
		}
	}
	return &Node{Op: OpUnion, Inputs: []*Node{a, b}}, nil
}

// NewAppend concatenates rows of two inputs with matching column types.
func NewAppend(a, b *Node) (*Node, error) {
	at, err := InferTypes(a)
	if err != nil {
		return nil, err
	}
	bt, err := InferTypes(b)
	if err != nil {
		return nil, err
	}
	if len(at) != len(bt) {
		return nil, errs.New(errs.SchemaMismatch,
			"append inputs have %d and %d columns", len(at), len(bt))
	}
	for i := range at {
		if at[i] != bt[i] {
			return nil, errs.New(errs.SchemaMismatch,
				"append column %d type mismatch: %s vs %s", i, at[i], bt[i])
		}
	}
	return &Node{Op: OpAppend, Inputs: []*Node{a, b}}, nil
}

// NewFilter keeps rows of values whose mask value is nonzero. A length
// mismatch is an error as soon as it is provable.
func NewFilter(values, mask *Node) (*Node, error) {
	if lv, okv := InferLength(values); okv {
		if lm, okm := InferLength(mask); okm && lv != lm {
			return nil, errs.New(errs.SchemaMismatch,
				"filter value rows %d do not match mask rows %d", lv, lm)
		}
	}
	if w, err := Width(mask); err != nil {
		return nil, err
	} else if w != 1 {
		return nil, errs.New(errs.SchemaMismatch,
			"filter mask must be a single column, got %d", w)
	}
	return &Node{Op: OpFilter, Inputs: []*Node{values, mask}}, nil
}

// NewTransform applies fn to every input row, producing one column of
// outType.
func NewTransform(in *Node, fn TransformFn, outType types.Type) *Node {
	return &Node{Op: OpTransform, Inputs: []*Node{in}, Fn: fn, OutType: outType}
}

// NewLambdaTransform routes rows through the registered lambda runtime.
// colNames are the input names the user code sees.
func NewLambdaTransform(in *Node, colNames []string, outType types.Type) *Node {
	return &Node{
		Op:       OpLambda,
		Inputs:   []*Node{in},
		ColNames: append([]string(nil), colNames...),
		OutType:  outType,
	}
}

// NewSlice keeps rows [start, end) of the input.
func NewSlice(in *Node, start, end int64) (*Node, error) {
	if start < 0 || start > end {
		return nil, errs.New(errs.OutOfRange, "slice [%d, %d) is invalid", start, end)
	}
	if l, ok := InferLength(in); ok && end > l {
		return nil, errs.New(errs.OutOfRange,
			"slice [%d, %d) exceeds input length %d", start, end, l)
	}
	return &Node{Op: OpSlice, Inputs: []*Node{in}, SliceStart: start, SliceEnd: end}, nil
}

// Cached returns the node's materialization, if set.
func (n *Node) Cached() *xframe.Frame {
	return n.cached.Load()
}

// SetCached installs the node's materialization exactly once. Later calls
// are ignored, keeping the first result authoritative.
func (n *Node) SetCached(f *xframe.Frame) {
	n.cached.CompareAndSwap(nil, f)
}

// IsSource reports whether the node can emit rows without evaluating
// inputs: a terminal leaf or a node with a cached materialization.
func (n *Node) IsSource() bool {
	switch n.Op {
	case OpSource, OpRange, OpConstant:
		return true
	}
	return n.Cached() != nil
}

package plan

import (
	"xframe/pkg/errs"
	"xframe/pkg/types"
)

// InferTypes derives the output column types of a node by recursing the DAG.
// Shared subtrees are visited once per call through memoization.
func InferTypes(n *Node) ([]types.Type, error) {
	memo := make(map[*Node][]types.Type)
	return inferTypes(n, memo)
}

func inferTypes(n *Node, memo map[*Node][]types.Type) ([]types.Type, error) {
	if ts, ok := memo[n]; ok {
		return ts, nil
	}

	var ts []types.Type
	switch n.Op {
	case OpSource:
		ts = n.Frame.ColumnTypes()
	case OpRange:
		ts = []types.Type{types.IntType}
	case OpConstant:
		ts = []types.Type{n.ConstValue.Tag()}
	case OpProject:
		in, err := inferTypes(n.Inputs[0], memo)
		if err != nil {
			return nil, err
		}
		ts = make([]types.Type, len(n.Project))
		for i, c := range n.Project {
			ts[i] = in[c]
		}
	case OpUnion:
		a, err := inferTypes(n.Inputs[0], memo)
		if err != nil {
			return nil, err
		}
		b, err := inferTypes(n.Inputs[1], memo)
		if err != nil {
			return nil, err
		}
		ts = append(append([]types.Type(nil), a...), b...)
	case OpAppend, OpFilter, OpSlice:
		in, err := inferTypes(n.Inputs[0], memo)
		if err != nil {
			return nil, err
		}
		ts = in
	case OpTransform, OpLambda:
		ts = []types.Type{n.OutType}
	default:
		return nil, errs.New(errs.InvariantViolation, "unknown operator %v", n.Op)
	}

	memo[n] = ts
	return ts, nil
}

// Width returns the number of output columns of a node.
func Width(n *Node) (int, error) {
	ts, err := InferTypes(n)
	if err != nil {
		return 0, err
	}
	return len(ts), nil
}

// InferLength derives the node's output row count when it is knowable
// without executing the plan. The second return is false when the length is
// unknown (a logical filter with no cached result below it).
func InferLength(n *Node) (int64, bool) {
	if f := n.Cached(); f != nil {
		return f.NumRows(), true
	}

	switch n.Op {
	case OpSource:
		return n.Frame.NumRows(), true
	case OpRange:
		return n.RangeN, true
	case OpConstant:
		return n.ConstLen, true
	case OpProject, OpTransform, OpLambda:
		return InferLength(n.Inputs[0])
	case OpUnion:
		// Inputs are equal length; either one known is enough.
		if l, ok := InferLength(n.Inputs[0]); ok {
			return l, true
		}
		return InferLength(n.Inputs[1])
	case OpAppend:
		la, oka := InferLength(n.Inputs[0])
		lb, okb := InferLength(n.Inputs[1])
		if oka && okb {
			return la + lb, true
		}
		return 0, false
	case OpSlice:
		return n.SliceEnd - n.SliceStart, true
	case OpFilter:
		return 0, false
	default:
		return 0, false
	}
}

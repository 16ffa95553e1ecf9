package plan

import (
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// Optimize applies the first-pass rewrites to a plan and returns the
// rewritten root. Rewrites are strictly semantic-preserving and there is no
// cost model:
//
//   - adjacent projects fold into one;
//   - a project over a union or append pushes into the inputs when the
//     projection does not interleave the union's halves;
//   - adjacent slices fold into one;
//   - back-to-back transforms merge into a single closure composition.
//
// Shared subtrees are rewritten once and stay shared in the output.
func Optimize(root *Node) *Node {
	memo := make(map[*Node]*Node)
	return optimize(root, memo)
}

func optimize(n *Node, memo map[*Node]*Node) *Node {
	if out, ok := memo[n]; ok {
		return out
	}

	// A cached node is already a source; rewriting below it would only
	// discard the materialization.
	if n.IsSource() {
		memo[n] = n
		return n
	}

	// Rewrite children first so patterns match against optimized inputs.
	inputs := make([]*Node, len(n.Inputs))
	changed := false
	for i, in := range n.Inputs {
		inputs[i] = optimize(in, memo)
		if inputs[i] != in {
			changed = true
		}
	}

	out := n
	if changed {
		clone := &Node{
			Op:         n.Op,
			Inputs:     inputs,
			Frame:      n.Frame,
			RangeN:     n.RangeN,
			ConstValue: n.ConstValue,
			ConstLen:   n.ConstLen,
			Project:    n.Project,
			Fn:         n.Fn,
			OutType:    n.OutType,
			ColNames:   n.ColNames,
			SliceStart: n.SliceStart,
			SliceEnd:   n.SliceEnd,
		}
		out = clone
	}

	switch out.Op {
	case OpProject:
		out = rewriteProject(out)
	case OpSlice:
		out = rewriteSlice(out)
	case OpTransform:
		out = rewriteTransform(out)
	}

	memo[n] = out
	return out
}

// rewriteProject folds project-of-project and pushes a project through
// union/append.
func rewriteProject(n *Node) *Node {
	in := n.Inputs[0]
	if in.IsSource() && in.Op != OpSource {
		return n
	}

	switch in.Op {
	case OpProject:
		// project(project(x, P1), P2) == project(x, P1[P2])
		composed := make([]int, len(n.Project))
		for i, c := range n.Project {
			composed[i] = in.Project[c]
		}
		folded, err := NewProject(in.Inputs[0], composed)
		if err != nil {
			return n
		}
		return rewriteProject(folded)

	case OpAppend:
		// project(append(a, b), P) == append(project(a, P), project(b, P))
		pa, err := NewProject(in.Inputs[0], n.Project)
		if err != nil {
			return n
		}
		pb, err := NewProject(in.Inputs[1], n.Project)
		if err != nil {
			return n
		}
		pushed, err := NewAppend(rewriteProject(pa), rewriteProject(pb))
		if err != nil {
			return n
		}
		return pushed

	case OpUnion:
		leftWidth, err := Width(in.Inputs[0])
		if err != nil {
			return n
		}
		// Split the projection at the union boundary; push through only
		// when it does not interleave the two halves.
		split := len(n.Project)
		for i, c := range n.Project {
			if c >= leftWidth {
				split = i
				break
			}
		}
		left := n.Project[:split]
		right := n.Project[split:]
		for _, c := range right {
			if c < leftWidth {
				return n // interleaved; leave as is
			}
		}

		if len(right) == 0 {
			pa, err := NewProject(in.Inputs[0], left)
			if err != nil {
				return n
			}
			return rewriteProject(pa)
		}
		shifted := make([]int, len(right))
		for i, c := range right {
			shifted[i] = c - leftWidth
		}
		if len(left) == 0 {
			pb, err := NewProject(in.Inputs[1], shifted)
			if err != nil {
				return n
			}
			return rewriteProject(pb)
		}
		pa, err := NewProject(in.Inputs[0], left)
		if err != nil {
			return n
		}
		pb, err := NewProject(in.Inputs[1], shifted)
		if err != nil {
			return n
		}
		pushed, err := NewUnion(rewriteProject(pa), rewriteProject(pb))
		if err != nil {
			return n
		}
		return pushed
	}
	return n
}

// rewriteSlice folds slice-of-slice.
func rewriteSlice(n *Node) *Node {
	in := n.Inputs[0]
	if in.Op != OpSlice || in.IsSource() {
		return n
	}
	folded, err := NewSlice(in.Inputs[0], in.SliceStart+n.SliceStart, in.SliceStart+n.SliceEnd)
	if err != nil {
		return n
	}
	return rewriteSlice(folded)
}

// rewriteTransform merges transform-of-transform into one composed closure.
func rewriteTransform(n *Node) *Node {
	in := n.Inputs[0]
	if in.Op != OpTransform || in.IsSource() {
		return n
	}

	inner, outer := in.Fn, n.Fn
	composed := func(row xframe.Row) (types.Value, error) {
		mid, err := inner(row)
		if err != nil {
			return types.Value{}, err
		}
		return outer(xframe.Row{mid})
	}
	return rewriteTransform(NewTransform(in.Inputs[0], composed, n.OutType))
}

// IsMaterialized reports whether the optimized plan is already a source:
// nothing would need to run to read its rows.
func IsMaterialized(n *Node) bool {
	return Optimize(n).IsSource()
}

package planner

import (
	"fmt"
	"sync/atomic"
	"testing"

	"xframe/pkg/plan"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// intFrame builds an n-row frame of ints [0, n) with the given segments.
func intFrame(t *testing.T, n int64, segments int) *xframe.Frame {
	t.Helper()
	fw, err := xframe.OpenForWrite(t.TempDir(), []string{"v"},
		[]types.Type{types.IntType}, segments)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	per := n / int64(segments)
	row := int64(0)
	for s := 0; s < segments; s++ {
		sink, _ := fw.OutputIterator(s)
		count := per
		if s == segments-1 {
			count = n - row
		}
		for i := int64(0); i < count; i++ {
			_ = sink.AppendRow(xframe.Row{types.NewInt(row)})
			row++
		}
	}
	f, err := fw.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return f
}

func frameInts(t *testing.T, f *xframe.Frame, col int) []int64 {
	t.Helper()
	var rows []xframe.Row
	if _, err := f.ReadRows(0, f.NumRows(), &rows); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r[col].Int()
	}
	return out
}

func TestMaterialize_TrivialSource(t *testing.T) {
	// Scenario: a two-column frame (i, "s{i}") materializes exactly and
	// the optimized plan is a single source afterwards.
	fw, err := xframe.OpenForWrite(t.TempDir(), []string{"i", "s"},
		[]types.Type{types.IntType, types.StringType}, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	row := int64(0)
	for seg := 0; seg < 2; seg++ {
		sink, _ := fw.OutputIterator(seg)
		for i := 0; i < 3; i++ {
			_ = sink.AppendRow(xframe.Row{
				types.NewInt(row), types.NewString(fmt.Sprintf("s%d", row))})
			row++
		}
	}
	f, err := fw.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	node := plan.Source(f)
	out, err := Materialize(node)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out != f {
		t.Error("Expected source materialization to return the frame itself")
	}
	if !plan.IsMaterialized(node) {
		t.Error("Expected plan to be a source after materialization")
	}

	var rows []xframe.Row
	if _, err := out.ReadRows(0, 6, &rows); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, r := range rows {
		if r[0].Int() != int64(i) || r[1].Str() != fmt.Sprintf("s%d", i) {
			t.Errorf("Expected row %d = (%d, s%d), got (%v, %v)", i, i, i, r[0], r[1])
		}
	}
}

func TestMaterialize_Transform(t *testing.T) {
	f := intFrame(t, 1000, 4)
	double := plan.NewTransform(plan.Source(f), func(row xframe.Row) (types.Value, error) {
		return types.NewInt(row[0].Int() * 2), nil
	}, types.IntType)

	out, err := Materialize(double)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 1000 {
		t.Errorf("Expected 1000 rows, got %d", out.NumRows())
	}
	for i, v := range frameInts(t, out, 0) {
		if v != int64(2*i) {
			t.Fatalf("Expected %d at row %d, got %d", 2*i, i, v)
		}
	}
}

func TestMaterialize_EvenIndexFilter(t *testing.T) {
	// Scenario: 20000 ints, mask i%2==0; filtered length is 10000 with
	// first row 0 and last row 19998.
	f := intFrame(t, 20000, 4)
	src := plan.Source(f)
	mask := plan.NewTransform(src, func(row xframe.Row) (types.Value, error) {
		if row[0].Int()%2 == 0 {
			return types.NewInt(1), nil
		}
		return types.NewInt(0), nil
	}, types.IntType)
	filt, err := plan.NewFilter(src, mask)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err := Materialize(filt)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 10000 {
		t.Errorf("Expected 10000 rows, got %d", out.NumRows())
	}
	vals := frameInts(t, out, 0)
	if vals[0] != 0 {
		t.Errorf("Expected first row 0, got %d", vals[0])
	}
	if vals[len(vals)-1] != 19998 {
		t.Errorf("Expected last row 19998, got %d", vals[len(vals)-1])
	}

	// Length inference soundness: once cached, the inferred length must
	// match the materialized row count.
	if l, ok := plan.InferLength(filt); !ok || l != 10000 {
		t.Errorf("Expected cached length 10000, got %d ok=%v", l, ok)
	}
}

func TestMaterialize_FilterLengthIsPopcount(t *testing.T) {
	f := intFrame(t, 997, 3)
	src := plan.Source(f)
	want := int64(0)
	for i := int64(0); i < 997; i++ {
		if i%7 == 0 {
			want++
		}
	}
	mask := plan.NewTransform(src, func(row xframe.Row) (types.Value, error) {
		if row[0].Int()%7 == 0 {
			return types.NewInt(1), nil
		}
		return types.NewInt(0), nil
	}, types.IntType)
	filt, err := plan.NewFilter(src, mask)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err := Materialize(filt)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != want {
		t.Errorf("Expected popcount %d, got %d", want, out.NumRows())
	}
}

func TestMaterialize_UnionAndProject(t *testing.T) {
	f := intFrame(t, 100, 2)
	src := plan.Source(f)
	squared := plan.NewTransform(src, func(row xframe.Row) (types.Value, error) {
		return types.NewInt(row[0].Int() * row[0].Int()), nil
	}, types.IntType)
	u, err := plan.NewUnion(src, squared)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err := Materialize(u)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumColumns() != 2 {
		t.Fatalf("Expected 2 columns, got %d", out.NumColumns())
	}
	var rows []xframe.Row
	if _, err := out.ReadRows(0, 100, &rows); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, r := range rows {
		if r[1].Int() != int64(i*i) {
			t.Fatalf("Expected %d^2 at row %d, got %v", i, i, r[1])
		}
	}
}

func TestMaterialize_AppendVertical(t *testing.T) {
	a := intFrame(t, 30, 2)
	b := intFrame(t, 20, 2)
	ap, err := plan.NewAppend(plan.Source(a), plan.Source(b))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err := Materialize(ap)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 50 {
		t.Fatalf("Expected 50 rows, got %d", out.NumRows())
	}
	vals := frameInts(t, out, 0)
	if vals[29] != 29 || vals[30] != 0 {
		t.Error("Expected b's rows to follow a's")
	}
}

func TestMaterialize_RangeAndSlice(t *testing.T) {
	r, err := plan.Range(1000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	sl, err := plan.NewSlice(r, 100, 200)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err := Materialize(sl)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	vals := frameInts(t, out, 0)
	if len(vals) != 100 || vals[0] != 100 || vals[99] != 199 {
		t.Errorf("Expected ints 100..199, got %d values starting %d", len(vals), vals[0])
	}
}

func TestInferenceSoundness_AcrossOperators(t *testing.T) {
	f := intFrame(t, 123, 3)
	src := plan.Source(f)
	tr := plan.NewTransform(src, func(row xframe.Row) (types.Value, error) {
		return types.NewFloat(float64(row[0].Int())), nil
	}, types.FloatType)
	ap, err := plan.NewAppend(tr, tr)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	inferred, ok := plan.InferLength(ap)
	if !ok {
		t.Fatal("Expected inferable length")
	}
	out, err := Materialize(ap)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != inferred {
		t.Errorf("Expected materialized rows %d to match inferred %d",
			out.NumRows(), inferred)
	}
}

func TestHead_KnownLengthEvaluatesOnlyHeadRows(t *testing.T) {
	// Scenario: a transform over a large frame composed with a small head
	// reads a bounded number of rows per segment.
	var evaluated atomic.Int64
	f := intFrame(t, 1000000, 4)
	tr := plan.NewTransform(plan.Source(f), func(row xframe.Row) (types.Value, error) {
		evaluated.Add(1)
		return types.NewInt(row[0].Int() + 1), nil
	}, types.IntType)

	head, err := Head(tr, 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if head.NumRows() != 10 {
		t.Errorf("Expected 10 rows, got %d", head.NumRows())
	}
	vals := frameInts(t, head, 0)
	for i, v := range vals {
		if v != int64(i)+1 {
			t.Errorf("Expected %d at row %d, got %d", i+1, i, v)
		}
	}

	// Known-length head is an exact slice over [0, 10): only those rows
	// are ever evaluated.
	if n := evaluated.Load(); n > 10 {
		t.Errorf("Expected at most 10 evaluations, got %d", n)
	}
}

func TestHead_UnknownLengthStopsEarly(t *testing.T) {
	var evaluated atomic.Int64
	f := intFrame(t, 1000000, 4)
	src := plan.Source(f)
	mask := plan.NewTransform(src, func(row xframe.Row) (types.Value, error) {
		evaluated.Add(1)
		return types.NewInt(1), nil
	}, types.IntType)
	filt, err := plan.NewFilter(src, mask)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	head, err := Head(filt, 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if head.NumRows() != 10 {
		t.Errorf("Expected 10 rows, got %d", head.NumRows())
	}

	// Each worker reads at most one batch past the stop signal; far less
	// than the million input rows.
	if n := evaluated.Load(); n >= 1000000/10 {
		t.Errorf("Expected early stop to bound evaluation, got %d rows", n)
	}
}

func TestTestEqualLength(t *testing.T) {
	a := intFrame(t, 100, 2)
	b := intFrame(t, 100, 4)
	srcA, srcB := plan.Source(a), plan.Source(b)

	eq, err := TestEqualLength(srcA, srcB)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !eq {
		t.Error("Expected equal lengths")
	}

	// One side needs materialization: a filter keeping everything.
	mask := plan.NewTransform(srcA, func(row xframe.Row) (types.Value, error) {
		return types.NewInt(1), nil
	}, types.IntType)
	filt, err := plan.NewFilter(srcA, mask)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	eq, err = TestEqualLength(filt, srcB)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !eq {
		t.Error("Expected keep-all filter to preserve length")
	}
}

func TestMaterialize_InteriorFilterIsMaterialized(t *testing.T) {
	// A transform above a filter forces interior materialization; results
	// must still be exact.
	f := intFrame(t, 5000, 4)
	src := plan.Source(f)
	mask := plan.NewTransform(src, func(row xframe.Row) (types.Value, error) {
		if row[0].Int()%10 == 0 {
			return types.NewInt(1), nil
		}
		return types.NewInt(0), nil
	}, types.IntType)
	filt, err := plan.NewFilter(src, mask)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	plusOne := plan.NewTransform(filt, func(row xframe.Row) (types.Value, error) {
		return types.NewInt(row[0].Int() + 1), nil
	}, types.IntType)

	out, err := Materialize(plusOne)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 500 {
		t.Fatalf("Expected 500 rows, got %d", out.NumRows())
	}
	vals := frameInts(t, out, 0)
	for i, v := range vals {
		if v != int64(10*i)+1 {
			t.Fatalf("Expected %d at row %d, got %d", 10*i+1, i, v)
		}
	}
}

func TestWorkerPanic_ReRaisedOnDriver(t *testing.T) {
	f := intFrame(t, 100, 2)
	boom := plan.NewTransform(plan.Source(f), func(row xframe.Row) (types.Value, error) {
		if row[0].Int() == 50 {
			panic("operator bug")
		}
		return row[0], nil
	}, types.IntType)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected worker panic to re-raise on the driver")
		}
	}()
	_, _ = Materialize(boom)
}

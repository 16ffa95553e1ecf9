package engine

import (
	"testing"

	"xframe/pkg/aggregation"
	"xframe/pkg/join"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

func numbers(t *testing.T, n int64) *XFrame {
	t.Helper()
	fw, err := xframe.OpenForWrite(t.TempDir(), []string{"v"},
		[]types.Type{types.IntType}, 4)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	per := n / 4
	row := int64(0)
	for s := 0; s < 4; s++ {
		sink, _ := fw.OutputIterator(s)
		count := per
		if s == 3 {
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
	return FromFrame(f)
}

func ints(t *testing.T, x *XFrame, col int) []int64 {
	t.Helper()
	f, err := x.Materialize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
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

func TestLazyPipeline_ApplyFilterHead(t *testing.T) {
	x := numbers(t, 10000)

	squared, err := x.Apply("sq", types.IntType, func(row xframe.Row) (types.Value, error) {
		return types.NewInt(row[0].Int() * row[0].Int()), nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if squared.IsMaterialized() {
		t.Error("Expected apply to stay lazy")
	}

	evens, err := squared.FilterBy(func(row xframe.Row) (bool, error) {
		return row[0].Int()%2 == 0, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	head, err := evens.Head(5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	n, err := head.NumRows()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("Expected 5 rows, got %d", n)
	}
	sq := ints(t, head, 1)
	want := []int64{0, 4, 16, 36, 64}
	for i, w := range want {
		if sq[i] != w {
			t.Errorf("Expected sq %d at row %d, got %d", w, i, sq[i])
		}
	}
}

func TestSelect_ReordersColumns(t *testing.T) {
	x := numbers(t, 10)
	withDouble, err := x.Apply("double", types.IntType, func(row xframe.Row) (types.Value, error) {
		return types.NewInt(2 * row[0].Int()), nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sel, err := withDouble.Select("double", "v")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	names := sel.ColumnNames()
	if names[0] != "double" || names[1] != "v" {
		t.Errorf("Expected [double v], got %v", names)
	}
	d := ints(t, sel, 0)
	if d[3] != 6 {
		t.Errorf("Expected 6, got %d", d[3])
	}
}

func TestAppend_Lazy(t *testing.T) {
	a := numbers(t, 30)
	b := numbers(t, 20)

	combined, err := a.Append(b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	n, err := combined.NumRows()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 50 {
		t.Errorf("Expected 50 rows, got %d", n)
	}
	vals := ints(t, combined, 0)
	if vals[29] != 29 || vals[30] != 0 {
		t.Error("Expected appended order")
	}
}

func TestSort_EndToEnd(t *testing.T) {
	x := numbers(t, 1000)
	neg, err := x.Apply("neg", types.IntType, func(row xframe.Row) (types.Value, error) {
		return types.NewInt(-row[0].Int()), nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sorted, err := neg.Sort([]string{"neg"}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	v := ints(t, sorted, 0)
	if v[0] != 999 || v[999] != 0 {
		t.Errorf("Expected descending v via ascending neg, got %d..%d", v[0], v[999])
	}
	if sorted.ColumnNames()[1] != "neg" {
		t.Errorf("Expected names preserved, got %v", sorted.ColumnNames())
	}
}

func TestGroupByJoin_EndToEnd(t *testing.T) {
	x := numbers(t, 100)
	mod, err := x.Apply("m", types.IntType, func(row xframe.Row) (types.Value, error) {
		return types.NewInt(row[0].Int() % 3), nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	grouped, err := mod.GroupBy([]string{"m"}, []aggregation.Request{
		{Op: aggregation.Count(), OutName: "n"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gn, err := grouped.NumRows()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gn != 3 {
		t.Fatalf("Expected 3 groups, got %d", gn)
	}

	joined, err := mod.Join(grouped, join.Inner, []join.Key{{Left: "m", Right: "m"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	jn, err := joined.NumRows()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if jn != 100 {
		t.Errorf("Expected 100 joined rows, got %d", jn)
	}
}

func TestShuffleRows_PermutesDeterministically(t *testing.T) {
	x := numbers(t, 2000)

	a, err := x.ShuffleRows(5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	b, err := x.ShuffleRows(5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	va, vb := ints(t, a, 0), ints(t, b, 0)
	if len(va) != 2000 {
		t.Fatalf("Expected 2000 rows, got %d", len(va))
	}

	seen := make([]bool, 2000)
	moved := 0
	for i, v := range va {
		if seen[v] {
			t.Fatalf("Expected each row once, saw %d twice", v)
		}
		seen[v] = true
		if v != int64(i) {
			moved++
		}
		if va[i] != vb[i] {
			t.Fatal("Expected identical shuffle for identical seed")
		}
	}
	if moved < 1000 {
		t.Errorf("Expected most rows displaced, only %d moved", moved)
	}
}

func TestSaveLoad_ArchiveRoundTrip(t *testing.T) {
	x := numbers(t, 50)
	dir := t.TempDir()

	if err := x.Save(dir); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	n, err := loaded.NumRows()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 50 {
		t.Errorf("Expected 50 rows, got %d", n)
	}
	v := ints(t, loaded, 0)
	for i := range v {
		if v[i] != int64(i) {
			t.Fatalf("Expected %d at row %d, got %d", i, i, v[i])
		}
	}
}

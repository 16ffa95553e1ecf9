package aggregation

import (
	"testing"

	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// salesFrame builds (city, amount) rows for groupby tests.
func salesFrame(t *testing.T) *xframe.Frame {
	t.Helper()
	fw, err := xframe.OpenForWrite(t.TempDir(), []string{"city", "amount"},
		[]types.Type{types.StringType, types.IntType}, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	data := []struct {
		city   string
		amount int64
	}{
		{"ams", 10}, {"ber", 5}, {"ams", 20}, {"cdg", 7},
		{"ber", 15}, {"ams", 30}, {"cdg", 3},
	}
	half := len(data) / 2
	for seg := 0; seg < 2; seg++ {
		sink, _ := fw.OutputIterator(seg)
		from, to := 0, half
		if seg == 1 {
			from, to = half, len(data)
		}
		for _, d := range data[from:to] {
			_ = sink.AppendRow(xframe.Row{
				types.NewString(d.city), types.NewInt(d.amount)})
		}
	}
	f, err := fw.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return f
}

// resultMap reads a groupby output into city -> row.
func resultMap(t *testing.T, f *xframe.Frame) map[string]xframe.Row {
	t.Helper()
	var rows []xframe.Row
	if _, err := f.ReadRows(0, f.NumRows(), &rows); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := make(map[string]xframe.Row, len(rows))
	for _, r := range rows {
		out[r[0].Str()] = r
	}
	return out
}

func TestGroupByAggregate_CountSumAvg(t *testing.T) {
	f := salesFrame(t)

	out, err := GroupByAggregate(f, []string{"city"}, []Request{
		{Op: Count(), OutName: "n"},
		{Op: Sum(), Column: "amount", OutName: "total"},
		{Op: Avg(), Column: "amount", OutName: "mean"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 3 {
		t.Fatalf("Expected 3 groups, got %d", out.NumRows())
	}

	got := resultMap(t, out)
	ams := got["ams"]
	if ams[1].Int() != 3 || ams[2].Int() != 60 || ams[3].Float() != 20 {
		t.Errorf("Expected ams (3, 60, 20), got (%v, %v, %v)", ams[1], ams[2], ams[3])
	}
	ber := got["ber"]
	if ber[1].Int() != 2 || ber[2].Int() != 20 {
		t.Errorf("Expected ber (2, 20), got (%v, %v)", ber[1], ber[2])
	}
	cdg := got["cdg"]
	if cdg[1].Int() != 2 || cdg[2].Int() != 10 {
		t.Errorf("Expected cdg (2, 10), got (%v, %v)", cdg[1], cdg[2])
	}
}

func TestGroupByAggregate_MinMax(t *testing.T) {
	f := salesFrame(t)

	out, err := GroupByAggregate(f, []string{"city"}, []Request{
		{Op: Min(), Column: "amount", OutName: "lo"},
		{Op: Max(), Column: "amount", OutName: "hi"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got := resultMap(t, out)
	if got["ams"][1].Int() != 10 || got["ams"][2].Int() != 30 {
		t.Errorf("Expected ams (10, 30), got (%v, %v)", got["ams"][1], got["ams"][2])
	}
}

func TestGroupByAggregate_NAKeysGroupTogether(t *testing.T) {
	fw, err := xframe.OpenForWrite(t.TempDir(), []string{"k", "v"},
		[]types.Type{types.StringType, types.IntType}, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	sink, _ := fw.OutputIterator(0)
	_ = sink.AppendRow(xframe.Row{types.NA(), types.NewInt(1)})
	_ = sink.AppendRow(xframe.Row{types.NewString("a"), types.NewInt(2)})
	_ = sink.AppendRow(xframe.Row{types.NA(), types.NewInt(3)})
	f, err := fw.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err := GroupByAggregate(f, []string{"k"}, []Request{
		{Op: Count(), OutName: "n"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 2 {
		t.Fatalf("Expected 2 groups (NA groups with itself), got %d", out.NumRows())
	}

	var rows []xframe.Row
	if _, err := out.ReadRows(0, 2, &rows); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, r := range rows {
		if r[0].IsNA() && r[1].Int() != 2 {
			t.Errorf("Expected NA group of 2, got %v", r[1])
		}
	}
}

func TestAggregatorStates_Combine(t *testing.T) {
	a := Sum().NewState()
	b := Sum().NewState()
	_ = a.AddRow(types.NewInt(5))
	_ = b.AddRow(types.NewInt(7))
	_ = b.AddRow(types.NA())

	if err := a.Combine(b); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := a.Finalize(); got.Int() != 12 {
		t.Errorf("Expected combined sum 12, got %v", got)
	}

	m := Min().NewState()
	if !m.Finalize().IsNA() {
		t.Error("Expected NA for an empty min state")
	}
}

func TestSum_MixedIntFloatPromotes(t *testing.T) {
	s := Sum().NewState()
	_ = s.AddRow(types.NewInt(1))
	_ = s.AddRow(types.NewFloat(0.5))

	got := s.Finalize()
	if got.Tag() != types.FloatType || got.Float() != 1.5 {
		t.Errorf("Expected float 1.5, got %v", got)
	}
}

package extsort

import (
	"math/rand"
	"testing"

	"xframe/pkg/config"
	"xframe/pkg/plan"
	"xframe/pkg/sarray"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// keyedFrame builds a frame with columns "k" (the given keys) and "pos"
// (the input position).
func keyedFrame(t *testing.T, keys []types.Value, segments int) *xframe.Frame {
	t.Helper()
	fw, err := xframe.OpenForWrite(t.TempDir(), []string{"k", "pos"},
		[]types.Type{keyType(keys), types.IntType}, segments)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	per := len(keys) / segments
	row := 0
	for s := 0; s < segments; s++ {
		sink, _ := fw.OutputIterator(s)
		count := per
		if s == segments-1 {
			count = len(keys) - row
		}
		for i := 0; i < count; i++ {
			_ = sink.AppendRow(xframe.Row{keys[row], types.NewInt(int64(row))})
			row++
		}
	}
	f, err := fw.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return f
}

func keyType(keys []types.Value) types.Type {
	for _, k := range keys {
		if !k.IsNA() {
			return k.Tag()
		}
	}
	return types.IntType
}

func readPairs(t *testing.T, f *xframe.Frame) ([]types.Value, []int64) {
	t.Helper()
	var rows []xframe.Row
	if _, err := f.ReadRows(0, f.NumRows(), &rows); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	keys := make([]types.Value, len(rows))
	pos := make([]int64, len(rows))
	for i, r := range rows {
		keys[i] = r[0]
		pos[i] = r[1].Int()
	}
	return keys, pos
}

func TestSort_TiesStableInInputOrder(t *testing.T) {
	// Scenario: keys [3 1 3 2 3] ascending sort to [1 2 3 3 3] with the
	// three 3-keyed rows keeping their relative input order.
	keys := []types.Value{
		types.NewInt(3), types.NewInt(1), types.NewInt(3),
		types.NewInt(2), types.NewInt(3),
	}
	f := keyedFrame(t, keys, 2)

	out, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	gotKeys, gotPos := readPairs(t, out)
	wantKeys := []int64{1, 2, 3, 3, 3}
	for i, k := range gotKeys {
		if k.Int() != wantKeys[i] {
			t.Errorf("Expected key %d at row %d, got %v", wantKeys[i], i, k)
		}
	}
	// Input positions of the 3-keyed rows were 0, 2, 4.
	if gotPos[2] != 0 || gotPos[3] != 2 || gotPos[4] != 4 {
		t.Errorf("Expected stable tie order [0 2 4], got %v", gotPos[2:])
	}
}

func TestSort_TotalOrderLargeRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	keys := make([]types.Value, 20000)
	for i := range keys {
		keys[i] = types.NewInt(int64(rng.Intn(500)))
	}
	f := keyedFrame(t, keys, 4)

	out, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 20000 {
		t.Fatalf("Expected 20000 rows, got %d", out.NumRows())
	}

	gotKeys, gotPos := readPairs(t, out)
	for i := 1; i < len(gotKeys); i++ {
		c := gotKeys[i-1].Compare(gotKeys[i])
		if c > 0 {
			t.Fatalf("Expected non-decreasing keys at %d: %v > %v",
				i, gotKeys[i-1], gotKeys[i])
		}
		if c == 0 && gotPos[i-1] >= gotPos[i] {
			t.Fatalf("Expected stable order within equal keys at %d", i)
		}
	}
}

func TestSort_PartitionedPath(t *testing.T) {
	// Shrink the sort buffer so the partitioned path runs.
	defer config.Set(config.Default())
	config.Update(func(s *config.Settings) { s.SortBufferSize = 1 << 12 })

	rng := rand.New(rand.NewSource(9))
	keys := make([]types.Value, 30000)
	for i := range keys {
		keys[i] = types.NewInt(int64(rng.Intn(10000)))
	}
	f := keyedFrame(t, keys, 4)

	out, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.NumRows() != 30000 {
		t.Fatalf("Expected 30000 rows, got %d", out.NumRows())
	}
	if out.NumSegments() < 2 {
		t.Errorf("Expected multiple partitions, got %d segments", out.NumSegments())
	}

	gotKeys, gotPos := readPairs(t, out)
	for i := 1; i < len(gotKeys); i++ {
		c := gotKeys[i-1].Compare(gotKeys[i])
		if c > 0 {
			t.Fatalf("Expected non-decreasing keys at %d", i)
		}
		if c == 0 && gotPos[i-1] >= gotPos[i] {
			t.Fatalf("Expected stable order within equal keys at %d", i)
		}
	}
}

func TestSort_Descending(t *testing.T) {
	keys := []types.Value{
		types.NewInt(1), types.NewInt(5), types.NewInt(3), types.NA(),
	}
	f := keyedFrame(t, keys, 1)

	out, err := Sort(plan.Source(f), []int{0}, []bool{false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gotKeys, _ := readPairs(t, out)
	if gotKeys[0].Int() != 5 || gotKeys[1].Int() != 3 || gotKeys[2].Int() != 1 {
		t.Errorf("Expected descending [5 3 1 NA], got %v", gotKeys)
	}
	if !gotKeys[3].IsNA() {
		t.Error("Expected NA last under descending order")
	}
}

func TestSort_NASmallestAscending(t *testing.T) {
	keys := []types.Value{types.NewInt(2), types.NA(), types.NewInt(1)}
	f := keyedFrame(t, keys, 1)

	out, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gotKeys, _ := readPairs(t, out)
	if !gotKeys[0].IsNA() {
		t.Error("Expected NA first under ascending order")
	}
	if gotKeys[1].Int() != 1 || gotKeys[2].Int() != 2 {
		t.Errorf("Expected [NA 1 2], got %v", gotKeys)
	}
}

func TestSort_IntFloatNumericOrder(t *testing.T) {
	keys := []types.Value{
		types.NewFloat(2.5), types.NewInt(2), types.NewInt(3), types.NewFloat(2.0),
	}
	f := keyedFrame(t, keys, 1)

	out, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gotKeys, gotPos := readPairs(t, out)
	// Numeric order: 2 == 2.0 < 2.5 < 3; the equal pair keeps input order
	// (int 2 at position 1 precedes float 2.0 at position 3).
	if gotPos[0] != 1 || gotPos[1] != 3 {
		t.Errorf("Expected numeric tie order [1 3], got %v", gotPos[:2])
	}
	if gotKeys[2].Float() != 2.5 || gotKeys[3].Int() != 3 {
		t.Errorf("Expected [2 2.0 2.5 3], got %v", gotKeys)
	}
}

func TestSort_AllEqualSampleShortCircuits(t *testing.T) {
	keys := make([]types.Value, 100)
	for i := range keys {
		keys[i] = types.NewInt(7)
	}
	f := keyedFrame(t, keys, 2)

	out, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out != f {
		t.Error("Expected the input frame back for an all-equal key")
	}
}

func TestSort_DeterministicForUniqueKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	perm := rng.Perm(5000)
	keys := make([]types.Value, len(perm))
	for i, v := range perm {
		keys[i] = types.NewInt(int64(v))
	}
	f := keyedFrame(t, keys, 4)

	first, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, err := Sort(plan.Source(f), []int{0}, []bool{true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	_, posA := readPairs(t, first)
	_, posB := readPairs(t, second)
	for i := range posA {
		if posA[i] != posB[i] {
			t.Fatalf("Expected identical ordering at row %d: %d vs %d",
				i, posA[i], posB[i])
		}
	}
}

func TestSort_CompositeKey(t *testing.T) {
	fw, err := xframe.OpenForWrite(t.TempDir(), []string{"a", "b", "pos"},
		[]types.Type{types.IntType, types.StringType, types.IntType}, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	sink, _ := fw.OutputIterator(0)
	data := []struct {
		a int64
		b string
	}{{2, "x"}, {1, "z"}, {2, "a"}, {1, "a"}}
	for i, d := range data {
		_ = sink.AppendRow(xframe.Row{
			types.NewInt(d.a), types.NewString(d.b), types.NewInt(int64(i))})
	}
	f, err := fw.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// a ascending, b descending.
	out, err := Sort(plan.Source(f), []int{0, 1}, []bool{true, false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var rows []xframe.Row
	if _, err := out.ReadRows(0, 4, &rows); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []struct {
		a int64
		b string
	}{{1, "z"}, {1, "a"}, {2, "x"}, {2, "a"}}
	for i, w := range want {
		if rows[i][0].Int() != w.a || rows[i][1].Str() != w.b {
			t.Errorf("Expected (%d, %s) at row %d, got (%v, %v)",
				w.a, w.b, i, rows[i][0], rows[i][1])
		}
	}
}

func TestPermuteFrame_ForwardMap(t *testing.T) {
	keys := []types.Value{
		types.NewInt(10), types.NewInt(20), types.NewInt(30), types.NewInt(40),
	}
	f := keyedFrame(t, keys, 1)

	// Forward map: row i goes to position m[i].
	m, err := sarray.WriteAll(t.TempDir(), types.IntType, []types.Value{
		types.NewInt(2), types.NewInt(0), types.NewInt(3), types.NewInt(1),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err := PermuteFrame(f, m)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gotKeys, _ := readPairs(t, out)
	want := []int64{20, 40, 10, 30}
	for i, w := range want {
		if gotKeys[i].Int() != w {
			t.Errorf("Expected %d at position %d, got %v", w, i, gotKeys[i])
		}
	}
}

func TestPermuteFrame_DebugValidation(t *testing.T) {
	defer config.Set(config.Default())
	config.Update(func(s *config.Settings) { s.DebugChecks = true })

	keys := []types.Value{types.NewInt(1), types.NewInt(2)}
	f := keyedFrame(t, keys, 1)

	// Not a permutation: position 0 hit twice.
	m, err := sarray.WriteAll(t.TempDir(), types.IntType, []types.Value{
		types.NewInt(0), types.NewInt(0),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := PermuteFrame(f, m); err == nil {
		t.Error("Expected duplicate position to fail under debug checks")
	}
}

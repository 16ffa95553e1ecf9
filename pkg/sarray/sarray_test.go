package sarray

import (
	"sync"
	"testing"

	"xframe/pkg/types"
)

// writeInts writes ints [0, n) spread across the given number of segments.
func writeInts(t *testing.T, dir string, n, segments int) *Column {
	t.Helper()
	w, err := OpenForWrite(dir, types.IntType, segments)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	per := n / segments
	row := 0
	for s := 0; s < segments; s++ {
		sink, err := w.OutputIterator(s)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		count := per
		if s == segments-1 {
			count = n - row
		}
		for i := 0; i < count; i++ {
			if err := sink.Append(types.NewInt(int64(row))); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			row++
		}
	}
	col, err := w.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return col
}

func TestWriteRead_RoundTrip(t *testing.T) {
	col := writeInts(t, t.TempDir(), 10000, 4)

	if col.Len() != 10000 {
		t.Errorf("Expected length 10000, got %d", col.Len())
	}
	if col.NumSegments() != 4 {
		t.Errorf("Expected 4 segments, got %d", col.NumSegments())
	}

	values, err := col.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, v := range values {
		if v.Int() != int64(i) {
			t.Fatalf("Expected %d at row %d, got %v", i, i, v)
		}
	}
}

func TestOpen_ReloadsFromIndex(t *testing.T) {
	col := writeInts(t, t.TempDir(), 500, 2)

	reloaded, err := Open(col.IndexPath())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if reloaded.Len() != col.Len() {
		t.Errorf("Expected length %d, got %d", col.Len(), reloaded.Len())
	}
	if reloaded.Type() != types.IntType {
		t.Errorf("Expected int type, got %v", reloaded.Type())
	}

	values, err := reloaded.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(values) != 500 || values[499].Int() != 499 {
		t.Error("Expected identical content after reload")
	}
}

func TestReadRows_ClampsPastEnd(t *testing.T) {
	col := writeInts(t, t.TempDir(), 100, 1)
	r, err := col.Reader(nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	var out []types.Value
	n, err := r.ReadRows(90, 200, &out)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 10 {
		t.Errorf("Expected 10 rows, got %d", n)
	}

	out = out[:0]
	n, err = r.ReadRows(150, 200, &out)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 rows past the end, got %d", n)
	}
}

func TestReader_Resegmentation(t *testing.T) {
	col := writeInts(t, t.TempDir(), 1000, 3)

	r, err := col.Reader([]int64{100, 800, 100})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	if r.NumSegments() != 3 {
		t.Errorf("Expected 3 reader segments, got %d", r.NumSegments())
	}
	begin, end, err := r.SegmentRange(1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if begin != 100 || end != 900 {
		t.Errorf("Expected range [100, 900), got [%d, %d)", begin, end)
	}

	if _, err := col.Reader([]int64{1, 2}); err == nil {
		t.Error("Expected error for resegmentation not summing to length")
	}
}

func TestSegmentIter_ExactlyOnceCoverage(t *testing.T) {
	col := writeInts(t, t.TempDir(), 3000, 4)
	r, err := col.Reader(nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	seen := make([]bool, 3000)
	for s := 0; s < r.NumSegments(); s++ {
		it, err := r.SegmentIter(s)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		for {
			v, ok, err := it.Next()
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !ok {
				break
			}
			if seen[v.Int()] {
				t.Fatalf("Expected row %d exactly once", v.Int())
			}
			seen[v.Int()] = true
		}
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("Expected row %d to be covered", i)
		}
	}
}

func TestReaders_Concurrent(t *testing.T) {
	col := writeInts(t, t.TempDir(), 5000, 2)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := col.Reader(nil)
			if err != nil {
				errCh <- err
				return
			}
			defer r.Close()
			var out []types.Value
			if _, err := r.ReadRows(0, col.Len(), &out); err != nil {
				errCh <- err
				return
			}
			for i, v := range out {
				if v.Int() != int64(i) {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("Unexpected concurrent read failure: %v", err)
	}
}

func TestColumn_ImmutableAcrossReaderConstruction(t *testing.T) {
	col := writeInts(t, t.TempDir(), 200, 2)

	before, err := col.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Construct and use several readers, including resegmented ones.
	for _, seg := range [][]int64{nil, {200}, {50, 150}} {
		r, err := col.Reader(seg)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		var out []types.Value
		if _, err := r.ReadRows(0, 200, &out); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		r.Close()
	}

	after, err := col.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i := range before {
		if !before[i].Equals(after[i]) {
			t.Fatalf("Expected content unchanged at row %d", i)
		}
	}
}

func TestConcat_ReferencesWithoutCopy(t *testing.T) {
	dir := t.TempDir()
	a := writeInts(t, dir, 100, 2)
	b := writeInts(t, dir, 50, 1)

	col, err := Concat(dir, a, b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if col.Len() != 150 {
		t.Errorf("Expected length 150, got %d", col.Len())
	}
	if col.NumSegments() != 3 {
		t.Errorf("Expected 3 segments, got %d", col.NumSegments())
	}

	values, err := col.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if values[99].Int() != 99 || values[100].Int() != 0 {
		t.Error("Expected b's rows to follow a's")
	}
}

func TestConcat_TypeMismatch(t *testing.T) {
	dir := t.TempDir()
	a := writeInts(t, dir, 10, 1)
	w, _ := OpenForWrite(dir, types.StringType, 1)
	sink, _ := w.OutputIterator(0)
	_ = sink.Append(types.NewString("x"))
	b, err := w.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := Concat(dir, a, b); err == nil {
		t.Error("Expected schema mismatch error")
	}
}

package sarray

import (
	"testing"

	"xframe/pkg/config"
	"xframe/pkg/types"
)

// writeTinySegments writes one block per segment so every segment is small.
func writeTinySegments(t *testing.T, dir string, segments int) *Column {
	t.Helper()
	w, err := OpenForWrite(dir, types.IntType, segments)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for s := 0; s < segments; s++ {
		sink, err := w.OutputIterator(s)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if err := sink.Append(types.NewInt(int64(s))); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	col, err := w.Close()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return col
}

func TestFastCompact_MergesSmallRuns(t *testing.T) {
	col := writeTinySegments(t, t.TempDir(), 128)

	before, err := col.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	compacted, didWork, err := FastCompact(col)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !didWork {
		t.Fatal("Expected compaction to do work")
	}
	if compacted.NumSegments() >= col.NumSegments() {
		t.Errorf("Expected fewer segments, got %d >= %d",
			compacted.NumSegments(), col.NumSegments())
	}

	after, err := compacted.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("Expected %d rows, got %d", len(before), len(after))
	}
	for i := range before {
		if !before[i].Equals(after[i]) {
			t.Fatalf("Expected identical content at row %d: %v vs %v",
				i, before[i], after[i])
		}
	}
}

func TestFastCompact_NoWorkOnLargeSegments(t *testing.T) {
	// Segments with many blocks are never "small".
	defer config.Set(config.Default())
	config.Update(func(s *config.Settings) { s.FastCompactBlocksInSmallSegment = 1 })

	col := writeTinySegments(t, t.TempDir(), 16)
	same, didWork, err := FastCompact(col)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if didWork {
		t.Error("Expected no work below the block threshold")
	}
	if same != col {
		t.Error("Expected the original column back")
	}
}

func TestRewrite_TargetSegments(t *testing.T) {
	col := writeTinySegments(t, t.TempDir(), 128)

	rewritten, err := Rewrite(col, 8)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rewritten.NumSegments() != 8 {
		t.Errorf("Expected 8 segments, got %d", rewritten.NumSegments())
	}
	if rewritten.Len() != col.Len() {
		t.Errorf("Expected length %d, got %d", col.Len(), rewritten.Len())
	}

	values, err := rewritten.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, v := range values {
		if v.Int() != int64(i) {
			t.Fatalf("Expected %d at row %d, got %v", i, i, v)
		}
	}
}

func TestCompactScenario_128To8(t *testing.T) {
	// A column written with 128 one-block segments compacted to a target of
	// 8 segments keeps its content.
	col := writeTinySegments(t, t.TempDir(), 128)

	compacted, _, err := FastCompact(col)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if compacted.NumSegments() > 8 {
		compacted, err = Rewrite(compacted, 8)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if compacted.NumSegments() > 8 {
		t.Errorf("Expected at most 8 segments, got %d", compacted.NumSegments())
	}
	values, err := compacted.ReadAll()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(values) != 128 {
		t.Fatalf("Expected 128 rows, got %d", len(values))
	}
	for i, v := range values {
		if v.Int() != int64(i) {
			t.Fatalf("Expected %d at row %d, got %v", i, i, v)
		}
	}
}

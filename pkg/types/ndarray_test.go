package types

import (
	"testing"
)

func TestNewDenseNDArray_ShapeMismatch(t *testing.T) {
	if _, err := NewDenseNDArray([]float64{1, 2, 3}, []int{2, 2}); err == nil {
		t.Error("Expected error for buffer/shape mismatch")
	}
	if _, err := NewDenseNDArray(nil, []int{0}); err == nil {
		t.Error("Expected error for non-positive dimension")
	}
}

func TestNDArray_AtAndCanonicalFlag(t *testing.T) {
	nd, err := NewDenseNDArray([]float64{1, 2, 3, 4, 5, 6}, []int{2, 3})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !nd.IsCanonical() {
		t.Error("Expected dense array to be canonical")
	}
	// Strides are [1, 2]: first dimension fastest.
	if got := nd.At([]int{1, 2}); got != 6 {
		t.Errorf("Expected element 6 at [1 2], got %g", got)
	}
	if got := nd.At([]int{0, 1}); got != 3 {
		t.Errorf("Expected element 3 at [0 1], got %g", got)
	}
}

func TestCompact_DropsSlackKeepsStrideOrder(t *testing.T) {
	// A 2x2 view starting at offset 1 inside a larger buffer, with the
	// second dimension fastest (stride order reversed from canonical).
	view := &NDArray{
		Elements: []float64{99, 10, 11, 20, 21, 98},
		Shape:    []int{2, 2},
		Stride:   []int{2, 1},
		Start:    1,
	}

	c := view.Compact()
	if c.Start != 0 {
		t.Errorf("Expected zero start, got %d", c.Start)
	}
	if len(c.Elements) != 4 {
		t.Errorf("Expected 4 elements, got %d", len(c.Elements))
	}
	if c.Stride[0] <= c.Stride[1] {
		t.Error("Expected original stride ranking preserved")
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if view.At([]int{i, j}) != c.At([]int{i, j}) {
				t.Errorf("Expected same element at [%d %d]: %g vs %g",
					i, j, view.At([]int{i, j}), c.At([]int{i, j}))
			}
		}
	}
}

func TestCanonicalize_SortsStrides(t *testing.T) {
	view := &NDArray{
		Elements: []float64{10, 11, 20, 21},
		Shape:    []int{2, 2},
		Stride:   []int{2, 1},
	}

	c := view.Canonicalize()
	if !c.IsCanonical() {
		t.Error("Expected canonical result")
	}
	// Canonicalize permutes dimensions, so index order swaps.
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if view.At([]int{i, j}) != c.At([]int{j, i}) {
				t.Errorf("Expected permuted element match at [%d %d]", i, j)
			}
		}
	}
}

func TestNDArrayValue_EqualityViaCompact(t *testing.T) {
	dense, err := NewDenseNDArray([]float64{10, 20, 11, 21}, []int{2, 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// Same logical content expressed as a strided view over a padded buffer.
	view := &NDArray{
		Elements: []float64{0, 10, 11, 20, 21},
		Shape:    []int{2, 2},
		Stride:   []int{2, 1},
		Start:    1,
	}

	// dense At([i j]) = buffer[i + 2j]; view At([i j]) = buffer[1 + 2i + j].
	// dense: [0 0]=10 [1 0]=20 [0 1]=11 [1 1]=21; view matches.
	if !NewNDArray(dense).Equals(NewNDArray(view)) {
		t.Error("Expected logically equal arrays to compare equal")
	}
	if NewNDArray(dense).Hash() != NewNDArray(view).Hash() {
		t.Error("Expected logically equal arrays to hash alike")
	}
}

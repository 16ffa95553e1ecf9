package types

import "testing"

func TestCompareKeys_AscendingFlags(t *testing.T) {
	asc := []bool{true, false}

	a := []Value{NewInt(1), NewInt(5)}
	b := []Value{NewInt(1), NewInt(9)}

	// Second component descending: 9 sorts before 5.
	if CompareKeys(a, b, asc) != 1 {
		t.Error("Expected descending component to invert comparison")
	}
	if CompareKeys(b, a, asc) != -1 {
		t.Error("Expected inverse result when swapped")
	}
}

func TestCompareKeys_FirstComponentWins(t *testing.T) {
	asc := []bool{true, true}

	a := []Value{NewInt(1), NewInt(100)}
	b := []Value{NewInt(2), NewInt(0)}

	if CompareKeys(a, b, asc) != -1 {
		t.Error("Expected first key component to dominate")
	}
}

func TestCompareKeys_NADescendingLargest(t *testing.T) {
	asc := []bool{false}

	if CompareKeys([]Value{NA()}, []Value{NewInt(0)}, asc) != 1 {
		t.Error("Expected NA largest under descending order")
	}
}

func TestKeysEqual(t *testing.T) {
	if !KeysEqual([]Value{NewInt(1), NewString("a")}, []Value{NewFloat(1.0), NewString("a")}) {
		t.Error("Expected numeric equality inside keys")
	}
	if KeysEqual([]Value{NewInt(1)}, []Value{NewInt(1), NewInt(2)}) {
		t.Error("Expected different widths to be unequal")
	}
}

func TestHashKey_OrderSensitive(t *testing.T) {
	a := HashKey([]Value{NewInt(1), NewInt(2)})
	b := HashKey([]Value{NewInt(2), NewInt(1)})

	if a == b {
		t.Error("Expected key hash to be order sensitive")
	}
	if HashKey([]Value{NewInt(1), NewInt(2)}) != a {
		t.Error("Expected key hash to be deterministic")
	}
}

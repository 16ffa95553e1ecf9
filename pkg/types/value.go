package types

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DictEntry is one key/value pair of a dict Value. Entries keep their
// insertion order; two dicts are equal only if their entries match pairwise.
type DictEntry struct {
	Key Value
	Val Value
}

// Value is the tagged scalar stored in every column cell.
//
// The zero Value is NA (UndefinedType). Values are immutable by convention:
// the engine never mutates a payload after construction, so Values can be
// shared freely across rows, batches, and goroutines.
type Value struct {
	tag Type

	i    int64 // IntType payload; DateTimeType microseconds since epoch
	f    float64
	s    string
	vec  []float64
	list []Value
	dict []DictEntry
	nd   *NDArray

	// off is the DateTimeType UTC offset in 30-minute units.
	off int16
}

// NA returns the missing value.
func NA() Value {
	return Value{}
}

// NewInt creates an integer Value.
func NewInt(v int64) Value {
	return Value{tag: IntType, i: v}
}

// NewFloat creates a float Value.
func NewFloat(v float64) Value {
	return Value{tag: FloatType, f: v}
}

// NewString creates a string Value.
func NewString(v string) Value {
	return Value{tag: StringType, s: v}
}

// NewVector creates a float64 vector Value. The slice is owned by the Value
// after the call.
func NewVector(v []float64) Value {
	return Value{tag: VectorType, vec: v}
}

// NewList creates a recursive list Value.
func NewList(v []Value) Value {
	return Value{tag: ListType, list: v}
}

// NewDict creates a dict Value from entries in insertion order.
func NewDict(entries []DictEntry) Value {
	return Value{tag: DictType, dict: entries}
}

// NewDateTime creates a datetime Value from t, truncated to microseconds.
// The zone offset of t is kept in 30-minute units.
func NewDateTime(t time.Time) Value {
	_, secs := t.Zone()
	return Value{
		tag: DateTimeType,
		i:   t.UnixMicro(),
		off: int16(secs / 1800),
	}
}

// NewNDArray creates an nd-array Value.
func NewNDArray(nd *NDArray) Value {
	return Value{tag: NDArrayType, nd: nd}
}

// Tag returns the type tag of this value.
func (v Value) Tag() Type {
	return v.tag
}

// IsNA reports whether this value is missing. A float NaN is not NA for this
// test, but sorts and hashes together with NA.
func (v Value) IsNA() bool {
	return v.tag == UndefinedType
}

// Int returns the integer payload. Calling an accessor for the wrong tag is
// an invariant violation.
func (v Value) Int() int64 {
	v.mustBe(IntType)
	return v.i
}

// Float returns the float payload.
func (v Value) Float() float64 {
	v.mustBe(FloatType)
	return v.f
}

// Str returns the string payload.
func (v Value) Str() string {
	v.mustBe(StringType)
	return v.s
}

// Vector returns the vector payload. Callers must not mutate it.
func (v Value) Vector() []float64 {
	v.mustBe(VectorType)
	return v.vec
}

// List returns the list payload. Callers must not mutate it.
func (v Value) List() []Value {
	v.mustBe(ListType)
	return v.list
}

// Dict returns the dict entries. Callers must not mutate them.
func (v Value) Dict() []DictEntry {
	v.mustBe(DictType)
	return v.dict
}

// Time returns the datetime payload in its stored zone.
func (v Value) Time() time.Time {
	v.mustBe(DateTimeType)
	loc := time.FixedZone("", int(v.off)*1800)
	return time.UnixMicro(v.i).In(loc)
}

// NDArray returns the nd-array payload.
func (v Value) NDArray() *NDArray {
	v.mustBe(NDArrayType)
	return v.nd
}

// AsFloat returns a numeric value as float64; the second return is false for
// non-numeric values.
func (v Value) AsFloat() (float64, bool) {
	switch v.tag {
	case IntType:
		return float64(v.i), true
	case FloatType:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) mustBe(t Type) {
	if v.tag != t {
		panic(fmt.Sprintf("value accessor for %v used on %v", t, v.tag))
	}
}

// isOrderedNA reports whether v takes the NA position in the sort order:
// true for undefined and for float NaN.
func (v Value) isOrderedNA() bool {
	return v.tag == UndefinedType || (v.tag == FloatType && math.IsNaN(v.f))
}

// orderClass buckets values for cross-type ordering. Values in different
// classes order by class; values in the same class compare payload-wise.
func (v Value) orderClass() int {
	if v.isOrderedNA() {
		return 0
	}
	switch v.tag {
	case IntType, FloatType:
		return 1
	case StringType:
		return 2
	case VectorType:
		return 3
	case ListType:
		return 4
	case DictType:
		return 5
	case DateTimeType:
		return 6
	case NDArrayType:
		return 7
	}
	return 8
}

// Equals reports value equality. An integer compares equal to a float iff
// the numeric values match; NA equals only NA.
func (v Value) Equals(other Value) bool {
	return v.Compare(other) == 0
}

// Compare establishes the engine's total order over values and returns
// -1, 0, or 1.
//
// NA is the smallest value and equal to itself; float NaN sorts together
// with NA. Integers and floats compare numerically. Values of different
// non-numeric kinds order by a fixed kind ranking, so any mix of values has
// a deterministic sort order.
func (v Value) Compare(other Value) int {
	ca, cb := v.orderClass(), other.orderClass()
	if ca != cb {
		return cmpInt(int64(ca), int64(cb))
	}

	switch ca {
	case 0:
		return 0
	case 1:
		if v.tag == IntType && other.tag == IntType {
			return cmpInt(v.i, other.i)
		}
		a, _ := v.AsFloat()
		b, _ := other.AsFloat()
		return cmpFloat(a, b)
	}

	switch v.tag {
	case StringType:
		return strings.Compare(v.s, other.s)
	case VectorType:
		return cmpVector(v.vec, other.vec)
	case ListType:
		return cmpList(v.list, other.list)
	case DictType:
		return cmpDict(v.dict, other.dict)
	case DateTimeType:
		return cmpInt(v.i, other.i)
	case NDArrayType:
		return cmpNDArray(v.nd, other.nd)
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpVector(a, b []float64) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := cmpFloat(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

func cmpList(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

func cmpDict(a, b []DictEntry) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := a[i].Key.Compare(b[i].Key); c != 0 {
			return c
		}
		if c := a[i].Val.Compare(b[i].Val); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

// cmpNDArray compares shape first, then elements index-wise in row-major
// order (last dimension fastest). Stride layout never affects the outcome.
func cmpNDArray(a, b *NDArray) int {
	if c := cmpIntSlice(a.Shape, b.Shape); c != 0 {
		return c
	}
	result := 0
	a.EachIndex(func(idx []int) bool {
		if c := cmpFloat(a.At(idx), b.At(idx)); c != 0 {
			result = c
			return false
		}
		return true
	})
	return result
}

func cmpIntSlice(a, b []int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := cmpInt(int64(a[i]), int64(b[i])); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

// String returns a display form of the value.
func (v Value) String() string {
	switch v.tag {
	case UndefinedType:
		return "NA"
	case IntType:
		return strconv.FormatInt(v.i, 10)
	case FloatType:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case StringType:
		return v.s
	case VectorType:
		parts := make([]string, len(v.vec))
		for i, f := range v.vec {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case ListType:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case DictType:
		parts := make([]string, len(v.dict))
		for i, e := range v.dict {
			parts[i] = e.Key.String() + ": " + e.Val.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case DateTimeType:
		return v.Time().Format(time.RFC3339)
	case NDArrayType:
		return v.nd.String()
	default:
		return "?"
	}
}

// ApproxSize estimates the in-memory footprint of the value in bytes. Sort
// buffer accounting uses this; it only has to be proportional, not exact.
func (v Value) ApproxSize() int {
	const base = 16
	switch v.tag {
	case StringType:
		return base + len(v.s)
	case VectorType:
		return base + 8*len(v.vec)
	case ListType:
		size := base
		for _, e := range v.list {
			size += e.ApproxSize()
		}
		return size
	case DictType:
		size := base
		for _, e := range v.dict {
			size += e.Key.ApproxSize() + e.Val.ApproxSize()
		}
		return size
	case NDArrayType:
		return base + 8*len(v.nd.Elements) + 16*len(v.nd.Shape)
	default:
		return base
	}
}

// SortValues sorts a slice of values in place by Compare. Handy for tests
// and small in-memory paths.
func SortValues(vals []Value) {
	sort.Slice(vals, func(i, j int) bool {
		return vals[i].Compare(vals[j]) < 0
	})
}

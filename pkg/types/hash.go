package types

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// naHash is the fixed hash of the missing value. NA sorts below every other
// value and must hash equal to itself.
const naHash uint64 = 0x9e3779b97f4a7c15

// Hash returns a 64-bit FNV-1a hash of the value.
//
// Hashing follows equality: an integer and a float holding the same numeric
// value hash alike, and NA always hashes to the same constant. Float NaN
// hashes with NA, matching its position in the sort order.
func (v Value) Hash() uint64 {
	switch v.tag {
	case UndefinedType:
		return naHash
	case IntType:
		return hashInt(v.i)
	case FloatType:
		if math.IsNaN(v.f) {
			return naHash
		}
		// Integral floats hash as their integer twin so that
		// NewInt(3).Hash() == NewFloat(3.0).Hash().
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f <= math.MaxInt64 {
			return hashInt(int64(v.f))
		}
		h := fnv.New64a()
		writeU64(h, math.Float64bits(v.f))
		return h.Sum64()
	case StringType:
		h := fnv.New64a()
		_, _ = h.Write([]byte(v.s))
		return h.Sum64()
	case VectorType:
		h := fnv.New64a()
		for _, f := range v.vec {
			writeU64(h, math.Float64bits(f))
		}
		return h.Sum64()
	case ListType:
		h := fnv.New64a()
		for _, e := range v.list {
			writeU64(h, e.Hash())
		}
		return h.Sum64()
	case DictType:
		h := fnv.New64a()
		for _, e := range v.dict {
			writeU64(h, e.Key.Hash())
			writeU64(h, e.Val.Hash())
		}
		return h.Sum64()
	case DateTimeType:
		return hashInt(v.i)
	case NDArrayType:
		h := fnv.New64a()
		for _, d := range v.nd.Shape {
			writeU64(h, uint64(d))
		}
		// Index-wise row-major walk so that layout does not leak into
		// the hash; must agree with cmpNDArray.
		v.nd.EachIndex(func(idx []int) bool {
			writeU64(h, math.Float64bits(v.nd.At(idx)))
			return true
		})
		return h.Sum64()
	default:
		return 0
	}
}

func hashInt(v int64) uint64 {
	h := fnv.New64a()
	writeU64(h, uint64(v)) // #nosec G115
	return h.Sum64()
}

type u64writer interface {
	Write(p []byte) (int, error)
}

func writeU64(w u64writer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, _ = w.Write(buf[:])
}

// Package extsort implements the external (partitioned) sort: quantile
// sketch partitioning, scatter through the shuffle primitive, and parallel
// per-partition in-memory sorts concatenated in partition order.
package extsort

import (
	"sort"

	"xframe/pkg/errs"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// sketchTargetSamples bounds the number of rows the quantile sketch reads.
const sketchTargetSamples = 2000

// sketch summarizes the sort-key distribution of a frame: an ordered sample
// of composite keys plus a byte estimate for buffer planning.
type sketch struct {
	keys           [][]types.Value // sampled keys, sorted under the key order
	estimatedBytes int64
	allEqual       bool
}

// buildSketch samples evenly spaced rows of f, extracts their composite
// keys, and sorts the sample. Sampling is deterministic: the same frame and
// key always produce the same sketch.
func buildSketch(f *xframe.Frame, keyIdx []int, ascending []bool) (*sketch, error) {
	n := f.NumRows()
	samples := int64(sketchTargetSamples)
	if samples > n {
		samples = n
	}

	sk := &sketch{allEqual: true}
	if samples == 0 {
		return sk, nil
	}

	var rowBytes int64
	var rows []xframe.Row
	for i := int64(0); i < samples; i++ {
		pos := i * n / samples
		rows = rows[:0]
		if _, err := f.ReadRows(pos, pos+1, &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, errs.New(errs.InvariantViolation,
				"sample row %d missing from frame of %d rows", pos, n)
		}
		row := rows[0]
		for _, v := range row {
			rowBytes += int64(v.ApproxSize())
		}
		key := extractKey(row, keyIdx)
		if sk.allEqual && len(sk.keys) > 0 &&
			types.CompareKeys(sk.keys[0], key, ascending) != 0 {
			sk.allEqual = false
		}
		sk.keys = append(sk.keys, key)
	}

	sk.estimatedBytes = rowBytes / samples * n
	sort.SliceStable(sk.keys, func(i, j int) bool {
		return types.CompareKeys(sk.keys[i], sk.keys[j], ascending) < 0
	})
	return sk, nil
}

// boundaries returns p-1 partition boundary keys: the sample's quantiles.
func (sk *sketch) boundaries(p int) [][]types.Value {
	if p <= 1 || len(sk.keys) == 0 {
		return nil
	}
	out := make([][]types.Value, 0, p-1)
	for i := 1; i < p; i++ {
		out = append(out, sk.keys[i*len(sk.keys)/p])
	}
	return out
}

// extractKey pulls the key components out of a row.
func extractKey(row xframe.Row, keyIdx []int) []types.Value {
	key := make([]types.Value, len(keyIdx))
	for i, c := range keyIdx {
		key[i] = row[c]
	}
	return key
}

// partitionOf returns the index of the partition a key belongs to: the
// smallest i with key <= boundary[i], or the last partition. Keys equal to
// a boundary land in the lower partition.
func partitionOf(key []types.Value, bounds [][]types.Value, ascending []bool) int {
	lo, hi := 0, len(bounds)
	for lo < hi {
		mid := (lo + hi) / 2
		if types.CompareKeys(key, bounds[mid], ascending) <= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

package extsort

import (
	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/sarray"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// PermuteFrame applies a forward map: input row i is written at output
// position m[i]. The map must be a permutation of [0, NumRows); the hot
// path does not verify this, and a non-permutation yields ill-defined
// output. With debug checks enabled in the configuration, the map is
// validated first and a bad map fails with an error instead.
func PermuteFrame(f *xframe.Frame, forwardMap *sarray.Column) (*xframe.Frame, error) {
	n := f.NumRows()
	if forwardMap.Len() != n {
		return nil, errs.New(errs.SchemaMismatch,
			"forward map has %d entries for %d rows", forwardMap.Len(), n)
	}

	mapVals, err := forwardMap.ReadAll()
	if err != nil {
		return nil, err
	}

	// Invert: inverse[j] = i such that m[i] = j; the output then streams
	// sequentially with random reads on the input.
	inverse := make([]int64, n)
	if config.Get().DebugChecks {
		seen := make([]bool, n)
		for i, v := range mapVals {
			if v.Tag() != types.IntType {
				return nil, errs.New(errs.SchemaMismatch,
					"forward map entry %d is %s, want int", i, v.Tag())
			}
			pos := v.Int()
			if pos < 0 || pos >= n {
				return nil, errs.New(errs.OutOfRange,
					"forward map entry %d = %d outside [0, %d)", i, pos, n)
			}
			if seen[pos] {
				return nil, errs.New(errs.InvariantViolation,
					"forward map hits position %d twice", pos)
			}
			seen[pos] = true
			inverse[pos] = int64(i)
		}
	} else {
		for i, v := range mapVals {
			inverse[v.Int()] = int64(i)
		}
	}

	fw, dir, err := openOutput(f.ColumnNames(), f.ColumnTypes(), 1)
	if err != nil {
		return nil, err
	}
	sink, err := fw.OutputIterator(0)
	if err != nil {
		fw.Abort()
		return nil, err
	}

	// Long-lived per-column readers keep the gather loop on the block
	// cache instead of reopening files per row.
	readers := make([]*sarray.Reader, f.NumColumns())
	for i := range readers {
		col, err := f.SelectColumn(i)
		if err != nil {
			fw.Abort()
			return nil, err
		}
		if readers[i], err = col.Reader(nil); err != nil {
			fw.Abort()
			return nil, err
		}
		defer readers[i].Close()
	}

	var cell []types.Value
	row := make(xframe.Row, f.NumColumns())
	for j := int64(0); j < n; j++ {
		for c, r := range readers {
			cell = cell[:0]
			if _, err := r.ReadRows(inverse[j], inverse[j]+1, &cell); err != nil {
				fw.Abort()
				return nil, err
			}
			row[c] = cell[0]
		}
		if err := sink.AppendRow(row); err != nil {
			fw.Abort()
			return nil, err
		}
	}

	result, err := fw.Close()
	if err != nil {
		return nil, err
	}
	result.BindTempDir(dir)
	return result, nil
}

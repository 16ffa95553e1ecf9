package xframe

import (
	"math"

	"xframe/pkg/errs"
	"xframe/pkg/types"
)

// inferElementType scans a container column for the type of its stacked
// elements. extract maps a container cell to its element values. The scan
// stops at the first non-NA element; an all-NA column infers undefined.
func (f *Frame) inferElementType(colIdx int, extract func(types.Value) []types.Value) (types.Type, error) {
	for seg := 0; seg < f.NumSegments(); seg++ {
		it, err := f.RowIter(seg)
		if err != nil {
			return types.UndefinedType, err
		}
		for {
			row, ok, err := it.Next()
			if err != nil {
				return types.UndefinedType, err
			}
			if !ok {
				break
			}
			for _, e := range extract(row[colIdx]) {
				if !e.IsNA() {
					return e.Tag(), nil
				}
			}
		}
	}
	return types.UndefinedType, nil
}

// Stack explodes a container column into one output row per element,
// replicating the other columns. A list or vector column yields one new
// column (newNames[0]); a dict column yields key and value columns
// (newNames[0], newNames[1]). Rows with an empty or NA container emit one
// row of NAs unless dropNA is set, in which case they are dropped.
func (f *Frame) Stack(colName string, newNames []string, dropNA bool) (*Frame, error) {
	colIdx, err := f.ColumnIndex(colName)
	if err != nil {
		return nil, err
	}
	containerType := f.columns[colIdx].Type()
	if !containerType.IsContainer() {
		return nil, errs.New(errs.Unsupported,
			"cannot stack column %q of type %s", colName, containerType)
	}

	isDict := containerType == types.DictType
	wantNames := 1
	if isDict {
		wantNames = 2
	}
	if len(newNames) != wantNames {
		return nil, errs.New(errs.SchemaMismatch,
			"stacking a %s column needs %d new names, got %d",
			containerType, wantNames, len(newNames))
	}

	// Output schema: every column except the stacked one, then the new
	// element column(s).
	var outNames []string
	var outTypes []types.Type
	var keepIdx []int
	for i := range f.columns {
		if i == colIdx {
			continue
		}
		outNames = append(outNames, f.names[i])
		outTypes = append(outTypes, f.columns[i].Type())
		keepIdx = append(keepIdx, i)
	}

	switch containerType {
	case types.VectorType:
		outNames = append(outNames, newNames[0])
		outTypes = append(outTypes, types.FloatType)
	case types.ListType:
		elemType, err := f.inferElementType(colIdx, func(v types.Value) []types.Value {
			if v.Tag() == types.ListType {
				return v.List()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		outNames = append(outNames, newNames[0])
		outTypes = append(outTypes, elemType)
	case types.DictType:
		keyType, err := f.inferElementType(colIdx, func(v types.Value) []types.Value {
			if v.Tag() != types.DictType {
				return nil
			}
			out := make([]types.Value, 0, len(v.Dict()))
			for _, e := range v.Dict() {
				out = append(out, e.Key)
			}
			return out
		})
		if err != nil {
			return nil, err
		}
		valType, err := f.inferElementType(colIdx, func(v types.Value) []types.Value {
			if v.Tag() != types.DictType {
				return nil
			}
			out := make([]types.Value, 0, len(v.Dict()))
			for _, e := range v.Dict() {
				out = append(out, e.Val)
			}
			return out
		})
		if err != nil {
			return nil, err
		}
		outNames = append(outNames, newNames[0], newNames[1])
		outTypes = append(outTypes, keyType, valType)
	}

	return f.transformSegments("stack", outNames, outTypes,
		func(row Row, emit func(Row) error) error {
			base := make(Row, 0, len(outTypes))
			for _, i := range keepIdx {
				base = append(base, row[i])
			}

			cell := row[colIdx]
			emitted := false
			emitWith := func(extra ...types.Value) error {
				emitted = true
				out := append(append(Row{}, base...), extra...)
				return emit(out)
			}

			if !cell.IsNA() {
				switch cell.Tag() {
				case types.VectorType:
					for _, x := range cell.Vector() {
						if err := emitWith(types.NewFloat(x)); err != nil {
							return err
						}
					}
				case types.ListType:
					for _, e := range cell.List() {
						if err := emitWith(e); err != nil {
							return err
						}
					}
				case types.DictType:
					for _, e := range cell.Dict() {
						if err := emitWith(e.Key, e.Val); err != nil {
							return err
						}
					}
				}
			}

			if !emitted && !dropNA {
				nas := make([]types.Value, wantNames)
				return emitWith(nas...)
			}
			return nil
		})
}

// PackColumns gathers the given columns into one container column named
// newName, dropping the originals. The dtype selects the container:
// ListType packs values in order, VectorType packs numerics (NA replaced by
// fillNA), DictType packs under the given keys (one per packed column),
// omitting entries whose value is NA when fillNA is NA.
func (f *Frame) PackColumns(cols, keys []string, dtype types.Type, fillNA types.Value,
	newName string) (*Frame, error) {

	if len(cols) == 0 {
		return nil, errs.New(errs.OutOfRange, "pack needs at least one column")
	}
	if !dtype.IsContainer() {
		return nil, errs.New(errs.Unsupported, "cannot pack into type %s", dtype)
	}
	if dtype == types.DictType && len(keys) != len(cols) {
		return nil, errs.New(errs.SchemaMismatch,
			"dict pack needs %d keys, got %d", len(cols), len(keys))
	}

	packIdx := make([]int, len(cols))
	packed := make(map[int]bool)
	for i, name := range cols {
		idx, err := f.ColumnIndex(name)
		if err != nil {
			return nil, err
		}
		packIdx[i] = idx
		packed[idx] = true
	}

	var outNames []string
	var outTypes []types.Type
	var keepIdx []int
	for i := range f.columns {
		if packed[i] {
			continue
		}
		outNames = append(outNames, f.names[i])
		outTypes = append(outTypes, f.columns[i].Type())
		keepIdx = append(keepIdx, i)
	}
	outNames = append(outNames, newName)
	outTypes = append(outTypes, dtype)

	return f.transformSegments("pack", outNames, outTypes,
		func(row Row, emit func(Row) error) error {
			out := make(Row, 0, len(outTypes))
			for _, i := range keepIdx {
				out = append(out, row[i])
			}

			var cell types.Value
			switch dtype {
			case types.ListType:
				elems := make([]types.Value, len(packIdx))
				for i, idx := range packIdx {
					v := row[idx]
					if v.IsNA() && !fillNA.IsNA() {
						v = fillNA
					}
					elems[i] = v
				}
				cell = types.NewList(elems)
			case types.VectorType:
				vec := make([]float64, 0, len(packIdx))
				for _, idx := range packIdx {
					v := row[idx]
					if v.IsNA() {
						if fillNA.IsNA() {
							vec = append(vec, math.NaN())
							continue
						}
						v = fillNA
					}
					x, ok := v.AsFloat()
					if !ok {
						return errs.New(errs.Unsupported,
							"cannot pack non-numeric value %v into a vector", v)
					}
					vec = append(vec, x)
				}
				cell = types.NewVector(vec)
			case types.DictType:
				entries := make([]types.DictEntry, 0, len(packIdx))
				for i, idx := range packIdx {
					v := row[idx]
					if v.IsNA() {
						if fillNA.IsNA() {
							continue
						}
						v = fillNA
					}
					entries = append(entries, types.DictEntry{
						Key: types.NewString(keys[i]),
						Val: v,
					})
				}
				cell = types.NewDict(entries)
			}

			return emit(append(out, cell))
		})
}

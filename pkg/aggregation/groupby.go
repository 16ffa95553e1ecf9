package aggregation

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"xframe/pkg/errs"
	"xframe/pkg/shuffle"
	"xframe/pkg/tempfile"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// Request pairs one aggregator with the column it consumes and the name of
// its output column. An empty Column is legal for aggregators that ignore
// their input (Count); an empty OutName is auto-generated from the op and
// column.
type Request struct {
	Op      Aggregator
	Column  string
	OutName string
}

// GroupByAggregate groups f's rows by the key columns and applies every
// requested aggregator per group. The output frame has the key columns
// followed by one column per request; group order within the output is the
// sorted key order of each shuffle bucket concatenated in bucket order.
func GroupByAggregate(f *xframe.Frame, keys []string, requests []Request) (*xframe.Frame, error) {
	if len(keys) == 0 {
		return nil, errs.New(errs.OutOfRange, "groupby needs at least one key column")
	}
	if len(requests) == 0 {
		return nil, errs.New(errs.OutOfRange, "groupby needs at least one aggregation")
	}

	keyIdx := make([]int, len(keys))
	for i, name := range keys {
		idx, err := f.ColumnIndex(name)
		if err != nil {
			return nil, err
		}
		keyIdx[i] = idx
	}

	colIdx := make([]int, len(requests))
	outNames := make([]string, 0, len(keys)+len(requests))
	outNames = append(outNames, keys...)
	outTypes := make([]types.Type, 0, len(keys)+len(requests))
	for _, k := range keyIdx {
		ct, err := f.SelectColumn(k)
		if err != nil {
			return nil, err
		}
		outTypes = append(outTypes, ct.Type())
	}
	for i, req := range requests {
		colIdx[i] = -1
		inType := types.UndefinedType
		if req.Column != "" {
			idx, err := f.ColumnIndex(req.Column)
			if err != nil {
				return nil, err
			}
			colIdx[i] = idx
			col, err := f.SelectColumn(idx)
			if err != nil {
				return nil, err
			}
			inType = col.Type()
		}
		name := req.OutName
		if name == "" {
			name = req.Op.String()
			if req.Column != "" {
				name += " of " + req.Column
			}
		}
		outNames = append(outNames, name)
		outTypes = append(outTypes, req.Op.OutputType(inType))
	}

	// Bring equal keys together: shuffle by key hash into one bucket per
	// worker.
	buckets := runtime.NumCPU()
	if int64(buckets) > f.NumRows() && f.NumRows() > 0 {
		buckets = int(f.NumRows())
	}
	if buckets < 1 {
		buckets = 1
	}

	parts, err := shuffle.Shuffle(f, buckets, func(row xframe.Row) uint64 {
		return types.HashKey(extractKey(row, keyIdx))
	}, nil)
	if err != nil {
		return nil, err
	}
	for _, part := range parts {
		part.MarkDeleteOnClose()
	}
	defer func() {
		for _, part := range parts {
			part.Release()
		}
	}()

	dir, err := tempfile.DefaultManager().NewTempDir("groupby")
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "GroupByAggregate", "aggregation")
	}
	fw, err := xframe.OpenForWrite(dir, outNames, outTypes, buckets)
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for b := 0; b < buckets; b++ {
		bucket := b
		g.Go(func() error {
			return aggregateBucket(parts[bucket], fw, bucket, keyIdx, colIdx, requests)
		})
	}
	if err := g.Wait(); err != nil {
		fw.Abort()
		return nil, err
	}

	out, err := fw.Close()
	if err != nil {
		return nil, err
	}
	out.BindTempDir(dir)
	return out, nil
}

// group is one key's accumulated aggregator states.
type group struct {
	key    []types.Value
	states []State
}

// aggregateBucket folds one shuffle bucket into its output segment.
func aggregateBucket(part *xframe.Frame, fw *xframe.FrameWriter, bucket int,
	keyIdx, colIdx []int, requests []Request) error {

	groups := make(map[uint64][]*group)
	order := 0

	for seg := 0; seg < part.NumSegments(); seg++ {
		it, err := part.RowIter(seg)
		if err != nil {
			return err
		}
		for {
			row, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}

			key := extractKey(row, keyIdx)
			h := types.HashKey(key)
			var grp *group
			for _, candidate := range groups[h] {
				if types.KeysEqual(candidate.key, key) {
					grp = candidate
					break
				}
			}
			if grp == nil {
				grp = &group{key: key, states: make([]State, len(requests))}
				for i, req := range requests {
					grp.states[i] = req.Op.NewState()
				}
				groups[h] = append(groups[h], grp)
				order++
			}

			for i := range requests {
				v := types.NA()
				if colIdx[i] >= 0 {
					v = row[colIdx[i]]
				}
				if err := grp.states[i].AddRow(v); err != nil {
					return err
				}
			}
		}
	}

	// Deterministic output: emit groups in sorted key order.
	flat := make([]*group, 0, order)
	for _, gs := range groups {
		flat = append(flat, gs...)
	}
	asc := make([]bool, len(keyIdx))
	for i := range asc {
		asc[i] = true
	}
	sort.SliceStable(flat, func(i, j int) bool {
		return types.CompareKeys(flat[i].key, flat[j].key, asc) < 0
	})

	sink, err := fw.OutputIterator(bucket)
	if err != nil {
		return err
	}
	for _, grp := range flat {
		row := make(xframe.Row, 0, len(grp.key)+len(grp.states))
		row = append(row, grp.key...)
		for _, st := range grp.states {
			row = append(row, st.Finalize())
		}
		if err := sink.AppendRow(row); err != nil {
			return err
		}
	}
	return nil
}

func extractKey(row xframe.Row, keyIdx []int) []types.Value {
	key := make([]types.Value, len(keyIdx))
	for i, c := range keyIdx {
		key[i] = row[c]
	}
	return key
}

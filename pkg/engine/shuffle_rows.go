package engine

import (
	"math/rand"
	"sort"

	"xframe/pkg/config"
	"xframe/pkg/plan"
	"xframe/pkg/planner"
	"xframe/pkg/shuffle"
	"xframe/pkg/tempfile"
	"xframe/pkg/xframe"
)

// splitmix64 scrambles a row index into a well-mixed hash.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// ShuffleRows returns the frame's rows in a pseudo-random order that is
// deterministic for a fixed seed. Rows scatter into buckets sized by the
// shuffle-bucket setting, each bucket is permuted in memory, and the
// buckets concatenate in order, so no step holds more than one bucket of
// rows.
func (x *XFrame) ShuffleRows(seed int64) (*XFrame, error) {
	f, err := x.Materialize()
	if err != nil {
		return nil, err
	}
	if f.NumRows() == 0 {
		return FromFrame(f), nil
	}

	// Hidden row index gives the hash a stable, unique input per row.
	idx, err := plan.Range(f.NumRows())
	if err != nil {
		return nil, err
	}
	u, err := plan.NewUnion(plan.Source(f), idx)
	if err != nil {
		return nil, err
	}
	augmented, err := planner.Materialize(u)
	if err != nil {
		return nil, err
	}

	bucketRows := config.Get().ShuffleBucketSize
	if bucketRows < 1 {
		bucketRows = 1
	}
	buckets := int(f.NumRows()/int64(bucketRows)) + 1

	last := augmented.NumColumns() - 1
	parts, err := shuffle.Shuffle(augmented, buckets, func(row xframe.Row) uint64 {
		return splitmix64(uint64(row[last].Int()) ^ uint64(seed))
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

	dir, err := tempfile.DefaultManager().NewTempDir("rowshuffle")
	if err != nil {
		return nil, err
	}
	fw, err := xframe.OpenForWrite(dir, x.names, f.ColumnTypes(), buckets)
	if err != nil {
		return nil, err
	}

	for b, part := range parts {
		var rows []xframe.Row
		if _, err := part.ReadRows(0, part.NumRows(), &rows); err != nil {
			fw.Abort()
			return nil, err
		}
		// Worker interleaving makes the bucket's arrival order
		// nondeterministic; restore input order before the seeded
		// permutation so equal seeds give equal results.
		sort.Slice(rows, func(i, j int) bool {
			return rows[i][last].Int() < rows[j][last].Int()
		})
		rng := rand.New(rand.NewSource(seed + int64(b)))
		rng.Shuffle(len(rows), func(i, j int) {
			rows[i], rows[j] = rows[j], rows[i]
		})

		sink, err := fw.OutputIterator(b)
		if err != nil {
			fw.Abort()
			return nil, err
		}
		for _, row := range rows {
			if err := sink.AppendRow(row[:last]); err != nil {
				fw.Abort()
				return nil, err
			}
		}
	}

	out, err := fw.Close()
	if err != nil {
		return nil, err
	}
	out.BindTempDir(dir)
	return FromFrame(out), nil
}

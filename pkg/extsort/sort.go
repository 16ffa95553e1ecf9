package extsort

import (
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/logging"
	"xframe/pkg/plan"
	"xframe/pkg/planner"
	"xframe/pkg/shuffle"
	"xframe/pkg/tempfile"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// maxPartitions caps the partition fan-out regardless of the byte estimate.
const maxPartitions = 128

// Sort materializes the plan and returns a new frame ordered by the key
// columns with the given per-component ascending flags.
//
// The algorithm follows the partitioned external sort: a quantile sketch
// picks boundaries so each partition fits the sort buffer, rows scatter to
// their partition through the shuffle primitive, partitions sort in memory
// in parallel, and the output is the concatenation in partition order.
// Equal keys keep their input order.
func Sort(node *plan.Node, keyIdx []int, ascending []bool) (*xframe.Frame, error) {
	if len(keyIdx) == 0 {
		return nil, errs.New(errs.OutOfRange, "sort needs at least one key column")
	}
	if len(ascending) != len(keyIdx) {
		return nil, errs.New(errs.SchemaMismatch,
			"%d ascending flags for %d key columns", len(ascending), len(keyIdx))
	}

	f, err := planner.Materialize(node)
	if err != nil {
		return nil, err
	}
	for _, c := range keyIdx {
		if c < 0 || c >= f.NumColumns() {
			return nil, errs.New(errs.OutOfRange,
				"sort key column %d out of range [0, %d)", c, f.NumColumns())
		}
	}
	if f.NumRows() == 0 {
		return f, nil
	}

	sk, err := buildSketch(f, keyIdx, ascending)
	if err != nil {
		return nil, err
	}

	log := logging.WithComponent("sort")

	// All sampled keys identical: the input is already in sorted order as
	// far as the key can tell.
	if sk.allEqual {
		log.Debug("sample keys all equal, returning input", "rows", f.NumRows())
		return f, nil
	}

	settings := config.Get()
	if sk.estimatedBytes <= settings.SortBufferSize {
		log.Debug("input fits sort buffer, sorting in memory",
			"rows", f.NumRows(), "bytes", sk.estimatedBytes)
		return inMemorySort(f, keyIdx, ascending)
	}

	p := int((sk.estimatedBytes + settings.SortBufferSize - 1) / settings.SortBufferSize)
	if int64(p) > f.NumRows() {
		p = int(f.NumRows())
	}
	if p > maxPartitions {
		p = maxPartitions
	}
	if p < 1 {
		p = 1
	}
	log.Debug("partitioned sort", "rows", f.NumRows(),
		"bytes", sk.estimatedBytes, "partitions", p)

	return partitionedSort(f, keyIdx, ascending, sk, p)
}

// augmentWithRowIndex appends a hidden row-index column, giving the sort a
// total tiebreak that restores input order among equal keys after the
// scatter scrambles worker interleaving.
func augmentWithRowIndex(f *xframe.Frame) (*xframe.Frame, error) {
	idx, err := plan.Range(f.NumRows())
	if err != nil {
		return nil, err
	}
	u, err := plan.NewUnion(plan.Source(f), idx)
	if err != nil {
		return nil, err
	}
	return planner.Materialize(u)
}

// sortRows orders rows by the composite key, breaking ties by the hidden
// index column (the last column).
func sortRows(rows []xframe.Row, keyIdx []int, ascending []bool) {
	last := 0
	if len(rows) > 0 {
		last = len(rows[0]) - 1
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := types.CompareKeys(extractKey(rows[i], keyIdx), extractKey(rows[j], keyIdx), ascending)
		if c != 0 {
			return c < 0
		}
		return rows[i][last].Int() < rows[j][last].Int()
	})
}

// inMemorySort loads the whole frame, sorts it, and writes a fresh frame.
func inMemorySort(f *xframe.Frame, keyIdx []int, ascending []bool) (*xframe.Frame, error) {
	var rows []xframe.Row
	if _, err := f.ReadRows(0, f.NumRows(), &rows); err != nil {
		return nil, err
	}

	// Stable sort preserves input order among equal keys directly; no
	// index column is needed on this path.
	sort.SliceStable(rows, func(i, j int) bool {
		return types.CompareKeys(extractKey(rows[i], keyIdx), extractKey(rows[j], keyIdx), ascending) < 0
	})

	return writeRows(f.ColumnNames(), f.ColumnTypes(), [][]xframe.Row{rows})
}

// partitionedSort scatters rows into disjoint key-range partitions and
// sorts each in parallel. Partition i of the output frame holds the sorted
// rows of key partition i, so concatenation in segment order is the sorted
// frame.
func partitionedSort(f *xframe.Frame, keyIdx []int, ascending []bool,
	sk *sketch, p int) (*xframe.Frame, error) {

	augmented, err := augmentWithRowIndex(f)
	if err != nil {
		return nil, err
	}

	bounds := sk.boundaries(p)

	// Track, per partition, whether every key routed to it was equal; such
	// partitions skip the comparator sort and only restore input order.
	equalKey := make([][]types.Value, p)
	allEqual := make([]bool, p)
	var trackMu sync.Mutex
	for i := range allEqual {
		allEqual[i] = true
	}

	parts, err := shuffle.Shuffle(augmented, p, func(row xframe.Row) uint64 {
		return uint64(partitionOf(extractKey(row, keyIdx), bounds, ascending))
	}, func(row xframe.Row, worker int) {
		key := extractKey(row, keyIdx)
		part := partitionOf(key, bounds, ascending)
		trackMu.Lock()
		if allEqual[part] {
			if equalKey[part] == nil {
				equalKey[part] = key
			} else if types.CompareKeys(equalKey[part], key, ascending) != 0 {
				allEqual[part] = false
			}
		}
		trackMu.Unlock()
	})
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

	// Per-partition parallel sort into segment i of the output.
	fw, dir, err := openOutput(f.ColumnNames(), f.ColumnTypes(), p)
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < p; i++ {
		part := i
		g.Go(func() error {
			var rows []xframe.Row
			if _, err := parts[part].ReadRows(0, parts[part].NumRows(), &rows); err != nil {
				return err
			}

			last := 0
			if len(rows) > 0 {
				last = len(rows[0]) - 1
			}
			if allEqual[part] {
				// Keys are all equal here; only input order matters.
				sort.SliceStable(rows, func(i, j int) bool {
					return rows[i][last].Int() < rows[j][last].Int()
				})
			} else {
				sortRows(rows, keyIdx, ascending)
			}

			sink, err := fw.OutputIterator(part)
			if err != nil {
				return err
			}
			for _, row := range rows {
				// Drop the hidden index column.
				if err := sink.AppendRow(row[:last]); err != nil {
					return err
				}
			}
			return nil
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

// openOutput creates the sort's output writer with p segments.
func openOutput(names []string, colTypes []types.Type, p int) (*xframe.FrameWriter, string, error) {
	dir, err := tempfile.DefaultManager().NewTempDir("sort")
	if err != nil {
		return nil, "", errs.Wrap(err, errs.IoFailure, "Sort", "extsort")
	}
	fw, err := xframe.OpenForWrite(dir, names, colTypes, p)
	if err != nil {
		return nil, "", err
	}
	return fw, dir, nil
}

// writeRows writes pre-ordered row groups into a frame, one segment per
// group.
func writeRows(names []string, colTypes []types.Type, groups [][]xframe.Row) (*xframe.Frame, error) {
	fw, dir, err := openOutput(names, colTypes, len(groups))
	if err != nil {
		return nil, err
	}
	for i, rows := range groups {
		sink, err := fw.OutputIterator(i)
		if err != nil {
			fw.Abort()
			return nil, err
		}
		for _, row := range rows {
			if err := sink.AppendRow(row); err != nil {
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
	return out, nil
}

package xframe

import (
	"runtime"

	"xframe/pkg/logging"
	"xframe/pkg/sarray"
)

// FastCompact merges runs of small segments in every column without
// decoding block contents and returns the compacted frame plus whether any
// work happened. Because all columns of a frame flush blocks at the same
// row boundaries, run detection agrees across columns and the shared
// segmentation survives.
func FastCompact(f *Frame) (*Frame, bool, error) {
	didAny := false
	columns := make([]*sarray.Column, len(f.columns))
	for i, col := range f.columns {
		compacted, didWork, err := sarray.FastCompact(col)
		if err != nil {
			return nil, false, err
		}
		columns[i] = compacted
		didAny = didAny || didWork
	}
	if !didAny {
		return f, false, nil
	}

	out, err := New(f.ColumnNames(), columns)
	if err != nil {
		return nil, false, err
	}
	out.tempDir = f.tempDir
	return out, true, nil
}

// Compact bounds the frame's segment fan-out: fast compaction first, and a
// full rewrite with min(target, CPU count) segments when the frame still
// exceeds the target.
func Compact(f *Frame, target int) (*Frame, error) {
	if target < 1 {
		target = 1
	}

	out, didWork, err := FastCompact(f)
	if err != nil {
		return nil, err
	}
	if out.NumSegments() <= target {
		if didWork {
			logging.WithComponent("compact").Debug("fast compaction sufficed",
				"segments", out.NumSegments())
		}
		return out, nil
	}

	n := target
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	columns := make([]*sarray.Column, len(out.columns))
	for i, col := range out.columns {
		rewritten, err := sarray.Rewrite(col, n)
		if err != nil {
			return nil, err
		}
		columns[i] = rewritten
	}

	result, err := New(out.ColumnNames(), columns)
	if err != nil {
		return nil, err
	}
	result.tempDir = out.tempDir
	return result, nil
}

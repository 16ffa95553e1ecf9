// Package shuffle hash-partitions frame rows into N output frames.
//
// Shuffle is the primitive under external sort and groupby: both need rows
// with equal keys brought together, and both get it by routing every row to
// the bucket its hash selects. Workers read disjoint row ranges and keep a
// buffered writer per bucket; buffers drain into the single-segment output
// frames under one mutex per output, with soft/hard byte limits providing
// backpressure.
package shuffle

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/logging"
	"xframe/pkg/tempfile"
	"xframe/pkg/xframe"
)

// HashFn maps a row to a bucket-selecting hash.
type HashFn func(row xframe.Row) uint64

// EmitFn observes every row before it is written, along with the worker
// that processed it. Used for instrumentation and side effects.
type EmitFn func(row xframe.Row, worker int)

// output is one shuffle destination: a single-segment frame under
// construction, guarded by its own append lock.
type output struct {
	mu   sync.Mutex
	sink *xframe.FrameSink
}

// append writes a batch of rows while holding the output lock.
func (o *output) append(rows []xframe.Row) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, row := range rows {
		if err := o.sink.AppendRow(row); err != nil {
			return err
		}
	}
	return nil
}

// bucketBuffer is one worker's staging area for one output bucket.
type bucketBuffer struct {
	rows  []xframe.Row
	bytes int64
}

// Shuffle routes every row of f to outputs[hashFn(row) % n]. All outputs
// share f's schema and have exactly one segment; empty outputs are legal.
// The optional emitCB sees each row before it is buffered.
func Shuffle(f *xframe.Frame, n int, hashFn HashFn, emitCB EmitFn) ([]*xframe.Frame, error) {
	if n < 1 {
		return nil, errs.New(errs.OutOfRange, "bucket count must be at least 1, got %d", n)
	}
	if f.NumColumns() == 0 {
		return nil, errs.New(errs.OutOfRange, "cannot shuffle a frame with no columns")
	}

	settings := config.Get()
	soft, hard := settings.WriterBufferSoftLimit, settings.WriterBufferHardLimit
	if hard < soft {
		hard = soft
	}

	workers := runtime.NumCPU()
	if int64(workers) > f.NumRows() && f.NumRows() > 0 {
		workers = int(f.NumRows())
	}
	if workers < 1 {
		workers = 1
	}

	names, colTypes := f.ColumnNames(), f.ColumnTypes()
	writers := make([]*xframe.FrameWriter, n)
	outputs := make([]*output, n)
	dirs := make([]string, n)
	abort := func() {
		for _, w := range writers {
			if w != nil {
				w.Abort()
			}
		}
	}
	for i := 0; i < n; i++ {
		dir, err := tempfile.DefaultManager().NewTempDir("shuffle")
		if err != nil {
			abort()
			return nil, errs.Wrap(err, errs.IoFailure, "Shuffle", "shuffle")
		}
		dirs[i] = dir
		w, err := xframe.OpenForWrite(dir, names, colTypes, 1)
		if err != nil {
			abort()
			return nil, err
		}
		sink, err := w.OutputIterator(0)
		if err != nil {
			abort()
			return nil, err
		}
		writers[i] = w
		outputs[i] = &output{sink: sink}
	}

	iter, err := xframe.NewParallelIterator([]*xframe.Frame{f}, workers)
	if err != nil {
		abort()
		return nil, err
	}

	logging.WithComponent("shuffle").Debug("shuffling frame",
		"rows", f.NumRows(), "buckets", n, "workers", workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			slice, err := iter.Slice(worker)
			if err != nil {
				return err
			}
			defer slice.Close()

			buffers := make([]bucketBuffer, n)
			for {
				ok, err := slice.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				row := slice.Row()
				if emitCB != nil {
					emitCB(row, worker)
				}

				bucket := int(hashFn(row) % uint64(n))
				buf := &buffers[bucket]
				buf.rows = append(buf.rows, row)
				for _, v := range row {
					buf.bytes += int64(v.ApproxSize())
				}

				if buf.bytes >= hard {
					// Hard limit: block until the bucket drains.
					if err := outputs[bucket].append(buf.rows); err != nil {
						return err
					}
					buf.rows, buf.bytes = buf.rows[:0], 0
				} else if buf.bytes >= soft {
					// Soft limit: drain only if the lock is free.
					if outputs[bucket].mu.TryLock() {
						flushErr := func() error {
							defer outputs[bucket].mu.Unlock()
							for _, r := range buf.rows {
								if err := outputs[bucket].sink.AppendRow(r); err != nil {
									return err
								}
							}
							return nil
						}()
						if flushErr != nil {
							return flushErr
						}
						buf.rows, buf.bytes = buf.rows[:0], 0
					}
				}
			}

			// Final drain of every bucket.
			for b := range buffers {
				if len(buffers[b].rows) == 0 {
					continue
				}
				if err := outputs[b].append(buffers[b].rows); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		abort()
		return nil, err
	}

	frames := make([]*xframe.Frame, n)
	for i, w := range writers {
		frame, err := w.Close()
		if err != nil {
			for _, later := range writers[i+1:] {
				later.Abort()
			}
			return nil, err
		}
		frame.BindTempDir(dirs[i])
		frames[i] = frame
	}
	return frames, nil
}

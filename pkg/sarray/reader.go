package sarray

import (
	"bytes"
	"os"

	"xframe/pkg/config"
	"xframe/pkg/errs"
	"xframe/pkg/types"
)

// Reader reads rows of a closed column, either with the stored segmentation
// or re-segmented into caller-supplied lengths. Readers of the same column
// are fully concurrent with one another; a single Reader is not goroutine
// safe and is meant to be owned by one worker.
type Reader struct {
	col *Column

	// Reader-visible segmentation (may differ from storage).
	segSizes   []int64
	segOffsets []int64 // prefix sums, len(segSizes)+1

	// Storage layout lookup tables.
	storedOffsets []int64   // prefix sums of stored segment rows
	blockOffsets  [][]int64 // per stored segment: prefix sums of block rows
	byteOffsets   [][]int64 // per stored segment: prefix sums of block bytes

	files []*os.File // lazily opened stored-segment files
}

// Reader returns a reader over the column. A nil resegment keeps the stored
// segmentation; otherwise resegment lists the reader's per-segment lengths
// and must sum to the column length.
func (c *Column) Reader(resegment []int64) (*Reader, error) {
	sizes := resegment
	if sizes == nil {
		sizes = c.SegmentSizes()
	} else {
		var total int64
		for i, n := range sizes {
			if n < 0 {
				return nil, errs.New(errs.OutOfRange,
					"resegmentation length %d at %d is negative", n, i)
			}
			total += n
		}
		if total != c.length {
			return nil, errs.New(errs.OutOfRange,
				"resegmentation totals %d rows, column has %d", total, c.length)
		}
		sizes = append([]int64(nil), sizes...)
	}

	r := &Reader{
		col:      c,
		segSizes: sizes,
		files:    make([]*os.File, len(c.segments)),
	}

	r.segOffsets = prefixSums(sizes)

	stored := c.SegmentSizes()
	r.storedOffsets = prefixSums(stored)

	r.blockOffsets = make([][]int64, len(c.segments))
	r.byteOffsets = make([][]int64, len(c.segments))
	for i, seg := range c.segments {
		rows := make([]int64, len(seg.Blocks))
		bs := make([]int64, len(seg.Blocks))
		for j, b := range seg.Blocks {
			rows[j] = b.Rows
			bs[j] = b.Bytes
		}
		r.blockOffsets[i] = prefixSums(rows)
		r.byteOffsets[i] = prefixSums(bs)
	}
	return r, nil
}

func prefixSums(sizes []int64) []int64 {
	offsets := make([]int64, len(sizes)+1)
	for i, n := range sizes {
		offsets[i+1] = offsets[i] + n
	}
	return offsets
}

// Len returns the column length.
func (r *Reader) Len() int64 {
	return r.col.length
}

// NumSegments returns the reader's segment count.
func (r *Reader) NumSegments() int {
	return len(r.segSizes)
}

// SegmentSizes returns the reader's per-segment row counts.
func (r *Reader) SegmentSizes() []int64 {
	return append([]int64(nil), r.segSizes...)
}

// SegmentRange returns the global row range [begin, end) of a reader segment.
func (r *Reader) SegmentRange(segment int) (int64, int64, error) {
	if segment < 0 || segment >= len(r.segSizes) {
		return 0, 0, errs.New(errs.OutOfRange,
			"segment %d out of range [0, %d)", segment, len(r.segSizes))
	}
	return r.segOffsets[segment], r.segOffsets[segment+1], nil
}

// ReadRows appends rows [start, end) to out and returns the number read.
// Fewer rows than requested are returned iff end exceeds the column length;
// a start at or past the end reads zero rows.
func (r *Reader) ReadRows(start, end int64, out *[]types.Value) (int, error) {
	if start < 0 {
		return 0, errs.New(errs.OutOfRange, "negative row start %d", start)
	}
	if end > r.col.length {
		end = r.col.length
	}
	if start >= end {
		return 0, nil
	}

	read := 0
	row := start
	for row < end {
		seg := findInterval(r.storedOffsets, row)
		segRow := row - r.storedOffsets[seg]

		blocks := r.blockOffsets[seg]
		blk := findInterval(blocks, segRow)
		values, err := r.fetchBlock(seg, blk)
		if err != nil {
			return read, err
		}

		from := segRow - blocks[blk]
		take := int64(len(values)) - from
		if remaining := end - row; take > remaining {
			take = remaining
		}
		*out = append(*out, values[from:from+take]...)
		read += int(take)
		row += take
	}
	return read, nil
}

// findInterval returns the index i such that offsets[i] <= pos < offsets[i+1].
func findInterval(offsets []int64, pos int64) int {
	lo, hi := 0, len(offsets)-1
	for lo+1 < hi {
		mid := (lo + hi) / 2
		if offsets[mid] <= pos {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// fetchBlock returns the decoded values of one stored block, consulting the
// column's shared block cache first.
func (r *Reader) fetchBlock(segment, block int) ([]types.Value, error) {
	key := blockKey{segment: segment, block: block}
	cache := r.col.blockCache()
	if values, ok := cache.Get(key); ok {
		return values, nil
	}

	if r.files[segment] == nil {
		f, err := os.Open(r.col.segmentPath(segment))
		if err != nil {
			return nil, errs.Wrap(err, errs.IoFailure, "ReadRows", "sarray")
		}
		r.files[segment] = f
	}

	offset := r.byteOffsets[segment][block]
	size := r.byteOffsets[segment][block+1] - offset
	buf := make([]byte, size)
	if _, err := r.files[segment].ReadAt(buf, offset); err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "ReadRows", "sarray")
	}

	values, err := decodeBlock(bytes.NewReader(buf))
	if err != nil {
		return nil, errs.Wrap(err, errs.IoFailure, "ReadRows", "sarray")
	}
	cache.Add(key, values)
	return values, nil
}

// Close releases the reader's file handles. The reader may not be used
// afterwards. Closing is optional but recommended for long-lived processes.
func (r *Reader) Close() error {
	var firstErr error
	for i, f := range r.files {
		if f != nil {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			r.files[i] = nil
		}
	}
	return firstErr
}

// SegmentIterator walks one reader segment sequentially in fetch batches of
// the configured read batch size.
type SegmentIterator struct {
	reader *Reader
	cursor int64
	end    int64
	buf    []types.Value
	pos    int
	batch  int
}

// SegmentIter returns a sequential iterator over a reader segment.
func (r *Reader) SegmentIter(segment int) (*SegmentIterator, error) {
	begin, end, err := r.SegmentRange(segment)
	if err != nil {
		return nil, err
	}
	batch := config.Get().ReadBatchSize
	if batch < 1 {
		batch = 1
	}
	return &SegmentIterator{reader: r, cursor: begin, end: end, batch: batch}, nil
}

// Next returns the next value in the segment. The second return is false
// once the segment is exhausted.
func (it *SegmentIterator) Next() (types.Value, bool, error) {
	if it.pos >= len(it.buf) {
		if it.cursor >= it.end {
			return types.Value{}, false, nil
		}
		stop := it.cursor + int64(it.batch)
		if stop > it.end {
			stop = it.end
		}
		it.buf = it.buf[:0]
		if _, err := it.reader.ReadRows(it.cursor, stop, &it.buf); err != nil {
			return types.Value{}, false, err
		}
		it.cursor = stop
		it.pos = 0
		if len(it.buf) == 0 {
			return types.Value{}, false, nil
		}
	}
	v := it.buf[it.pos]
	it.pos++
	return v, true, nil
}

// Package sarray implements the segmented on-disk column store.
//
// A column is an append-only ordered sequence of typed Values split into
// segments; each segment is one file holding a sequence of self-framed,
// compressed blocks. A column opened for write with N segments fixes its
// parallel fan-out: each segment has its own sink and file, so N writers can
// append concurrently with no shared state. Once closed, a column is
// immutable and any number of readers may read it concurrently.
//
// Block framing is the unit fast compaction recognizes: because every block
// carries its own header, segment files can be concatenated byte-for-byte
// without decoding their contents.
package sarray

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"

	"xframe/pkg/types"
)

// blockTargetRows is the number of rows buffered into one block before it is
// encoded and written out.
const blockTargetRows = 1024

// blockHeaderSize is the on-disk frame header: compressed length, raw
// length, and row count, each a big-endian uint32.
const blockHeaderSize = 12

// BlockMeta describes one block inside a segment file.
type BlockMeta struct {
	// Rows is the number of values in the block.
	Rows int64 `json:"rows"`

	// Bytes is the full on-disk size of the block including its header.
	Bytes int64 `json:"bytes"`
}

// encodeBlock serializes and compresses values into a framed block.
func encodeBlock(values []types.Value) ([]byte, error) {
	var raw bytes.Buffer
	for _, v := range values {
		if err := v.Serialize(&raw); err != nil {
			return nil, err
		}
	}

	compressed := s2.Encode(nil, raw.Bytes())

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(compressed)))
	binary.BigEndian.PutUint32(out[4:8], uint32(raw.Len()))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(values)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// decodeBlock reads one framed block from r and returns its values.
// Returns io.EOF cleanly when r is exhausted before a header starts.
func decodeBlock(r io.Reader) ([]types.Value, error) {
	var header [blockHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated block header: %w", err)
		}
		return nil, err
	}

	compLen := binary.BigEndian.Uint32(header[0:4])
	rawLen := binary.BigEndian.Uint32(header[4:8])
	rows := binary.BigEndian.Uint32(header[8:12])

	compressed := make([]byte, compLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("truncated block payload: %w", err)
	}

	raw, err := s2.Decode(make([]byte, 0, rawLen), compressed)
	if err != nil {
		return nil, fmt.Errorf("block decompression failed: %w", err)
	}

	values := make([]types.Value, rows)
	br := bytes.NewReader(raw)
	for i := range values {
		v, err := types.DeserializeValue(br)
		if err != nil {
			return nil, fmt.Errorf("block value %d corrupt: %w", i, err)
		}
		values[i] = v
	}
	if br.Len() != 0 {
		return nil, fmt.Errorf("block has %d trailing bytes after %d values", br.Len(), rows)
	}
	return values, nil
}

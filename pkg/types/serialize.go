package types

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Serialization is self-describing: every value writes a one-byte tag before
// its payload, so a column can hold NA cells (and lists can nest) without a
// side channel. All integers are big-endian.

// Serialize writes the binary form of the value to w.
func (v Value) Serialize(w io.Writer) error {
	if err := writeByte(w, byte(v.tag)); err != nil {
		return err
	}

	switch v.tag {
	case UndefinedType:
		return nil
	case IntType:
		return writeU64BE(w, uint64(v.i)) // #nosec G115
	case FloatType:
		return writeU64BE(w, math.Float64bits(v.f))
	case StringType:
		if err := writeU32BE(w, uint32(len(v.s))); err != nil {
			return err
		}
		_, err := io.WriteString(w, v.s)
		return err
	case VectorType:
		if err := writeU32BE(w, uint32(len(v.vec))); err != nil {
			return err
		}
		for _, f := range v.vec {
			if err := writeU64BE(w, math.Float64bits(f)); err != nil {
				return err
			}
		}
		return nil
	case ListType:
		if err := writeU32BE(w, uint32(len(v.list))); err != nil {
			return err
		}
		for _, e := range v.list {
			if err := e.Serialize(w); err != nil {
				return err
			}
		}
		return nil
	case DictType:
		if err := writeU32BE(w, uint32(len(v.dict))); err != nil {
			return err
		}
		for _, e := range v.dict {
			if err := e.Key.Serialize(w); err != nil {
				return err
			}
			if err := e.Val.Serialize(w); err != nil {
				return err
			}
		}
		return nil
	case DateTimeType:
		if err := writeU64BE(w, uint64(v.i)); err != nil { // #nosec G115
			return err
		}
		return writeU16BE(w, uint16(v.off)) // #nosec G115
	case NDArrayType:
		return serializeNDArray(w, v.nd.Compact())
	default:
		return fmt.Errorf("cannot serialize value with tag %d", v.tag)
	}
}

func serializeNDArray(w io.Writer, nd *NDArray) error {
	if err := writeByte(w, byte(len(nd.Shape))); err != nil {
		return err
	}
	for _, d := range nd.Shape {
		if err := writeU32BE(w, uint32(d)); err != nil {
			return err
		}
	}
	for _, s := range nd.Stride {
		if err := writeU32BE(w, uint32(s)); err != nil {
			return err
		}
	}
	if err := writeU32BE(w, uint32(len(nd.Elements))); err != nil {
		return err
	}
	for _, f := range nd.Elements {
		if err := writeU64BE(w, math.Float64bits(f)); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeValue reads one value previously written by Serialize.
func DeserializeValue(r io.Reader) (Value, error) {
	tag, err := readByte(r)
	if err != nil {
		return Value{}, err
	}

	switch Type(tag) {
	case UndefinedType:
		return NA(), nil
	case IntType:
		u, err := readU64BE(r)
		if err != nil {
			return Value{}, err
		}
		return NewInt(int64(u)), nil // #nosec G115
	case FloatType:
		u, err := readU64BE(r)
		if err != nil {
			return Value{}, err
		}
		return NewFloat(math.Float64frombits(u)), nil
	case StringType:
		n, err := readU32BE(r)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, err
		}
		return NewString(string(buf)), nil
	case VectorType:
		n, err := readU32BE(r)
		if err != nil {
			return Value{}, err
		}
		vec := make([]float64, n)
		for i := range vec {
			u, err := readU64BE(r)
			if err != nil {
				return Value{}, err
			}
			vec[i] = math.Float64frombits(u)
		}
		return NewVector(vec), nil
	case ListType:
		n, err := readU32BE(r)
		if err != nil {
			return Value{}, err
		}
		list := make([]Value, n)
		for i := range list {
			e, err := DeserializeValue(r)
			if err != nil {
				return Value{}, err
			}
			list[i] = e
		}
		return NewList(list), nil
	case DictType:
		n, err := readU32BE(r)
		if err != nil {
			return Value{}, err
		}
		entries := make([]DictEntry, n)
		for i := range entries {
			k, err := DeserializeValue(r)
			if err != nil {
				return Value{}, err
			}
			val, err := DeserializeValue(r)
			if err != nil {
				return Value{}, err
			}
			entries[i] = DictEntry{Key: k, Val: val}
		}
		return NewDict(entries), nil
	case DateTimeType:
		u, err := readU64BE(r)
		if err != nil {
			return Value{}, err
		}
		off, err := readU16BE(r)
		if err != nil {
			return Value{}, err
		}
		return Value{tag: DateTimeType, i: int64(u), off: int16(off)}, nil // #nosec G115
	case NDArrayType:
		nd, err := deserializeNDArray(r)
		if err != nil {
			return Value{}, err
		}
		return NewNDArray(nd), nil
	default:
		return Value{}, fmt.Errorf("unknown value tag %d in stream", tag)
	}
}

func deserializeNDArray(r io.Reader) (*NDArray, error) {
	ndim, err := readByte(r)
	if err != nil {
		return nil, err
	}
	shape := make([]int, ndim)
	for i := range shape {
		d, err := readU32BE(r)
		if err != nil {
			return nil, err
		}
		shape[i] = int(d)
	}
	stride := make([]int, ndim)
	for i := range stride {
		s, err := readU32BE(r)
		if err != nil {
			return nil, err
		}
		stride[i] = int(s)
	}
	n, err := readU32BE(r)
	if err != nil {
		return nil, err
	}
	elements := make([]float64, n)
	for i := range elements {
		u, err := readU64BE(r)
		if err != nil {
			return nil, err
		}
		elements[i] = math.Float64frombits(u)
	}
	return &NDArray{Elements: elements, Shape: shape, Stride: stride}, nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func writeU16BE(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU32BE(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64BE(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readU16BE(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readU32BE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readU64BE(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

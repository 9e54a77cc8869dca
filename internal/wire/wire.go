// Package wire implements the self-describing binary encoding used for the
// host<->guest RPC object graph, and the length-framed envelope it travels
// in. Byte strings are a distinct wire type from text strings so binary
// arguments round-trip untouched.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/oriys/capsule/internal/sandboxerr"
)

// MaxFrameBytes bounds a single framed payload. Oversize frames fail with
// a WireError rather than attempting to allocate unbounded memory.
const MaxFrameBytes = 8 * 1024 * 1024

type tag byte

const (
	tagNull tag = iota
	tagFalse
	tagTrue
	tagInt
	tagString
	tagBytes
	tagSequence
	tagMapping
)

// Bytes marks a value as a byte string for encoding purposes, distinct
// from Go's native string (which always encodes as a text string).
type Bytes []byte

// Encode serializes v into its wire representation. Supported Go types:
// nil, bool, int / int64, string, Bytes, []any (sequence), map[string]any
// (mapping, keys sorted for determinism).
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeInto(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInto(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(byte(tagNull))
	case bool:
		if val {
			buf.WriteByte(byte(tagTrue))
		} else {
			buf.WriteByte(byte(tagFalse))
		}
	case int:
		return encodeInt(buf, int64(val))
	case int32:
		return encodeInt(buf, int64(val))
	case int64:
		return encodeInt(buf, val)
	case uint32:
		return encodeInt(buf, int64(val))
	case string:
		return encodeBytesTagged(buf, tagString, []byte(val))
	case Bytes:
		return encodeBytesTagged(buf, tagBytes, []byte(val))
	case []byte:
		return encodeBytesTagged(buf, tagBytes, val)
	case []any:
		buf.WriteByte(byte(tagSequence))
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(val)))
		buf.Write(lenBuf[:])
		for _, item := range val {
			if err := encodeInto(buf, item); err != nil {
				return err
			}
		}
	case map[string]any:
		buf.WriteByte(byte(tagMapping))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(keys)))
		buf.Write(lenBuf[:])
		for _, k := range keys {
			if err := encodeBytesTagged(buf, tagString, []byte(k)); err != nil {
				return err
			}
			if err := encodeInto(buf, val[k]); err != nil {
				return err
			}
		}
	default:
		return sandboxerr.New(sandboxerr.KindWireError, fmt.Sprintf("unencodable type %T", v))
	}
	return nil
}

func encodeInt(buf *bytes.Buffer, n int64) error {
	buf.WriteByte(byte(tagInt))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	buf.Write(b[:])
	return nil
}

func encodeBytesTagged(buf *bytes.Buffer, t tag, data []byte) error {
	buf.WriteByte(byte(t))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
	return nil
}

// Decode parses a single wire-encoded value from data. data must hold
// exactly one value, as a framed message does; trailing bytes after it are
// a wire error.
func Decode(data []byte) (any, error) {
	v, rest, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, sandboxerr.New(sandboxerr.KindWireError, "trailing bytes after decoded value")
	}
	return v, nil
}

func decodeValue(data []byte) (any, []byte, error) {
	if len(data) < 1 {
		return nil, nil, sandboxerr.New(sandboxerr.KindWireError, "truncated value: missing tag")
	}
	t := tag(data[0])
	data = data[1:]
	switch t {
	case tagNull:
		return nil, data, nil
	case tagFalse:
		return false, data, nil
	case tagTrue:
		return true, data, nil
	case tagInt:
		if len(data) < 8 {
			return nil, nil, sandboxerr.New(sandboxerr.KindWireError, "truncated int")
		}
		n := int64(binary.BigEndian.Uint64(data[:8]))
		return n, data[8:], nil
	case tagString:
		b, rest, err := decodeLenPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		return string(b), rest, nil
	case tagBytes:
		b, rest, err := decodeLenPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		return Bytes(b), rest, nil
	case tagSequence:
		if len(data) < 4 {
			return nil, nil, sandboxerr.New(sandboxerr.KindWireError, "truncated sequence length")
		}
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		seq := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			var item any
			var err error
			item, data, err = decodeValue(data)
			if err != nil {
				return nil, nil, err
			}
			seq = append(seq, item)
		}
		return seq, data, nil
	case tagMapping:
		if len(data) < 4 {
			return nil, nil, sandboxerr.New(sandboxerr.KindWireError, "truncated mapping length")
		}
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		m := make(map[string]any, n)
		for i := uint32(0); i < n; i++ {
			if len(data) < 1 || tag(data[0]) != tagString {
				return nil, nil, sandboxerr.New(sandboxerr.KindWireError, "mapping key is not a string")
			}
			keyBytes, rest, err := decodeLenPrefixed(data[1:])
			if err != nil {
				return nil, nil, err
			}
			data = rest
			var val any
			val, data, err = decodeValue(data)
			if err != nil {
				return nil, nil, err
			}
			m[string(keyBytes)] = val
		}
		return m, data, nil
	default:
		return nil, nil, sandboxerr.New(sandboxerr.KindWireError, fmt.Sprintf("unknown wire tag %d", t))
	}
}

func decodeLenPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, sandboxerr.New(sandboxerr.KindWireError, "truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, sandboxerr.New(sandboxerr.KindWireError, "truncated byte payload")
	}
	return data[:n], data[n:], nil
}

// WriteFrame writes payload prefixed with its 4-byte big-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return sandboxerr.New(sandboxerr.KindWireError, fmt.Sprintf("frame too large: %d bytes", len(payload)))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return sandboxerr.Wrap(sandboxerr.KindConnectionClosed, "write frame header", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return sandboxerr.Wrap(sandboxerr.KindConnectionClosed, "write frame payload", err)
	}
	return nil
}

// ReadFrame reads one complete length-prefixed frame, looping until the
// prefixed length is satisfied. A zero-length read before completion (io.EOF
// mid-frame) is reported as ConnectionClosed; reads satisfying a frame of
// size 0 succeed and return an empty slice.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindConnectionClosed, "read frame header", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameBytes {
		return nil, sandboxerr.New(sandboxerr.KindWireError, fmt.Sprintf("frame too large: %d bytes", n))
	}
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindConnectionClosed, "read frame payload", err)
	}
	return payload, nil
}

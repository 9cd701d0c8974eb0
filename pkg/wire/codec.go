// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package wire implements the binary IPC encoding (§4.1) used to cross any
// process boundary: the subprocess pipe, the shared-memory ring, and the
// remote websocket transport all frame RuntimeData the same way, so a
// capture from one can be replayed against another during debugging.
//
// Every frame is little-endian and begins with a one-byte tag matching
// runtimedata.Kind, followed by a variant-specific fixed header and then
// the variable-length payload. There is no outer length prefix here;
// callers that need message framing over a stream (subprocess pipes,
// websockets) add their own length prefix around Encode's output, which is
// exactly what EncodeFramed/DecodeFramed below do.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

var byteOrder = binary.LittleEndian

// Encode serializes v into the binary wire format. It does not validate v;
// callers should call v.Validate() first if they want build-time invariant
// errors instead of possibly-confusing decode failures downstream.
func Encode(v runtimedata.RuntimeData) ([]byte, error) {
	var buf bytes.Buffer
	if err := write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func write(w io.Writer, v runtimedata.RuntimeData) error {
	if err := binary.Write(w, byteOrder, uint8(v.Kind())); err != nil {
		return err
	}
	switch t := v.(type) {
	case *runtimedata.Audio:
		return writeAudio(w, t)
	case *runtimedata.Video:
		return writeVideo(w, t)
	case *runtimedata.Text:
		return writeText(w, t)
	case *runtimedata.Numpy:
		return writeNumpy(w, t)
	case *runtimedata.ControlMessage:
		return writeControlMessage(w, t)
	case *runtimedata.JSON:
		return writeJSON(w, t)
	case *runtimedata.Binary:
		return writeBinary(w, t)
	default:
		return fmt.Errorf("wire: encode: unsupported runtime data type %T", v)
	}
}

// Decode parses a single frame produced by Encode out of b, returning the
// decoded value and the number of bytes consumed.
func Decode(b []byte) (runtimedata.RuntimeData, int, error) {
	r := bytes.NewReader(b)
	v, err := read(r)
	if err != nil {
		return nil, 0, err
	}
	return v, len(b) - r.Len(), nil
}

func read(r *bytes.Reader) (runtimedata.RuntimeData, error) {
	var tag uint8
	if err := binary.Read(r, byteOrder, &tag); err != nil {
		return nil, fmt.Errorf("wire: decode: read tag: %w", err)
	}
	switch runtimedata.Kind(tag) {
	case runtimedata.KindAudio:
		return readAudio(r)
	case runtimedata.KindVideo:
		return readVideo(r)
	case runtimedata.KindText:
		return readText(r)
	case runtimedata.KindNumpy:
		return readNumpy(r)
	case runtimedata.KindControlMessage:
		return readControlMessage(r)
	case runtimedata.KindJSON:
		return readJSON(r)
	case runtimedata.KindBinary:
		return readBinary(r)
	default:
		return nil, fmt.Errorf("wire: decode: unknown tag %d", tag)
	}
}

// writeStr16 writes a string prefixed with a u16le length, matching the
// *_len:u16le fields §4.1 uses for stream_id/session_id/dtype.
func writeStr16(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("wire: string of length %d exceeds u16 length prefix", len(s))
	}
	if err := binary.Write(w, byteOrder, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readStr16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeBytes32 writes a byte slice prefixed with a u32le length, matching
// the *_bytes/*_len:u32le fields §4.1 uses for sample/pixel/text/data/
// payload bodies.
func writeBytes32(w io.Writer, b []byte) error {
	if err := binary.Write(w, byteOrder, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeAudio matches §4.1: tag=1 | sr:u32le | channels:u16le |
// sample_format:u8 | stream_id_len:u16le | stream_id | ts:u64le |
// sample_bytes:u32le | samples.
func writeAudio(w io.Writer, a *runtimedata.Audio) error {
	if err := binary.Write(w, byteOrder, a.SampleRateHz); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, a.Channels); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint8(a.Format)); err != nil {
		return err
	}
	if err := writeStr16(w, a.StreamIDV); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, a.TimestampUsV); err != nil {
		return err
	}
	return writeBytes32(w, a.Samples)
}

func readAudio(r *bytes.Reader) (*runtimedata.Audio, error) {
	a := &runtimedata.Audio{}
	var err error
	if err = binary.Read(r, byteOrder, &a.SampleRateHz); err != nil {
		return nil, err
	}
	if err = binary.Read(r, byteOrder, &a.Channels); err != nil {
		return nil, err
	}
	var format uint8
	if err = binary.Read(r, byteOrder, &format); err != nil {
		return nil, err
	}
	a.Format = runtimedata.SampleFormat(format)
	if a.StreamIDV, err = readStr16(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, byteOrder, &a.TimestampUsV); err != nil {
		return nil, err
	}
	if a.Samples, err = readBytes32(r); err != nil {
		return nil, err
	}
	return a, nil
}

// writeVideo matches §4.1: tag=2 | w:u32le | h:u32le | fmt:u8 | frame#:u64le
// | ts:u64le | stream_id_len:u16le | stream_id | pix_bytes:u32le | pixels.
func writeVideo(w io.Writer, v *runtimedata.Video) error {
	if err := binary.Write(w, byteOrder, v.Width); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, v.Height); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint8(v.Format)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, v.FrameNumber); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, v.TimestampUsV); err != nil {
		return err
	}
	if err := writeStr16(w, v.StreamIDV); err != nil {
		return err
	}
	return writeBytes32(w, v.PixelData)
}

func readVideo(r *bytes.Reader) (*runtimedata.Video, error) {
	v := &runtimedata.Video{}
	var err error
	if err = binary.Read(r, byteOrder, &v.Width); err != nil {
		return nil, err
	}
	if err = binary.Read(r, byteOrder, &v.Height); err != nil {
		return nil, err
	}
	var format uint8
	if err = binary.Read(r, byteOrder, &format); err != nil {
		return nil, err
	}
	v.Format = runtimedata.PixelFormat(format)
	if err = binary.Read(r, byteOrder, &v.FrameNumber); err != nil {
		return nil, err
	}
	if err = binary.Read(r, byteOrder, &v.TimestampUsV); err != nil {
		return nil, err
	}
	if v.StreamIDV, err = readStr16(r); err != nil {
		return nil, err
	}
	if v.PixelData, err = readBytes32(r); err != nil {
		return nil, err
	}
	return v, nil
}

// writeText matches §4.1: tag=3 | stream_id_len:u16le | stream_id |
// text_len:u32le | utf-8. Timestamp is not part of the wire layout for
// Text; in-memory Text carries one anyway for stream ordering checks, and
// it round-trips as zero across the wire.
func writeText(w io.Writer, t *runtimedata.Text) error {
	if err := writeStr16(w, t.StreamIDV); err != nil {
		return err
	}
	return writeBytes32(w, []byte(t.Content))
}

func readText(r *bytes.Reader) (*runtimedata.Text, error) {
	t := &runtimedata.Text{}
	var err error
	if t.StreamIDV, err = readStr16(r); err != nil {
		return nil, err
	}
	content, err := readBytes32(r)
	if err != nil {
		return nil, err
	}
	t.Content = string(content)
	return t, nil
}

// writeNumpy matches §4.1: tag=4 | ndim:u8 | dtype_len:u16le | dtype |
// shape (ndim × u64le) | strides (ndim × i64le) | flags:u8 | data_len:u32le
// | data.
func writeNumpy(w io.Writer, n *runtimedata.Numpy) error {
	if len(n.Shape) > 0xFF {
		return fmt.Errorf("wire: numpy ndim %d exceeds u8 rank field", len(n.Shape))
	}
	if err := binary.Write(w, byteOrder, uint8(len(n.Shape))); err != nil {
		return err
	}
	if err := writeStr16(w, n.DType); err != nil {
		return err
	}
	for _, dim := range n.Shape {
		if err := binary.Write(w, byteOrder, dim); err != nil {
			return err
		}
	}
	for _, stride := range n.Strides {
		if err := binary.Write(w, byteOrder, stride); err != nil {
			return err
		}
	}
	var flags uint8
	if n.CContiguous {
		flags |= 1 << 0
	}
	if n.FContiguous {
		flags |= 1 << 1
	}
	if err := binary.Write(w, byteOrder, flags); err != nil {
		return err
	}
	return writeBytes32(w, n.Data)
}

func readNumpy(r *bytes.Reader) (*runtimedata.Numpy, error) {
	n := &runtimedata.Numpy{}
	var ndim uint8
	if err := binary.Read(r, byteOrder, &ndim); err != nil {
		return nil, err
	}
	dtype, err := readStr16(r)
	if err != nil {
		return nil, err
	}
	n.DType = dtype
	n.Shape = make([]uint64, ndim)
	for i := range n.Shape {
		if err := binary.Read(r, byteOrder, &n.Shape[i]); err != nil {
			return nil, err
		}
	}
	n.Strides = make([]int64, ndim)
	for i := range n.Strides {
		if err := binary.Read(r, byteOrder, &n.Strides[i]); err != nil {
			return nil, err
		}
	}
	var flags uint8
	if err := binary.Read(r, byteOrder, &flags); err != nil {
		return nil, err
	}
	n.CContiguous = flags&(1<<0) != 0
	n.FContiguous = flags&(1<<1) != 0
	if n.Data, err = readBytes32(r); err != nil {
		return nil, err
	}
	return n, nil
}

// writeControlMessage matches §4.1: tag=5 | session_id_len:u16le |
// session_id | ts:u64le | payload_len:u32le | payload_json.
func writeControlMessage(w io.Writer, c *runtimedata.ControlMessage) error {
	if err := writeStr16(w, c.SessionID); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.TimestampUs); err != nil {
		return err
	}
	return writeBytes32(w, c.Payload)
}

func readControlMessage(r *bytes.Reader) (*runtimedata.ControlMessage, error) {
	c := &runtimedata.ControlMessage{}
	var err error
	if c.SessionID, err = readStr16(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, byteOrder, &c.TimestampUs); err != nil {
		return nil, err
	}
	if c.Payload, err = readBytes32(r); err != nil {
		return nil, err
	}
	return c, nil
}

// writeJSON/writeBinary are not named in §4.1 (it enumerates tags 1-5);
// they extend the same tag+length-prefixed style for the two escape-hatch
// variants named in §3.
func writeJSON(w io.Writer, j *runtimedata.JSON) error {
	if err := writeStr16(w, j.SchemaTag); err != nil {
		return err
	}
	return writeBytes32(w, j.Payload)
}

func readJSON(r *bytes.Reader) (*runtimedata.JSON, error) {
	j := &runtimedata.JSON{}
	var err error
	if j.SchemaTag, err = readStr16(r); err != nil {
		return nil, err
	}
	if j.Payload, err = readBytes32(r); err != nil {
		return nil, err
	}
	return j, nil
}

func writeBinary(w io.Writer, b *runtimedata.Binary) error {
	if err := writeStr16(w, b.ContentType); err != nil {
		return err
	}
	return writeBytes32(w, b.Bytes)
}

func readBinary(r *bytes.Reader) (*runtimedata.Binary, error) {
	b := &runtimedata.Binary{}
	var err error
	if b.ContentType, err = readStr16(r); err != nil {
		return nil, err
	}
	if b.Bytes, err = readBytes32(r); err != nil {
		return nil, err
	}
	return b, nil
}

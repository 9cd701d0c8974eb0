// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// MaxFrameBytes bounds a single framed message to guard subprocess and
// remote transports against a corrupt or adversarial length prefix
// allocating an unbounded buffer.
const MaxFrameBytes = 64 * 1024 * 1024

// EncodeFramed writes v to w prefixed with a uint32 length, for use over
// byte streams (subprocess stdio pipes, websocket binary messages) that
// have no message boundaries of their own.
func EncodeFramed(w io.Writer, v runtimedata.RuntimeData) error {
	body, err := Encode(v)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameBytes {
		return fmt.Errorf("wire: encode framed: frame of %d bytes exceeds max %d", len(body), MaxFrameBytes)
	}
	if err := binary.Write(w, byteOrder, uint32(len(body))); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// DecodeFramed reads one length-prefixed frame from r and decodes it.
func DecodeFramed(r io.Reader) (runtimedata.RuntimeData, error) {
	var n uint32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return nil, err
	}
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("wire: decode framed: frame of %d bytes exceeds max %d", n, MaxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: decode framed: %w", err)
	}
	v, _, err := Decode(buf)
	return v, err
}

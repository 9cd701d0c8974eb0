// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runtimedata

import (
	"encoding/json"
	"fmt"
)

// knownItemSizes maps the numpy dtype strings this implementation can
// verify byte-length against. Dtype is an open string per the data model,
// so an unrecognized dtype is accepted (the core treats it as an opaque
// zero-copy passthrough) and only the shape/stride self-consistency is
// checked, not the data length.
var knownItemSizes = map[string]int{
	"float32": 4, "float64": 8,
	"int8": 1, "int16": 2, "int32": 4, "int64": 8,
	"uint8": 1, "uint16": 2, "uint32": 4, "uint64": 8,
	"bool": 1, "complex64": 8, "complex128": 16,
}

// Numpy preserves a full numpy array memory layout (shape, strides,
// contiguity flags) for zero-copy passthrough between nodes, e.g. a
// feature-vector tensor handed from a VAD node to a downstream classifier
// without a reshape/copy at the boundary.
type Numpy struct {
	Data         []byte
	Shape        []uint64
	DType        string
	Strides      []int64
	CContiguous  bool
	FContiguous  bool
}

func (n *Numpy) Kind() Kind { return KindNumpy }

// ElementCount returns the product of Shape (1 for a 0-rank/scalar array).
func (n *Numpy) ElementCount() uint64 {
	count := uint64(1)
	for _, dim := range n.Shape {
		count *= dim
	}
	return count
}

func rowMajorStrides(shape []uint64, itemSize int) []int64 {
	strides := make([]int64, len(shape))
	stride := int64(itemSize)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= int64(shape[i])
	}
	return strides
}

func colMajorStrides(shape []uint64, itemSize int) []int64 {
	strides := make([]int64, len(shape))
	stride := int64(itemSize)
	for i := 0; i < len(shape); i++ {
		strides[i] = stride
		stride *= int64(shape[i])
	}
	return strides
}

func stridesEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Validate checks that shape and strides agree in rank and, where the
// producer asserted C or F contiguity, that the strides are exactly the
// ones implied by that layout for the declared dtype. Data length is
// checked against shape × itemsize only for dtypes this package recognizes.
func (n *Numpy) Validate() error {
	if len(n.Strides) != len(n.Shape) {
		return fmt.Errorf("numpy: strides rank %d does not match shape rank %d", len(n.Strides), len(n.Shape))
	}
	itemSize, known := knownItemSizes[n.DType]
	if !known {
		return nil
	}
	if itemSize <= 0 {
		return fmt.Errorf("numpy: invalid item size for dtype %q", n.DType)
	}
	if n.CContiguous && !stridesEqual(n.Strides, rowMajorStrides(n.Shape, itemSize)) {
		return fmt.Errorf("numpy: c_contiguous=true but strides %v are not row-major for shape %v dtype %s",
			n.Strides, n.Shape, n.DType)
	}
	if n.FContiguous && !stridesEqual(n.Strides, colMajorStrides(n.Shape, itemSize)) {
		return fmt.Errorf("numpy: f_contiguous=true but strides %v are not column-major for shape %v dtype %s",
			n.Strides, n.Shape, n.DType)
	}
	want := n.ElementCount() * uint64(itemSize)
	if uint64(len(n.Data)) != want {
		return fmt.Errorf("numpy: data length %d does not match shape %v dtype %s (expected %d)",
			len(n.Data), n.Shape, n.DType, want)
	}
	return nil
}

func jsonValid(b []byte) bool {
	return json.Valid(b)
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package runtimedata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumpyValidate(t *testing.T) {
	tests := []struct {
		name    string
		numpy   Numpy
		wantErr bool
	}{
		{
			name: "valid c-contiguous float32 matrix",
			numpy: Numpy{
				Shape: []uint64{2, 3}, Strides: []int64{12, 4}, DType: "float32",
				CContiguous: true, Data: make([]byte, 2*3*4),
			},
		},
		{
			name: "valid f-contiguous float64 matrix",
			numpy: Numpy{
				Shape: []uint64{2, 3}, Strides: []int64{8, 16}, DType: "float64",
				FContiguous: true, Data: make([]byte, 2*3*8),
			},
		},
		{
			name: "scalar ndim-0 array",
			numpy: Numpy{
				Shape: []uint64{}, Strides: []int64{}, DType: "int32",
				CContiguous: true, FContiguous: true, Data: make([]byte, 4),
			},
		},
		{
			name: "rank mismatch",
			numpy: Numpy{Shape: []uint64{2, 3}, Strides: []int64{4}, DType: "float32"},
			wantErr: true,
		},
		{
			name: "data length mismatch",
			numpy: Numpy{
				Shape: []uint64{2, 3}, Strides: []int64{12, 4}, DType: "float32",
				CContiguous: true, Data: make([]byte, 4),
			},
			wantErr: true,
		},
		{
			name: "strides inconsistent with c_contiguous flag",
			numpy: Numpy{
				Shape: []uint64{2, 3}, Strides: []int64{4, 4}, DType: "float32",
				CContiguous: true, Data: make([]byte, 2*3*4),
			},
			wantErr: true,
		},
		{
			name: "unknown dtype skips byte-length check",
			numpy: Numpy{Shape: []uint64{2}, Strides: []int64{16}, DType: "bfloat16_custom", Data: []byte{1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.numpy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNumpyElementCount(t *testing.T) {
	n := Numpy{Shape: []uint64{4, 5, 2}}
	assert.Equal(t, uint64(40), n.ElementCount())

	scalar := Numpy{Shape: []uint64{}}
	assert.Equal(t, uint64(1), scalar.ElementCount())
}

func TestRowMajorAndColMajorStrides(t *testing.T) {
	assert.Equal(t, []int64{12, 4}, rowMajorStrides([]uint64{2, 3}, 4))
	assert.Equal(t, []int64{4, 8}, colMajorStrides([]uint64{2, 3}, 4))
}

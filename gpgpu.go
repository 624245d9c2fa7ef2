// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gpgpu launches compute kernels compiled from source on a device.
//
// The root package holds the types shared by all layers: argument schemas,
// element data types, host value views and the error taxonomy.
package gpgpu

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"
)

// ToGXDType returns the GX data type of the elements of a numeric array.
// Types without a GX equivalent return dtype.Invalid.
func ToGXDType(k dtypes.DType) dtype.DataType {
	switch k {
	case dtypes.Bool:
		return dtype.Bool
	case dtypes.Float32:
		return dtype.Float32
	case dtypes.Float64:
		return dtype.Float64
	case dtypes.Int32:
		return dtype.Int32
	case dtypes.Int64:
		return dtype.Int64
	case dtypes.Uint32:
		return dtype.Uint32
	case dtypes.Uint64:
		return dtype.Uint64
	}
	return dtype.Invalid
}

// ArrayShape returns the one-dimensional GX shape of a host array
// holding numBytes bytes of elements of type dt.
func ArrayShape(dt dtypes.DType, numBytes int) *shape.Shape {
	size := dt.Size()
	if size <= 0 {
		size = 1
	}
	return &shape.Shape{
		DType:       ToGXDType(dt),
		AxisLengths: []int{numBytes / size},
	}
}

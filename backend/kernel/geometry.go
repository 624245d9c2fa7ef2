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

package kernel

import (
	"fmt"

	"github.com/gx-org/gpgpu"
)

// MaxDims is the maximum number of dimensions of a launch.
const MaxDims = 3

func geometryError(format string, a ...any) error {
	return &gpgpu.ArgumentError{Index: -1, Msg: fmt.Sprintf(format, a...)}
}

// Geometry is the N-dimensional index space of a launch.
type Geometry struct {
	global []int
	local  []int
}

// NewGeometry returns a launch geometry given global and local work sizes.
// A nil local uses work groups of one work item in each dimension.
func NewGeometry(global, local []int) (Geometry, error) {
	if len(global) == 0 || len(global) > MaxDims {
		return Geometry{}, geometryError("launch geometry has %d dimensions but a number between 1 and %d is required", len(global), MaxDims)
	}
	if local == nil {
		local = make([]int, len(global))
		for i := range local {
			local[i] = 1
		}
	}
	if len(local) != len(global) {
		return Geometry{}, geometryError("global work size has %d dimensions but local work size has %d", len(global), len(local))
	}
	for i, g := range global {
		if g <= 0 {
			return Geometry{}, geometryError("global work size %v: dimension %d is not positive", global, i)
		}
		if local[i] <= 0 {
			return Geometry{}, geometryError("local work size %v: dimension %d is not positive", local, i)
		}
	}
	return Geometry{
		global: append([]int{}, global...),
		local:  append([]int{}, local...),
	}, nil
}

// Dims returns the number of dimensions.
func (g Geometry) Dims() int {
	return len(g.global)
}

// Global returns a copy of the global work sizes.
func (g Geometry) Global() []int {
	return append([]int{}, g.global...)
}

// Local returns a copy of the local work sizes.
func (g Geometry) Local() []int {
	return append([]int{}, g.local...)
}

func (g Geometry) String() string {
	return fmt.Sprintf("global:%v local:%v", g.global, g.local)
}

// Configure binds a launch geometry to the kernel.
// No device work happens until the returned launcher is invoked.
func (k *Kernel) Configure(global, local []int) (*Launcher, error) {
	geom, err := NewGeometry(global, local)
	if err != nil {
		return nil, err
	}
	return &Launcher{kernel: k, geom: geom}, nil
}

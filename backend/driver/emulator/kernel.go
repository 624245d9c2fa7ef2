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

package emulator

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu/backend/driver"
)

type (
	// KernelFunc is the Go body of a kernel. It is called once per work-item.
	// args are the memory of the buffers bound to the kernel, by slot.
	KernelFunc func(item WorkItem, args [][]byte)

	// WorkItem identifies a work-item in the N-dimensional index space of a launch.
	WorkItem struct {
		Dims       int
		GlobalID   [3]int
		GlobalSize [3]int
		LocalID    [3]int
		LocalSize  [3]int
		GroupID    [3]int
	}
)

// Linear returns the row-major linear index of the work-item in the global index space.
func (w WorkItem) Linear() int {
	return w.GlobalID[0] + w.GlobalSize[0]*(w.GlobalID[1]+w.GlobalSize[1]*w.GlobalID[2])
}

type program struct {
	ctx    *context
	source string

	mu    sync.Mutex
	built bool
	decls []kernelDecl
}

func (p *program) Build() error {
	if err := p.ctx.check(OpBuild); err != nil {
		return err
	}
	decls, log, ok := compile(p.source)
	if !ok {
		return &driver.BuildError{Device: p.ctx.dev.Name(), Log: log}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.built = true
	p.decls = decls
	return nil
}

func (p *program) Kernel(name string) (driver.Kernel, error) {
	if err := p.ctx.check(OpKernel); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.built {
		return nil, driver.NewStatusError(string(OpKernel), driver.InvalidProgramExecutable)
	}
	for _, decl := range p.decls {
		if decl.name != name {
			continue
		}
		fn, ok := p.ctx.drv.kernels[name]
		if !ok {
			return nil, &driver.StatusError{
				Op:     string(OpKernel),
				Status: driver.InvalidKernelName,
				Err:    errors.Errorf("no Go body registered for kernel %q", name),
			}
		}
		return &kernel{
			prog: p,
			name: name,
			fn:   fn,
			args: make([]*buffer, decl.numArgs),
		}, nil
	}
	return nil, driver.NewStatusError(string(OpKernel), driver.InvalidKernelName)
}

func (p *program) Release() error {
	return nil
}

type kernel struct {
	prog *program
	name string
	fn   KernelFunc

	mu   sync.Mutex
	args []*buffer
}

func (k *kernel) Name() string {
	return k.name
}

func (k *kernel) SetArg(index int, buf driver.Buffer) error {
	if err := k.prog.ctx.drv.fault(OpSetArg); err != nil {
		return err
	}
	b, err := asBuffer(OpSetArg, buf)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if index < 0 || index >= len(k.args) {
		return driver.NewStatusError(string(OpSetArg), driver.InvalidArgIndex)
	}
	k.args[index] = b
	return nil
}

// snapshot returns the buffers bound to the kernel.
// OpenCL captures the argument values when a kernel is enqueued.
func (k *kernel) snapshot() ([]*buffer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, arg := range k.args {
		if arg == nil {
			return nil, driver.NewStatusError(string(OpLaunch), driver.InvalidKernelArgs)
		}
	}
	return append([]*buffer{}, k.args...), nil
}

func (k *kernel) Release() error {
	return nil
}

func run(fn KernelFunc, global, local []int, bufs []*buffer) error {
	mems := make([][]byte, len(bufs))
	for i, buf := range bufs {
		if buf.released.Load() {
			return driver.NewStatusError(string(OpExecute), driver.InvalidMemObject)
		}
		mems[i] = buf.mem
	}
	item := WorkItem{Dims: len(global)}
	for d := 0; d < 3; d++ {
		item.GlobalSize[d], item.LocalSize[d] = 1, 1
		if d < len(global) {
			item.GlobalSize[d], item.LocalSize[d] = global[d], local[d]
		}
	}
	for z := 0; z < item.GlobalSize[2]; z++ {
		for y := 0; y < item.GlobalSize[1]; y++ {
			for x := 0; x < item.GlobalSize[0]; x++ {
				item.GlobalID = [3]int{x, y, z}
				for d := 0; d < 3; d++ {
					item.LocalID[d] = item.GlobalID[d] % item.LocalSize[d]
					item.GroupID[d] = item.GlobalID[d] / item.LocalSize[d]
				}
				fn(item, mems)
			}
		}
	}
	return nil
}

func view[T any](mem []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(mem) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(mem))), len(mem)/size)
}

// Float32s returns the content of device memory as float32 values.
func Float32s(mem []byte) []float32 { return view[float32](mem) }

// Float64s returns the content of device memory as float64 values.
func Float64s(mem []byte) []float64 { return view[float64](mem) }

// Int32s returns the content of device memory as int32 values.
func Int32s(mem []byte) []int32 { return view[int32](mem) }

// Uint32s returns the content of device memory as uint32 values.
func Uint32s(mem []byte) []uint32 { return view[uint32](mem) }

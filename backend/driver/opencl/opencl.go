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

//go:build opencl

// Package opencl provides an OpenCL device driver.
//
// Build with the opencl tag and an OpenCL ICD loader installed.
package opencl

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/jgillich/go-opencl/cl"
	"github.com/gx-org/gpgpu/backend/driver"
)

// Name of the driver.
const Name = "opencl"

// Available is true when the package has been built with OpenCL support.
const Available = true

type clDriver struct{}

var _ driver.Driver = (*clDriver)(nil)

// New returns the OpenCL driver.
func New() (driver.Driver, error) {
	return &clDriver{}, nil
}

// clStatus maps the errors of go-opencl to their status code.
var clStatus = map[error]driver.Status{
	cl.ErrDeviceNotFound:                     driver.DeviceNotFound,
	cl.ErrDeviceNotAvailable:                 driver.DeviceNotAvailable,
	cl.ErrCompilerNotAvailable:               driver.CompilerNotAvailable,
	cl.ErrMemObjectAllocationFailure:         driver.MemObjectAllocationFailure,
	cl.ErrOutOfResources:                     driver.OutOfResources,
	cl.ErrOutOfHostMemory:                    driver.OutOfHostMemory,
	cl.ErrMemCopyOverlap:                     driver.MemCopyOverlap,
	cl.ErrBuildProgramFailure:                driver.BuildProgramFailure,
	cl.ErrMapFailure:                         driver.MapFailure,
	cl.ErrExecStatusErrorForEventsInWaitList: driver.ExecStatusErrorForEventsInWaitList,
	cl.ErrInvalidValue:                       driver.InvalidValue,
	cl.ErrInvalidDeviceType:                  driver.InvalidDeviceType,
	cl.ErrInvalidPlatform:                    driver.InvalidPlatform,
	cl.ErrInvalidDevice:                      driver.InvalidDevice,
	cl.ErrInvalidContext:                     driver.InvalidContext,
	cl.ErrInvalidQueueProperties:             driver.InvalidQueueProperties,
	cl.ErrInvalidCommandQueue:                driver.InvalidCommandQueue,
	cl.ErrInvalidHostPtr:                     driver.InvalidHostPtr,
	cl.ErrInvalidMemObject:                   driver.InvalidMemObject,
	cl.ErrInvalidBinary:                      driver.InvalidBinary,
	cl.ErrInvalidBuildOptions:                driver.InvalidBuildOptions,
	cl.ErrInvalidProgram:                     driver.InvalidProgram,
	cl.ErrInvalidProgramExecutable:           driver.InvalidProgramExecutable,
	cl.ErrInvalidKernelName:                  driver.InvalidKernelName,
	cl.ErrInvalidKernelDefinition:            driver.InvalidKernelDefinition,
	cl.ErrInvalidKernel:                      driver.InvalidKernel,
	cl.ErrInvalidArgIndex:                    driver.InvalidArgIndex,
	cl.ErrInvalidArgValue:                    driver.InvalidArgValue,
	cl.ErrInvalidArgSize:                     driver.InvalidArgSize,
	cl.ErrInvalidKernelArgs:                  driver.InvalidKernelArgs,
	cl.ErrInvalidWorkDimension:               driver.InvalidWorkDimension,
	cl.ErrInvalidWorkGroupSize:               driver.InvalidWorkGroupSize,
	cl.ErrInvalidWorkItemSize:                driver.InvalidWorkItemSize,
	cl.ErrInvalidGlobalOffset:                driver.InvalidGlobalOffset,
	cl.ErrInvalidEventWaitList:               driver.InvalidEventWaitList,
	cl.ErrInvalidEvent:                       driver.InvalidEvent,
	cl.ErrInvalidOperation:                   driver.InvalidOperation,
	cl.ErrInvalidBufferSize:                  driver.InvalidBufferSize,
	cl.ErrInvalidGlobalWorkSize:              driver.InvalidGlobalWorkSize,
	cl.ErrInvalidProperty:                    driver.InvalidProperty,
}

// statusOf returns the status code of an error returned by go-opencl.
func statusOf(err error) driver.Status {
	if code, ok := err.(cl.ErrOther); ok {
		return driver.Status(code)
	}
	if status, ok := clStatus[err]; ok {
		return status
	}
	return driver.OutOfResources
}

func statusError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &driver.StatusError{Op: op, Status: statusOf(err), Err: err}
}

func (*clDriver) Name() string {
	return Name
}

func (*clDriver) Platforms() ([]driver.Platform, error) {
	plats, err := cl.GetPlatforms()
	if err != nil {
		return nil, statusError("clGetPlatformIDs", err)
	}
	if len(plats) == 0 {
		return nil, driver.NewStatusError("clGetPlatformIDs", driver.PlatformNotFound)
	}
	result := make([]driver.Platform, len(plats))
	for i, p := range plats {
		result[i] = &clPlatform{plat: p}
	}
	return result, nil
}

type clPlatform struct {
	plat *cl.Platform
}

func (p *clPlatform) Name() string {
	return p.plat.Name()
}

func (p *clPlatform) Devices(class driver.DeviceClass) ([]driver.Device, error) {
	devs, err := p.plat.GetDevices(cl.DeviceType(class))
	if err != nil {
		return nil, statusError("clGetDeviceIDs", err)
	}
	result := make([]driver.Device, len(devs))
	for i, dev := range devs {
		result[i] = &clDevice{dev: dev, class: class}
	}
	return result, nil
}

type clDevice struct {
	dev   *cl.Device
	class driver.DeviceClass
}

func (d *clDevice) Name() string {
	return d.dev.Name()
}

func (d *clDevice) Class() driver.DeviceClass {
	return driver.DeviceClass(d.dev.Type())
}

func (d *clDevice) NewContext() (driver.Context, error) {
	ctx, err := cl.CreateContext([]*cl.Device{d.dev})
	if err != nil {
		return nil, statusError("clCreateContext", err)
	}
	return &clContext{ctx: ctx, dev: d.dev}, nil
}

type clContext struct {
	ctx *cl.Context
	dev *cl.Device
}

func (c *clContext) NewQueue() (driver.Queue, error) {
	q, err := c.ctx.CreateCommandQueue(c.dev, 0)
	if err != nil {
		return nil, statusError("clCreateCommandQueue", err)
	}
	return &clQueue{queue: q}, nil
}

func (c *clContext) NewProgram(source string) (driver.Program, error) {
	prog, err := c.ctx.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, statusError("clCreateProgramWithSource", err)
	}
	return &clProgram{prog: prog, dev: c.dev}, nil
}

func (c *clContext) NewBuffer(size int) (driver.Buffer, error) {
	mem, err := c.ctx.CreateEmptyBuffer(cl.MemReadWrite, size)
	if err != nil {
		return nil, statusError("clCreateBuffer", err)
	}
	return &clBuffer{mem: mem, size: size}, nil
}

func (c *clContext) Release() error {
	c.ctx.Release()
	return nil
}

type clProgram struct {
	prog *cl.Program
	dev  *cl.Device
}

// Build the program.
// go-opencl reads the build log in a single query into a 1 MiB buffer.
func (p *clProgram) Build() error {
	err := p.prog.BuildProgram([]*cl.Device{p.dev}, "")
	if err == nil {
		return nil
	}
	var buildErr cl.BuildError
	if errors.As(err, &buildErr) {
		return &driver.BuildError{Device: p.dev.Name(), Log: string(buildErr)}
	}
	return statusError("clBuildProgram", err)
}

func (p *clProgram) Kernel(name string) (driver.Kernel, error) {
	k, err := p.prog.CreateKernel(name)
	if err != nil {
		return nil, statusError("clCreateKernel", err)
	}
	return &clKernel{kernel: k, name: name}, nil
}

func (p *clProgram) Release() error {
	p.prog.Release()
	return nil
}

type clKernel struct {
	kernel *cl.Kernel
	name   string
}

func (k *clKernel) Name() string {
	return k.name
}

func (k *clKernel) SetArg(index int, buf driver.Buffer) error {
	b, ok := buf.(*clBuffer)
	if !ok {
		return driver.NewStatusError("clSetKernelArg", driver.InvalidMemObject)
	}
	return statusError("clSetKernelArg", k.kernel.SetArg(index, b.mem))
}

func (k *clKernel) Release() error {
	k.kernel.Release()
	return nil
}

type clBuffer struct {
	mem  *cl.MemObject
	size int
}

func (b *clBuffer) Size() int {
	return b.size
}

func (b *clBuffer) Release() error {
	b.mem.Release()
	return nil
}

// clEvent wraps an OpenCL event.
// Host memory written by the command is pinned until the event is released.
type clEvent struct {
	event  *cl.Event
	pinner *runtime.Pinner
}

func (e *clEvent) Wait() error {
	return statusError("clWaitForEvents", cl.WaitForEvents([]*cl.Event{e.event}))
}

func (e *clEvent) Release() error {
	e.event.Release()
	if e.pinner != nil {
		e.pinner.Unpin()
	}
	return nil
}

func toEvents(events []driver.Event) []*cl.Event {
	var result []*cl.Event
	for _, ev := range events {
		if clEv, ok := ev.(*clEvent); ok {
			result = append(result, clEv.event)
		}
	}
	return result
}

type clQueue struct {
	queue *cl.CommandQueue
}

func (q *clQueue) Write(buf driver.Buffer, data []byte) error {
	b, ok := buf.(*clBuffer)
	if !ok {
		return driver.NewStatusError("clEnqueueWriteBuffer", driver.InvalidMemObject)
	}
	ev, err := q.queue.EnqueueWriteBuffer(b.mem, true, 0, len(data), unsafe.Pointer(unsafe.SliceData(data)), nil)
	if err != nil {
		return statusError("clEnqueueWriteBuffer", err)
	}
	ev.Release()
	return nil
}

func (q *clQueue) Launch(k driver.Kernel, global, local []int) (driver.Event, error) {
	kern, ok := k.(*clKernel)
	if !ok {
		return nil, driver.NewStatusError("clEnqueueNDRangeKernel", driver.InvalidKernel)
	}
	ev, err := q.queue.EnqueueNDRangeKernel(kern.kernel, nil, global, local, nil)
	if err != nil {
		return nil, statusError("clEnqueueNDRangeKernel", err)
	}
	return &clEvent{event: ev}, nil
}

func (q *clQueue) Read(buf driver.Buffer, dst []byte, waitFor []driver.Event) (driver.Event, error) {
	b, ok := buf.(*clBuffer)
	if !ok {
		return nil, driver.NewStatusError("clEnqueueReadBuffer", driver.InvalidMemObject)
	}
	ptr := unsafe.SliceData(dst)
	pinner := &runtime.Pinner{}
	pinner.Pin(ptr)
	ev, err := q.queue.EnqueueReadBuffer(b.mem, false, 0, len(dst), unsafe.Pointer(ptr), toEvents(waitFor))
	if err != nil {
		pinner.Unpin()
		return nil, statusError("clEnqueueReadBuffer", err)
	}
	return &clEvent{event: ev, pinner: pinner}, nil
}

func (q *clQueue) Flush() error {
	return statusError("clFlush", q.queue.Flush())
}

func (q *clQueue) Finish() error {
	return statusError("clFinish", q.queue.Finish())
}

func (q *clQueue) Release() error {
	q.queue.Release()
	return nil
}

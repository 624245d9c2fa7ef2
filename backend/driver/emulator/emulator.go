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

// Package emulator provides a software device driver.
//
// Kernel sources are checked for syntax errors and kernel declarations,
// but kernel bodies are Go functions registered with WithKernel.
// Commands execute in order on one goroutine per queue.
package emulator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu/backend/driver"
)

// Name of the driver.
const Name = "emulator"

// Op identifies a device API call for fault injection and history.
type Op string

// Device API calls of the emulator.
const (
	OpPlatforms   Op = "clGetPlatformIDs"
	OpDevices     Op = "clGetDeviceIDs"
	OpContext     Op = "clCreateContext"
	OpQueue       Op = "clCreateCommandQueue"
	OpProgram     Op = "clCreateProgramWithSource"
	OpBuild       Op = "clBuildProgram"
	OpKernel      Op = "clCreateKernel"
	OpBuffer      Op = "clCreateBuffer"
	OpSetArg      Op = "clSetKernelArg"
	OpWrite       Op = "clEnqueueWriteBuffer"
	OpLaunch      Op = "clEnqueueNDRangeKernel"
	OpExecute     Op = "kernel execution"
	OpRead        Op = "clEnqueueReadBuffer"
	OpFinish      Op = "clFinish"
	OpWaitEvents  Op = "clWaitForEvents"
	OpFlush       Op = "clFlush"
	OpReleaseCtxt Op = "clReleaseContext"
)

type (
	// Option configures an emulator driver.
	Option func(*Driver)

	// DeviceSpec describes an emulated device.
	DeviceSpec struct {
		Name  string
		Class driver.DeviceClass
	}

	// Command is an entry of the history of executed commands.
	Command struct {
		Op     Op
		Kernel string
		Bytes  int
	}

	// Driver is an emulated device driver.
	Driver struct {
		platforms []*platform
		kernels   map[string]KernelFunc
		latency   time.Duration

		mu      sync.Mutex
		faults  map[Op][]driver.Status
		history []Command

		liveBuffers  atomic.Int64
		liveContexts atomic.Int64
	}
)

var _ driver.Driver = (*Driver)(nil)

// WithKernel registers the Go body of a kernel given its name.
func WithKernel(name string, fn KernelFunc) Option {
	return func(d *Driver) {
		d.kernels[name] = fn
	}
}

// WithPlatform adds a platform with the given devices.
// The first call replaces the default platform.
func WithPlatform(name string, devices ...DeviceSpec) Option {
	return func(d *Driver) {
		if len(d.platforms) == 1 && d.platforms[0].isDefault {
			d.platforms = nil
		}
		d.platforms = append(d.platforms, newPlatform(d, name, devices))
	}
}

// WithoutPlatforms removes all platforms.
func WithoutPlatforms() Option {
	return func(d *Driver) {
		d.platforms = nil
	}
}

// WithLatency delays the execution of every kernel.
func WithLatency(latency time.Duration) Option {
	return func(d *Driver) {
		d.latency = latency
	}
}

// WithFault makes the next call to op fail with status.
func WithFault(op Op, status driver.Status) Option {
	return func(d *Driver) {
		d.FailNext(op, status)
	}
}

// New returns a new emulator driver.
// By default, the driver has one platform with a GPU and a CPU device.
func New(opts ...Option) *Driver {
	d := &Driver{
		kernels: make(map[string]KernelFunc),
		faults:  make(map[Op][]driver.Status),
	}
	def := newPlatform(d, "Emulator", []DeviceSpec{
		{Name: "Emulated GPU", Class: driver.ClassGPU},
		{Name: "Emulated CPU", Class: driver.ClassCPU},
	})
	def.isDefault = true
	d.platforms = []*platform{def}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name of the driver.
func (d *Driver) Name() string {
	return Name
}

// Platforms returns the emulated platforms.
func (d *Driver) Platforms() ([]driver.Platform, error) {
	if err := d.fault(OpPlatforms); err != nil {
		return nil, err
	}
	if len(d.platforms) == 0 {
		return nil, driver.NewStatusError(string(OpPlatforms), driver.PlatformNotFound)
	}
	plats := make([]driver.Platform, len(d.platforms))
	for i, p := range d.platforms {
		plats[i] = p
	}
	return plats, nil
}

// FailNext makes the next call to op fail with status.
// Calling FailNext several times for the same op queues the failures.
func (d *Driver) FailNext(op Op, status driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], status)
}

func (d *Driver) fault(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	statuses := d.faults[op]
	if len(statuses) == 0 {
		return nil
	}
	d.faults[op] = statuses[1:]
	return driver.NewStatusError(string(op), statuses[0])
}

func (d *Driver) record(cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, cmd)
}

// History returns the commands executed by all queues, in execution order.
func (d *Driver) History() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command{}, d.history...)
}

// LiveBuffers returns the number of buffers allocated but not released.
func (d *Driver) LiveBuffers() int {
	return int(d.liveBuffers.Load())
}

// LiveContexts returns the number of contexts created but not released.
func (d *Driver) LiveContexts() int {
	return int(d.liveContexts.Load())
}

type platform struct {
	drv       *Driver
	name      string
	devices   []*device
	isDefault bool
}

func newPlatform(d *Driver, name string, specs []DeviceSpec) *platform {
	p := &platform{drv: d, name: name}
	for _, spec := range specs {
		p.devices = append(p.devices, &device{plat: p, spec: spec})
	}
	return p
}

func (p *platform) Name() string {
	return p.name
}

func (p *platform) Devices(class driver.DeviceClass) ([]driver.Device, error) {
	if err := p.drv.fault(OpDevices); err != nil {
		return nil, err
	}
	var devs []driver.Device
	for _, dev := range p.devices {
		if class == driver.ClassDefault || class.Matches(dev.spec.Class) {
			devs = append(devs, dev)
		}
		if class == driver.ClassDefault && len(devs) > 0 {
			break
		}
	}
	if len(devs) == 0 {
		return nil, driver.NewStatusError(string(OpDevices), driver.DeviceNotFound)
	}
	return devs, nil
}

type device struct {
	plat *platform
	spec DeviceSpec
}

func (dev *device) Name() string {
	return dev.spec.Name
}

func (dev *device) Class() driver.DeviceClass {
	return dev.spec.Class
}

func (dev *device) NewContext() (driver.Context, error) {
	if err := dev.plat.drv.fault(OpContext); err != nil {
		return nil, err
	}
	dev.plat.drv.liveContexts.Add(1)
	return &context{drv: dev.plat.drv, dev: dev}, nil
}

type context struct {
	drv      *Driver
	dev      *device
	released atomic.Bool
}

func (ctx *context) check(op Op) error {
	if ctx.released.Load() {
		return driver.NewStatusError(string(op), driver.InvalidContext)
	}
	return ctx.drv.fault(op)
}

func (ctx *context) NewQueue() (driver.Queue, error) {
	if err := ctx.check(OpQueue); err != nil {
		return nil, err
	}
	return newQueue(ctx), nil
}

func (ctx *context) NewProgram(source string) (driver.Program, error) {
	if err := ctx.check(OpProgram); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, driver.NewStatusError(string(OpProgram), driver.InvalidValue)
	}
	return &program{ctx: ctx, source: source}, nil
}

func (ctx *context) NewBuffer(size int) (driver.Buffer, error) {
	if err := ctx.check(OpBuffer); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, driver.NewStatusError(string(OpBuffer), driver.InvalidBufferSize)
	}
	ctx.drv.liveBuffers.Add(1)
	return &buffer{ctx: ctx, mem: make([]byte, size)}, nil
}

func (ctx *context) Release() error {
	if !ctx.released.CompareAndSwap(false, true) {
		return driver.NewStatusError(string(OpReleaseCtxt), driver.InvalidContext)
	}
	ctx.drv.liveContexts.Add(-1)
	return nil
}

type buffer struct {
	ctx      *context
	mem      []byte
	released atomic.Bool
}

func (b *buffer) Size() int {
	return len(b.mem)
}

func (b *buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return errors.WithStack(driver.NewStatusError("clReleaseMemObject", driver.InvalidMemObject))
	}
	b.ctx.drv.liveBuffers.Add(-1)
	return nil
}

func asBuffer(op Op, buf driver.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.released.Load() {
		return nil, driver.NewStatusError(string(op), driver.InvalidMemObject)
	}
	return b, nil
}

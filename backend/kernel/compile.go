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

// Package kernel compiles device programs and launches their kernels.
//
// Compile builds a program and extracts its entry kernel. Configure binds a
// launch geometry to a kernel. Launch uploads the arguments, enqueues the
// kernel and returns a future settled once all outputs are back in host memory.
package kernel

import (
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/platform"
)

// DefaultEntryPoint is the name of the kernel extracted from a program.
const DefaultEntryPoint = "kernelFunc"

// WaitMode selects how the completion of a kernel is detected.
type WaitMode int

const (
	// WaitEvents waits on the events of the commands of an invocation.
	WaitEvents WaitMode = iota
	// WaitQueue waits for the command queue to be empty.
	// All invocations sharing the queue wait for each other.
	WaitQueue
)

func (m WaitMode) String() string {
	switch m {
	case WaitEvents:
		return "events"
	case WaitQueue:
		return "queue"
	}
	return "unknown"
}

// Slot is a device buffer bound before the arguments of a kernel.
type Slot struct {
	Name string
	Size int
}

// TranslatorSlots are the leading slots of kernels generated by source translators:
// a stack buffer followed by the size of the stack.
var TranslatorSlots = []Slot{
	{Name: "stack", Size: 4},
	{Name: "stackSize", Size: 8},
}

type (
	// Option configures the compilation of a kernel.
	Option func(*options)

	options struct {
		entryPoint string
		reserved   []Slot
		waitMode   WaitMode
		observer   func(State)
		log        *logr.Logger
	}
)

// WithEntryPoint sets the name of the kernel to extract from the program.
func WithEntryPoint(name string) Option {
	return func(o *options) {
		o.entryPoint = name
	}
}

// WithReservedSlots reserves leading kernel argument slots.
// A fresh buffer is allocated for each slot at every launch.
func WithReservedSlots(slots ...Slot) Option {
	return func(o *options) {
		o.reserved = append([]Slot{}, slots...)
	}
}

// WithWaitMode sets how launches detect the completion of the kernel.
func WithWaitMode(mode WaitMode) Option {
	return func(o *options) {
		o.waitMode = mode
	}
}

// WithStateObserver sets a function called on every state transition of a launch.
// The function is called from the loop goroutine or from a waiting goroutine.
func WithStateObserver(fn func(State)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithLogger sets the logger of the kernel.
// The default is the logger of the session.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = &log
	}
}

// Kernel is a compiled kernel with the schema of its arguments.
type Kernel struct {
	sess     *platform.Session
	program  driver.Program
	kernel   driver.Kernel
	name     string
	schema   gpgpu.Schema
	reserved []Slot
	waitMode WaitMode
	observer func(State)
	log      logr.Logger

	// mu makes binding arguments and enqueuing the kernel atomic:
	// kernel arguments are state shared by all launches.
	mu sync.Mutex
}

// Compile builds a program from source for the device of a session
// and extracts its entry kernel.
// A build failure returns a *gpgpu.CompileError with the build log.
func Compile(sess *platform.Session, source string, schema gpgpu.Schema, opts ...Option) (*Kernel, error) {
	start := time.Now()
	o := options{entryPoint: DefaultEntryPoint}
	for _, opt := range opts {
		opt(&o)
	}
	log := sess.Logger()
	if o.log != nil {
		log = *o.log
	}
	log = log.WithName("kernel").WithValues("entry", o.entryPoint)
	if strings.TrimSpace(source) == "" {
		return nil, &gpgpu.CompileError{Err: errors.Errorf("empty kernel source")}
	}
	for i, arg := range schema.Args() {
		if arg.Type == gpgpu.InvalidType || !arg.Access.Uploads() && !arg.Access.Downloads() {
			return nil, &gpgpu.ArgumentError{Index: i, Msg: "invalid argument declaration " + arg.String()}
		}
	}
	for _, slot := range o.reserved {
		if slot.Size <= 0 {
			return nil, errors.Errorf("reserved slot %q has an invalid size of %d bytes", slot.Name, slot.Size)
		}
	}
	program, err := sess.Context().NewProgram(source)
	if err != nil {
		log.Error(err, "cannot create program")
		return nil, &gpgpu.CompileError{Err: err}
	}
	if err := program.Build(); err != nil {
		program.Release()
		var buildErr *driver.BuildError
		if errors.As(err, &buildErr) {
			log.V(gpgpu.LevelDebug).Info("build failed", "log", buildErr.Log)
			return nil, &gpgpu.CompileError{Log: buildErr.Log, Err: err}
		}
		return nil, &gpgpu.CompileError{Err: err}
	}
	gpgpu.LogTime(log, "build program", start)
	kern, err := program.Kernel(o.entryPoint)
	if err != nil {
		program.Release()
		log.Error(err, "cannot extract kernel")
		return nil, &gpgpu.CompileError{Err: errors.Wrapf(err, "cannot extract kernel %q", o.entryPoint)}
	}
	log.V(gpgpu.LevelDebug).Info("kernel compiled", "schema", schema.String(), "reserved", len(o.reserved))
	return &Kernel{
		sess:     sess,
		program:  program,
		kernel:   kern,
		name:     o.entryPoint,
		schema:   schema,
		reserved: o.reserved,
		waitMode: o.waitMode,
		observer: o.observer,
		log:      log,
	}, nil
}

// Schema returns the declaration of the arguments of the kernel.
func (k *Kernel) Schema() gpgpu.Schema {
	return k.schema
}

// Session in which the kernel has been compiled.
func (k *Kernel) Session() *platform.Session {
	return k.sess
}

// Name of the kernel entry point.
func (k *Kernel) Name() string {
	return k.name
}

// Release the kernel and its program.
// Launches already armed complete normally.
func (k *Kernel) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.kernel == nil {
		return nil
	}
	kErr := k.kernel.Release()
	pErr := k.program.Release()
	k.kernel, k.program = nil, nil
	if kErr != nil {
		return &gpgpu.DeviceError{Op: "release kernel", Err: kErr}
	}
	if pErr != nil {
		return &gpgpu.DeviceError{Op: "release program", Err: pErr}
	}
	return nil
}

func (k *Kernel) String() string {
	return k.name + k.schema.String()
}

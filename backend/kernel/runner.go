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
	"time"

	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/platform"
	"github.com/gx-org/gpgpu/host"
)

// Launcher invokes a kernel with a given launch geometry.
// A launcher can be invoked any number of times, including concurrently.
type Launcher struct {
	kernel *Kernel
	geom   Geometry
}

// Kernel returns the kernel launched by the launcher.
func (l *Launcher) Kernel() *Kernel {
	return l.kernel
}

// Geometry returns the launch geometry.
func (l *Launcher) Geometry() Geometry {
	return l.geom
}

type output struct {
	index int
	buf   *platform.Buffer
	dst   []byte
}

// invocation owns the device buffers of one launch.
type invocation struct {
	kernel  *Kernel
	start   time.Time
	buffers []*platform.Buffer
	args    []*platform.Buffer
	outputs []output
}

func (inv *invocation) alloc(size int) (*platform.Buffer, error) {
	buf, err := inv.kernel.sess.NewBuffer(size)
	if err != nil {
		return nil, err
	}
	inv.buffers = append(inv.buffers, buf)
	return buf, nil
}

// prepare allocates the buffers of the reserved slots and of the arguments,
// and uploads the arguments read by the kernel.
func (inv *invocation) prepare(views [][]byte) error {
	for _, slot := range inv.kernel.reserved {
		if _, err := inv.alloc(slot.Size); err != nil {
			return err
		}
	}
	inv.args = make([]*platform.Buffer, len(views))
	for i, view := range views {
		arg := inv.kernel.schema.At(i)
		buf, err := inv.alloc(len(view))
		if err != nil {
			return err
		}
		inv.args[i] = buf
		if arg.Type == gpgpu.NumericArray {
			inv.kernel.log.V(gpgpu.LevelDebug).Info("argument", "index", i, "access", arg.Access.String(), "shape", gpgpu.ArrayShape(arg.DType, len(view)))
		} else {
			inv.kernel.log.V(gpgpu.LevelDebug).Info("argument", "index", i, "access", arg.Access.String(), "bytes", len(view))
		}
		if arg.Access.Uploads() {
			if err := buf.Upload(view); err != nil {
				return err
			}
		}
		if arg.Access.Downloads() {
			inv.outputs = append(inv.outputs, output{index: i, buf: buf, dst: view})
		}
	}
	return nil
}

// enqueue binds all the buffers to the kernel and enqueues the kernel.
// A non-nil event is returned only if the kernel has been enqueued.
func (inv *invocation) enqueue(geom Geometry) (driver.Event, error) {
	k := inv.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.kernel == nil {
		return nil, &gpgpu.DeviceError{Op: "bind", Err: fmt.Errorf("kernel %s has been released", k.name)}
	}
	for slot, buf := range inv.buffers {
		if err := k.kernel.SetArg(slot, buf.OnDeviceBuffer()); err != nil {
			return nil, &gpgpu.DeviceError{Op: "bind", Err: err}
		}
	}
	ev, err := k.sess.Queue().Launch(k.kernel, geom.global, geom.local)
	if err != nil {
		return nil, &gpgpu.DeviceError{Op: opEnqueue, Err: err}
	}
	return ev, nil
}

const opEnqueue = "enqueue"

// isEnqueueError returns true if the kernel was bound but could not be submitted.
// The failure is then reported through the future.
func isEnqueueError(err error) bool {
	var devErr *gpgpu.DeviceError
	return errors.As(err, &devErr) && devErr.Op == opEnqueue
}

func (inv *invocation) release() {
	for _, buf := range inv.buffers {
		if err := buf.Release(); err != nil {
			inv.kernel.log.Error(err, "cannot release device buffer")
		}
	}
	inv.buffers = nil
	inv.args = nil
	inv.outputs = nil
}

// Launch uploads the arguments, enqueues the kernel and returns a future
// settled once all write and readwrite arguments have been written back
// into the memory of the caller.
//
// The caller must not access the arguments until the future is settled.
// Launch returns an error without allocating any device memory if the
// arguments do not match the declaration of the kernel.
// Once the kernel has been submitted, failures are reported by the future.
func (l *Launcher) Launch(args ...any) (*host.Future[bool], error) {
	k := l.kernel
	if len(args) != k.schema.Len() {
		return nil, &gpgpu.ArgumentError{
			Index: -1,
			Msg:   fmt.Sprintf("kernel %s declares %d arguments but got %d", k.name, k.schema.Len(), len(args)),
		}
	}
	views := make([][]byte, len(args))
	for i, arg := range args {
		view, err := gpgpu.View(i, k.schema.At(i), arg)
		if err != nil {
			return nil, err
		}
		views[i] = view
	}
	done, err := k.sess.Track()
	if err != nil {
		return nil, &gpgpu.DeviceError{Op: "launch", Err: err}
	}
	inv := &invocation{kernel: k, start: time.Now()}
	if err := inv.prepare(views); err != nil {
		inv.release()
		done()
		return nil, err
	}
	ev, err := inv.enqueue(l.geom)
	if err != nil && !isEnqueueError(err) {
		inv.release()
		done()
		return nil, err
	}
	if err == nil {
		if flushErr := k.sess.Queue().Flush(); flushErr != nil {
			err = &gpgpu.DeviceError{Op: "flush", Err: flushErr}
		}
	}
	k.log.V(gpgpu.LevelDebug).Info("kernel enqueued", "geometry", l.geom.String(), "outputs", len(inv.outputs), "error", err)
	return arm(inv, ev, err, done), nil
}

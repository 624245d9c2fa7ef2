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
	"github.com/go-logr/logr"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/host"
)

// State of a launch between its submission and the settlement of its future.
type State int

const (
	// Armed is the state of a launch which has been submitted to the device.
	Armed State = iota
	// AwaitingCompute waits for the kernel to complete.
	AwaitingCompute
	// ReadbackEnqueued is the state once the copies of the outputs to the host have been enqueued.
	ReadbackEnqueued
	// AwaitingReadback waits for the copies of the outputs to complete.
	AwaitingReadback
	// Resolved is the final state: buffers have been released and the future settled.
	Resolved
)

var stateNames = map[State]string{
	Armed:            "armed",
	AwaitingCompute:  "awaiting compute",
	ReadbackEnqueued: "readback enqueued",
	AwaitingReadback: "awaiting readback",
	Resolved:         "resolved",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// bridge delivers the completion of a launch to the host loop.
//
// Waiting for the device happens on background goroutines.
// Every other step runs on the loop goroutine.
type bridge struct {
	inv      *invocation
	loop     *host.Loop
	queue    driver.Queue
	mode     WaitMode
	observer func(State)
	log      logr.Logger

	kernelEvent driver.Event
	readEvents  []driver.Event
	err         error

	promise *host.Promise[bool]
	unhold  func()
	done    func()
}

// arm takes ownership of a launch. If err is not nil, the future is rejected
// once the bridge has released the resources of the launch.
func arm(inv *invocation, kernelEvent driver.Event, err error, done func()) *host.Future[bool] {
	k := inv.kernel
	loop := k.sess.Loop()
	b := &bridge{
		inv:         inv,
		loop:        loop,
		queue:       k.sess.Queue(),
		mode:        k.waitMode,
		observer:    k.observer,
		log:         k.log,
		kernelEvent: kernelEvent,
		err:         err,
		promise:     host.NewPromise[bool](loop),
		unhold:      loop.Hold(),
		done:        done,
	}
	b.enter(Armed)
	if err != nil {
		b.post(b.resolve)
		return b.promise.Future()
	}
	b.enter(AwaitingCompute)
	go b.waitCompute()
	return b.promise.Future()
}

func (b *bridge) enter(s State) {
	b.log.V(gpgpu.LevelDebug).Info("launch state", "state", s.String())
	if b.observer != nil {
		b.observer(s)
	}
}

func (b *bridge) post(fn func()) {
	if !b.loop.Post(fn) {
		// The loop holds its termination until resolve runs.
		b.log.Error(host.ErrClosed, "cannot deliver launch completion")
	}
}

func (b *bridge) wait(events []driver.Event) error {
	if b.mode == WaitQueue {
		if err := b.queue.Finish(); err != nil {
			return err
		}
	}
	var first error
	for _, ev := range events {
		if err := ev.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// waitCompute runs on a background goroutine.
func (b *bridge) waitCompute() {
	err := b.wait([]driver.Event{b.kernelEvent})
	b.post(func() { b.enqueueReadback(err) })
}

// enqueueReadback runs on the loop goroutine.
func (b *bridge) enqueueReadback(computeErr error) {
	if computeErr != nil {
		b.err = &gpgpu.DeviceError{Op: "execute", Err: computeErr}
		b.resolve()
		return
	}
	waitFor := []driver.Event{b.kernelEvent}
	for _, out := range b.inv.outputs {
		ev, err := out.buf.ReadInto(out.dst, waitFor)
		if err != nil {
			b.err = err
			break
		}
		b.readEvents = append(b.readEvents, ev)
	}
	if err := b.queue.Flush(); err != nil && b.err == nil {
		b.err = &gpgpu.DeviceError{Op: "flush", Err: err}
	}
	b.enter(ReadbackEnqueued)
	b.enter(AwaitingReadback)
	go b.waitReadback()
}

// waitReadback runs on a background goroutine.
// Reads already enqueued are waited for even if another one failed:
// they write into the memory of the caller.
func (b *bridge) waitReadback() {
	err := b.wait(b.readEvents)
	b.post(func() {
		if err != nil && b.err == nil {
			b.err = &gpgpu.DeviceError{Op: "readback", Err: err}
		}
		b.resolve()
	})
}

// resolve runs on the loop goroutine.
func (b *bridge) resolve() {
	events := append([]driver.Event{}, b.readEvents...)
	if b.kernelEvent != nil {
		events = append(events, b.kernelEvent)
	}
	for _, ev := range events {
		if err := ev.Release(); err != nil {
			b.log.Error(err, "cannot release event")
		}
	}
	b.readEvents, b.kernelEvent = nil, nil
	b.inv.release()
	b.enter(Resolved)
	gpgpu.LogTime(b.log, "launch", b.inv.start)
	if b.err != nil {
		b.log.V(gpgpu.LevelDebug).Info("launch failed", "error", b.err.Error())
		b.promise.Reject(b.err)
	} else {
		b.promise.Resolve(true)
	}
	b.unhold()
	b.done()
}

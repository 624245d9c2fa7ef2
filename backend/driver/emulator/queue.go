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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gx-org/gpgpu/backend/driver"
)

type event struct {
	done     chan struct{}
	err      error
	released atomic.Bool
}

func newEvent() *event {
	return &event{done: make(chan struct{})}
}

func (e *event) complete(err error) {
	e.err = err
	close(e.done)
}

func (e *event) Wait() error {
	if e.released.Load() {
		return driver.NewStatusError(string(OpWaitEvents), driver.InvalidEvent)
	}
	<-e.done
	return e.err
}

func (e *event) Release() error {
	if !e.released.CompareAndSwap(false, true) {
		return driver.NewStatusError("clReleaseEvent", driver.InvalidEvent)
	}
	return nil
}

type command struct {
	cmd     Command
	waitFor []driver.Event
	run     func() error
	event   *event
}

// queue executes commands in order on a single goroutine.
type queue struct {
	ctx *context

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*command
	released bool
	stopped  chan struct{}
}

func newQueue(ctx *context) *queue {
	q := &queue{ctx: ctx, stopped: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.process()
	return q
}

func (q *queue) process() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.released {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		cmd := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		cmd.event.complete(q.execute(cmd))
	}
}

func (q *queue) execute(cmd *command) (err error) {
	for _, ev := range cmd.waitFor {
		if waitErr := ev.Wait(); waitErr != nil {
			return &driver.StatusError{
				Op:     string(cmd.cmd.Op),
				Status: driver.StatusOf(waitErr),
				Err:    fmt.Errorf("event in wait list failed: %w", waitErr),
			}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &driver.StatusError{
				Op:     string(cmd.cmd.Op),
				Status: driver.OutOfResources,
				Err:    fmt.Errorf("panic: %v", r),
			}
		}
	}()
	q.ctx.drv.record(cmd.cmd)
	if cmd.run == nil {
		return nil
	}
	return cmd.run()
}

func (q *queue) enqueue(cmd *command) (*event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, driver.NewStatusError(string(cmd.cmd.Op), driver.InvalidCommandQueue)
	}
	cmd.event = newEvent()
	q.pending = append(q.pending, cmd)
	q.cond.Signal()
	return cmd.event, nil
}

func (q *queue) Write(buf driver.Buffer, data []byte) error {
	if err := q.ctx.drv.fault(OpWrite); err != nil {
		return err
	}
	b, err := asBuffer(OpWrite, buf)
	if err != nil {
		return err
	}
	if len(data) > len(b.mem) {
		return driver.NewStatusError(string(OpWrite), driver.InvalidValue)
	}
	ev, err := q.enqueue(&command{
		cmd: Command{Op: OpWrite, Bytes: len(data)},
		run: func() error {
			copy(b.mem, data)
			return nil
		},
	})
	if err != nil {
		return err
	}
	return ev.Wait()
}

func checkGeometry(global, local []int) error {
	if len(global) < 1 || len(global) > 3 || len(local) != len(global) {
		return driver.NewStatusError(string(OpLaunch), driver.InvalidWorkDimension)
	}
	for i, g := range global {
		if g <= 0 {
			return driver.NewStatusError(string(OpLaunch), driver.InvalidGlobalWorkSize)
		}
		if local[i] <= 0 || g%local[i] != 0 {
			return driver.NewStatusError(string(OpLaunch), driver.InvalidWorkGroupSize)
		}
	}
	return nil
}

func (q *queue) Launch(k driver.Kernel, global, local []int) (driver.Event, error) {
	if err := q.ctx.drv.fault(OpLaunch); err != nil {
		return nil, err
	}
	kern, ok := k.(*kernel)
	if !ok || kern == nil {
		return nil, driver.NewStatusError(string(OpLaunch), driver.InvalidKernel)
	}
	if err := checkGeometry(global, local); err != nil {
		return nil, err
	}
	bufs, err := kern.snapshot()
	if err != nil {
		return nil, err
	}
	global = append([]int{}, global...)
	local = append([]int{}, local...)
	drv := q.ctx.drv
	return q.enqueue(&command{
		cmd: Command{Op: OpLaunch, Kernel: kern.name},
		run: func() error {
			if drv.latency > 0 {
				time.Sleep(drv.latency)
			}
			if err := drv.fault(OpExecute); err != nil {
				return err
			}
			return run(kern.fn, global, local, bufs)
		},
	})
}

func (q *queue) Read(buf driver.Buffer, dst []byte, waitFor []driver.Event) (driver.Event, error) {
	if err := q.ctx.drv.fault(OpRead); err != nil {
		return nil, err
	}
	b, err := asBuffer(OpRead, buf)
	if err != nil {
		return nil, err
	}
	if len(dst) > len(b.mem) {
		return nil, driver.NewStatusError(string(OpRead), driver.InvalidValue)
	}
	return q.enqueue(&command{
		cmd:     Command{Op: OpRead, Bytes: len(dst)},
		waitFor: append([]driver.Event{}, waitFor...),
		run: func() error {
			if b.released.Load() {
				return driver.NewStatusError(string(OpRead), driver.InvalidMemObject)
			}
			copy(dst, b.mem)
			return nil
		},
	})
}

func (q *queue) Flush() error {
	return q.ctx.drv.fault(OpFlush)
}

func (q *queue) Finish() error {
	if err := q.ctx.drv.fault(OpFinish); err != nil {
		return err
	}
	ev, err := q.enqueue(&command{cmd: Command{Op: OpFinish}})
	if err != nil {
		return err
	}
	// A marker completes once every previous command completed:
	// failures of previous commands are reported by their own events.
	ev.Wait()
	return nil
}

func (q *queue) Release() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return driver.NewStatusError("clReleaseCommandQueue", driver.InvalidCommandQueue)
	}
	q.released = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.stopped
	return nil
}

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

// Package host provides the execution model of the caller of kernels.
//
// A Loop runs tasks one at a time on a single goroutine. Tasks never block:
// blocking device waits run on background goroutines which post their
// continuation back onto the loop.
package host

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned when running a loop that has been closed.
var ErrClosed = errors.New("loop closed")

// Loop is a single-goroutine cooperative task queue.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	holds   int
	closing bool
	running bool
	wake    chan struct{}
	done    chan struct{}
}

// New returns a loop. Tasks run once Run is called.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Start returns a loop running on its own goroutine.
func Start() *Loop {
	l := New()
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.Run(context.Background())
	}()
	return l
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post queues fn to run on the loop goroutine.
// Post can be called from any goroutine and never blocks.
// It returns false if the loop has terminated.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing && l.holds == 0 && !l.running {
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.signal()
	return true
}

// Hold prevents a closing loop from terminating until release is called.
// Calling release more than once has no effect.
func (l *Loop) Hold() (release func()) {
	l.mu.Lock()
	l.holds++
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.holds--
			l.mu.Unlock()
			l.signal()
		})
	}
}

// Pending returns the number of holds and queued tasks.
func (l *Loop) Pending() (holds, tasks int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holds, len(l.tasks)
}

// Run executes tasks on the calling goroutine in the order they were posted.
// Run returns nil once the loop is closed, all holds are released and no task is left.
// It returns the context error if ctx is done first.
func (l *Loop) Run(ctx context.Context) error {
	return l.run(ctx, false)
}

func (l *Loop) run(ctx context.Context, untilIdle bool) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.Errorf("loop already running")
	}
	if l.closing && l.holds == 0 && len(l.tasks) == 0 {
		l.mu.Unlock()
		return ErrClosed
	}
	l.running = true
	l.mu.Unlock()
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		if len(tasks) == 0 && (untilIdle || l.closing) && l.holds == 0 {
			l.running = false
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		for _, task := range tasks {
			task()
		}
		if len(tasks) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return ctx.Err()
		}
	}
}

// RunUntilIdle runs the loop until all holds are released and no task is left.
// The loop can be run again afterwards.
func (l *Loop) RunUntilIdle(ctx context.Context) error {
	return l.run(ctx, true)
}

// Close requests the loop to terminate once all holds are released and no task is left.
// For a loop created by Start, Close waits for the loop goroutine to return.
// Close must not be called from the loop goroutine.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
	l.signal()
	if l.done != nil {
		<-l.done
	}
}

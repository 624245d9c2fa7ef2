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

package host

import (
	"context"
	"sync"
)

type (
	// Promise is the producer side of a Future.
	Promise[T any] struct {
		fut *Future[T]
	}

	// Future is a value settled once, either with a value or an error.
	Future[T any] struct {
		loop *Loop

		mu        sync.Mutex
		done      chan struct{}
		settled   bool
		val       T
		err       error
		callbacks []func(T, error)
	}
)

// NewPromise returns a promise. Callbacks registered with Then run on loop.
func NewPromise[T any](loop *Loop) *Promise[T] {
	return &Promise[T]{fut: &Future[T]{
		loop: loop,
		done: make(chan struct{}),
	}}
}

// Future returns the consumer side of the promise.
func (p *Promise[T]) Future() *Future[T] {
	return p.fut
}

// Resolve settles the future with a value.
// It returns false if the future was already settled.
func (p *Promise[T]) Resolve(v T) bool {
	return p.fut.settle(v, nil)
}

// Reject settles the future with an error.
// It returns false if the future was already settled.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.fut.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.val, f.err = v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()
	for _, cb := range callbacks {
		f.post(cb)
	}
	return true
}

func (f *Future[T]) post(cb func(T, error)) {
	val, err := f.val, f.err
	f.loop.Post(func() { cb(val, err) })
}

// Then registers a callback run on the loop once the future is settled.
func (f *Future[T]) Then(cb func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.post(cb)
}

// Done returns a channel closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsSettled returns true if the future has a value or an error.
func (f *Future[T]) IsSettled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the value and the error of a settled future.
// Result must only be called once Done is closed.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err
}

// Await blocks the calling goroutine until the future is settled or ctx is done.
// Await must not be called from the loop goroutine: the loop may be the one settling the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

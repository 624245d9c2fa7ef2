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

package platform

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/host"
)

// ErrClosed is returned when using a session after Close.
var ErrClosed = errors.New("session closed")

type (
	// Option configures a session.
	Option func(*options)

	options struct {
		log  logr.Logger
		loop *host.Loop
	}

	// Session owns the context and the only command queue of one device.
	Session struct {
		drv   driver.Driver
		plat  driver.Platform
		dev   driver.Device
		ctx   driver.Context
		queue driver.Queue

		log      logr.Logger
		loop     *host.Loop
		ownsLoop bool

		mu          sync.Mutex
		closed      bool
		inflight    sync.WaitGroup
		liveBuffers atomic.Int64
	}
)

// WithLogger sets the logger of the session.
// The default logger is gpgpu.LoggerFromEnv.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithLoop sets the loop on which completions are delivered.
// By default, the session starts its own loop and stops it on Close.
func WithLoop(loop *host.Loop) Option {
	return func(o *options) {
		o.loop = loop
	}
}

// New creates a session on the first device of a class on the first platform of a driver.
// Either New returns a complete session or it releases everything it created.
func New(drv driver.Driver, class driver.DeviceClass, opts ...Option) (*Session, error) {
	start := time.Now()
	o := options{log: gpgpu.LoggerFromEnv()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.WithName("session")
	plat, dev, err := Select(drv, class)
	if err != nil {
		log.Error(err, "cannot select a device", "driver", drv.Name(), "class", class)
		return nil, err
	}
	ctx, err := dev.NewContext()
	if err != nil {
		log.Error(err, "cannot create context", "device", dev.Name())
		return nil, &gpgpu.SetupError{Msg: "cannot create context on " + dev.Name(), Err: err}
	}
	queue, err := ctx.NewQueue()
	if err != nil {
		log.Error(err, "cannot create command queue", "device", dev.Name())
		ctx.Release()
		return nil, &gpgpu.SetupError{Msg: "cannot create command queue on " + dev.Name(), Err: err}
	}
	s := &Session{
		drv:   drv,
		plat:  plat,
		dev:   dev,
		ctx:   ctx,
		queue: queue,
		log:   log,
		loop:  o.loop,
	}
	if s.loop == nil {
		s.loop = host.Start()
		s.ownsLoop = true
	}
	log.V(gpgpu.LevelDebug).Info("session created", "platform", plat.Name(), "device", dev.Name(), "class", class)
	gpgpu.LogTime(log, "create session", start)
	return s, nil
}

// Driver used by the session.
func (s *Session) Driver() driver.Driver {
	return s.drv
}

// Platform of the device.
func (s *Session) Platform() driver.Platform {
	return s.plat
}

// Device of the session.
func (s *Session) Device() driver.Device {
	return s.dev
}

// Context returns the device context.
func (s *Session) Context() driver.Context {
	return s.ctx
}

// Queue returns the command queue shared by all invocations.
func (s *Session) Queue() driver.Queue {
	return s.queue
}

// Loop on which completions are delivered.
func (s *Session) Loop() *host.Loop {
	return s.loop
}

// Logger of the session.
func (s *Session) Logger() logr.Logger {
	return s.log
}

// LiveBuffers returns the number of buffers allocated by the session and not released.
func (s *Session) LiveBuffers() int {
	return int(s.liveBuffers.Load())
}

// Track registers an in-flight invocation. Close waits for done to be called.
func (s *Session) Track() (done func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.inflight.Add(1)
	var once sync.Once
	return func() { once.Do(s.inflight.Done) }, nil
}

// Close flushes the queue, waits for the device to be idle and for all
// in-flight invocations to complete, then releases the queue and the context.
// Close must not be called from the loop goroutine.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	start := time.Now()
	var errs []error
	if err := s.queue.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := s.queue.Finish(); err != nil {
		errs = append(errs, err)
	}
	s.inflight.Wait()
	if s.ownsLoop {
		s.loop.Close()
	}
	if err := s.queue.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.ctx.Release(); err != nil {
		errs = append(errs, err)
	}
	gpgpu.LogTime(s.log, "close session", start)
	if len(errs) > 0 {
		s.log.Error(errs[0], "session teardown failed", "errors", len(errs))
		return &gpgpu.DeviceError{Op: "teardown", Err: errs[0]}
	}
	return nil
}
